package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Protocol is the wire protocol a request arrived on.
type Protocol string

const (
	ProtocolHTTP   Protocol = "http"
	ProtocolHTTPS  Protocol = "https"
	ProtocolSIPUDP Protocol = "sip-udp"
	ProtocolSIPTCP Protocol = "sip-tcp"
	ProtocolSIPTLS Protocol = "sip-tls"
	ProtocolSMS    Protocol = "sms"
	ProtocolESL    Protocol = "esl"
)

// Protocols lists every supported protocol.
var Protocols = []Protocol{
	ProtocolHTTP,
	ProtocolHTTPS,
	ProtocolSIPUDP,
	ProtocolSIPTCP,
	ProtocolSIPTLS,
	ProtocolSMS,
	ProtocolESL,
}

// ParseProtocol returns the protocol named s.
func ParseProtocol(s string) (Protocol, error) {
	p := Protocol(strings.ToLower(s))
	if !slices.Contains(Protocols, p) {
		return "", fmt.Errorf("unknown protocol %q", s)
	}
	return p, nil
}

// DefaultPort returns the well-known port of p, or 0 when there is none.
func (p Protocol) DefaultPort() int {
	switch p {
	case ProtocolHTTP:
		return 80
	case ProtocolHTTPS:
		return 443
	case ProtocolSIPUDP, ProtocolSIPTCP:
		return 5060
	case ProtocolSIPTLS:
		return 5061
	case ProtocolESL:
		return 8021
	default:
		return 0
	}
}

func (p Protocol) IsSIP() bool {
	return p == ProtocolSIPUDP || p == ProtocolSIPTCP || p == ProtocolSIPTLS
}

func (p Protocol) IsHTTP() bool {
	return p == ProtocolHTTP || p == ProtocolHTTPS
}

// Header is a single name/value pair. Order of headers is preserved.
type Header struct {
	Name  string
	Value string
}

func lookupHeader(headers []Header, name string) (string, bool) {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// RoutingRequest is a normalized inbound event. It cannot be modified after
// construction; accessors return copies.
type RoutingRequest struct {
	id          string
	protocol    Protocol
	source      string
	destination string
	tenantID    string
	headers     []Header
	payload     []byte
	timestamp   time.Time
	profile     string
}

// RequestOption configures a RoutingRequest under construction.
type RequestOption func(*RoutingRequest)

func WithRequestID(id string) RequestOption {
	return func(r *RoutingRequest) { r.id = id }
}

func WithSource(source string) RequestOption {
	return func(r *RoutingRequest) { r.source = source }
}

func WithDestination(destination string) RequestOption {
	return func(r *RoutingRequest) { r.destination = destination }
}

func WithTenantID(id string) RequestOption {
	return func(r *RoutingRequest) { r.tenantID = id }
}

// WithHeader appends a header; repeated names are kept in order.
func WithHeader(name, value string) RequestOption {
	return func(r *RoutingRequest) { r.headers = append(r.headers, Header{Name: name, Value: value}) }
}

func WithPayload(payload []byte) RequestOption {
	return func(r *RoutingRequest) { r.payload = slices.Clone(payload) }
}

func WithTimestamp(ts time.Time) RequestOption {
	return func(r *RoutingRequest) { r.timestamp = ts }
}

func WithProfile(profile string) RequestOption {
	return func(r *RoutingRequest) { r.profile = profile }
}

// NewRoutingRequest builds a request for protocol. A random id and the
// current time are used unless overridden.
func NewRoutingRequest(protocol Protocol, opts ...RequestOption) RoutingRequest {
	r := RoutingRequest{protocol: protocol}
	for _, opt := range opts {
		opt(&r)
	}
	if r.id == "" {
		r.id = uuid.NewString()
	}
	if r.timestamp.IsZero() {
		r.timestamp = time.Now().UTC()
	}
	return r
}

func (r RoutingRequest) ID() string           { return r.id }
func (r RoutingRequest) Protocol() Protocol   { return r.protocol }
func (r RoutingRequest) Source() string       { return r.source }
func (r RoutingRequest) Destination() string  { return r.destination }
func (r RoutingRequest) TenantID() string     { return r.tenantID }
func (r RoutingRequest) Timestamp() time.Time { return r.timestamp }
func (r RoutingRequest) Profile() string      { return r.profile }
func (r RoutingRequest) Headers() []Header    { return slices.Clone(r.headers) }
func (r RoutingRequest) Payload() []byte      { return slices.Clone(r.payload) }

// WithOwner returns a copy of r whose tenant and profile are set to the
// given values where r leaves them empty.
func (r RoutingRequest) WithOwner(tenantID, profile string) RoutingRequest {
	out := r
	out.headers = slices.Clone(r.headers)
	out.payload = slices.Clone(r.payload)
	if out.tenantID == "" {
		out.tenantID = tenantID
	}
	if out.profile == "" {
		out.profile = profile
	}
	return out
}

// Header returns the first header named name, compared case-insensitively.
func (r RoutingRequest) Header(name string) (string, bool) {
	return lookupHeader(r.headers, name)
}

// ResponseType classifies the outcome of routing.
type ResponseType string

const (
	ResponseDirect        ResponseType = "DIRECT_RESPONSE"
	ResponseStateMachine  ResponseType = "STATE_MACHINE"
	ResponseFlowInitiated ResponseType = "FLOW_INITIATED"
	ResponseFlow          ResponseType = "FLOW"
	ResponseForwarded     ResponseType = "FORWARDED"
	ResponseRoute         ResponseType = "ROUTE"
	ResponseProxy         ResponseType = "PROXY"
	ResponseRedirect      ResponseType = "REDIRECT"
	ResponseRejected      ResponseType = "REJECTED"
	ResponseError         ResponseType = "ERROR"
	ResponseSuccess       ResponseType = "SUCCESS"
	ResponseTimeout       ResponseType = "TIMEOUT"
)

// RoutingResponse is the outcome handed back to a channel. It is a value:
// the With methods return modified copies and never alias the receiver's
// headers or payload.
type RoutingResponse struct {
	ID             string
	Type           ResponseType
	StatusCode     int
	StatusMessage  string
	Headers        []Header
	Payload        []byte
	StateMachineID string
	FlowID         string
}

// NewResponse returns the default DIRECT_RESPONSE/200 response.
func NewResponse() RoutingResponse {
	return RoutingResponse{
		ID:            uuid.NewString(),
		Type:          ResponseDirect,
		StatusCode:    200,
		StatusMessage: "OK",
	}
}

// ErrorResponse returns an ERROR response with the given status.
func ErrorResponse(code int, message string) RoutingResponse {
	return NewResponse().WithType(ResponseError).WithStatus(code, message)
}

// RejectedResponse returns a REJECTED response with the given status.
func RejectedResponse(code int, message string) RoutingResponse {
	return NewResponse().WithType(ResponseRejected).WithStatus(code, message)
}

// RedirectResponse returns a 302 REDIRECT pointing at location.
func RedirectResponse(location string) RoutingResponse {
	return NewResponse().
		WithType(ResponseRedirect).
		WithStatus(302, "Redirect").
		WithHeader("Location", location)
}

func (r RoutingResponse) clone() RoutingResponse {
	r.Headers = slices.Clone(r.Headers)
	r.Payload = slices.Clone(r.Payload)
	return r
}

func (r RoutingResponse) WithType(t ResponseType) RoutingResponse {
	out := r.clone()
	out.Type = t
	return out
}

func (r RoutingResponse) WithStatus(code int, message string) RoutingResponse {
	out := r.clone()
	out.StatusCode = code
	out.StatusMessage = message
	return out
}

// WithHeader replaces an existing header of the same name or appends a new one.
func (r RoutingResponse) WithHeader(name, value string) RoutingResponse {
	out := r.clone()
	for i, h := range out.Headers {
		if strings.EqualFold(h.Name, name) {
			out.Headers[i].Value = value
			return out
		}
	}
	out.Headers = append(out.Headers, Header{Name: name, Value: value})
	return out
}

func (r RoutingResponse) WithPayload(payload []byte) RoutingResponse {
	out := r.clone()
	out.Payload = slices.Clone(payload)
	return out
}

func (r RoutingResponse) WithStateMachine(id string) RoutingResponse {
	out := r.clone()
	out.StateMachineID = id
	return out
}

func (r RoutingResponse) WithFlow(id string) RoutingResponse {
	out := r.clone()
	out.FlowID = id
	return out
}

// Header returns the first header named name, compared case-insensitively.
func (r RoutingResponse) Header(name string) (string, bool) {
	return lookupHeader(r.Headers, name)
}

// IsSuccess reports whether the response represents a 2xx outcome.
func (r RoutingResponse) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
