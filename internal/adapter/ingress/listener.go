// Package ingress implements the HTTP server channel: a chi router mounted
// under a context path that turns each request into a RoutingRequest and
// renders the pipeline's RoutingResponse back to the caller.
package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"

	"github.com/neomorfeo/routesphere/internal/channel"
	"github.com/neomorfeo/routesphere/internal/domain"
)

// Request headers with routing meaning.
const (
	HeaderTenantID  = "X-Tenant-ID"
	HeaderRequestID = "X-Request-ID"
)

const maxBodyBytes = 1 << 20

// Settings are the protocol specific options of an HTTP channel. They are
// read from the "http" block of the channel file or from its top level.
type Settings struct {
	ContextPath string   `mapstructure:"context-path"`
	Methods     []string `mapstructure:"methods"`
	Endpoints   []string `mapstructure:"endpoints"`
}

// DefaultContextPath is where endpoints are mounted when none is configured.
const DefaultContextPath = "/api"

var defaultMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}

// ParseSettings extracts the HTTP settings of cfg.
func ParseSettings(cfg domain.ChannelConfig) (Settings, error) {
	s := Settings{ContextPath: DefaultContextPath}
	if err := channel.Decode(cfg.ProtocolSpecific, &s); err != nil {
		return s, err
	}
	if nested, ok := cfg.ProtocolSpecific["http"].(map[string]any); ok {
		if err := channel.Decode(nested, &s); err != nil {
			return s, err
		}
	}
	if p, ok := cfg.Connection["context-path"].(string); ok {
		s.ContextPath = p
	}
	methods := s.Methods
	if len(methods) == 0 {
		methods = defaultMethods
	}
	s.Methods = make([]string, len(methods))
	for i, m := range methods {
		s.Methods[i] = strings.ToUpper(m)
	}
	s.ContextPath = "/" + strings.Trim(s.ContextPath, "/")
	return s, nil
}

// Listener serves HTTP for one channel.
type Listener struct {
	name     string
	settings Settings

	mu   sync.Mutex
	srv  *http.Server
	addr net.Addr
	done chan struct{}
}

var _ channel.Listener = (*Listener)(nil)

// NewListener returns a listener for the named channel.
func NewListener(name string, settings Settings) *Listener {
	return &Listener{name: name, settings: settings}
}

// NewChannel is the channel.Constructor for the http protocol.
func NewChannel(cfg domain.ChannelConfig, deps channel.Deps) (channel.Channel, error) {
	settings, err := ParseSettings(cfg)
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", cfg.Name, err)
	}
	return channel.NewServer(cfg, deps, NewListener(cfg.Name, settings))
}

// Handler builds the router that feeds sink.
func (l *Listener) Handler(sink channel.EventSink) http.Handler {
	h := &handler{sink: sink}

	routes := chi.NewRouter()
	if len(l.settings.Endpoints) == 0 {
		for _, m := range l.settings.Methods {
			routes.Method(m, "/*", h)
		}
	}
	for _, ep := range l.settings.Endpoints {
		for _, m := range l.settings.Methods {
			routes.Method(m, "/"+strings.TrimLeft(ep, "/"), h)
		}
	}

	root := chi.NewRouter()
	root.Use(middleware.Recoverer)
	root.Use(otelchi.Middleware("ingress-"+l.name, otelchi.WithChiRoutes(root)))
	if l.settings.ContextPath == "/" {
		root.Mount("/", routes)
	} else {
		root.Mount(l.settings.ContextPath, routes)
	}
	return root
}

// Start binds addr and serves in the background.
func (l *Listener) Start(_ context.Context, addr string, sink channel.EventSink) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           l.Handler(sink),
		ReadHeaderTimeout: 10 * time.Second,
	}
	done := make(chan struct{})

	l.mu.Lock()
	l.srv, l.addr, l.done = srv, ln.Addr(), done
	l.mu.Unlock()

	go func() {
		defer close(done)
		_ = srv.Serve(ln)
	}()
	return nil
}

// Stop shuts the server down gracefully and waits for Serve to return.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	srv, done := l.srv, l.done
	l.srv, l.addr, l.done = nil, nil, nil
	l.mu.Unlock()

	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	<-done
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr is the bound address while serving, or nil.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}

type handler struct {
	sink channel.EventSink
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	resp := h.sink.ProcessEvent(r.Context(), toRoutingRequest(r, body))
	Render(w, resp)
}

func toRoutingRequest(r *http.Request, body []byte) domain.RoutingRequest {
	protocol := domain.ProtocolHTTP
	if r.TLS != nil {
		protocol = domain.ProtocolHTTPS
	}
	opts := []domain.RequestOption{
		domain.WithSource(r.RemoteAddr),
		domain.WithDestination(r.URL.Path),
		domain.WithHeader(":method", r.Method),
	}
	if id := r.Header.Get(HeaderRequestID); id != "" {
		opts = append(opts, domain.WithRequestID(id))
	}
	if tenant := r.Header.Get(HeaderTenantID); tenant != "" {
		opts = append(opts, domain.WithTenantID(tenant))
	}
	for name, values := range r.Header {
		for _, v := range values {
			opts = append(opts, domain.WithHeader(name, v))
		}
	}
	if r.URL.RawQuery != "" {
		opts = append(opts, domain.WithHeader(":query", r.URL.RawQuery))
	}
	if len(body) > 0 {
		opts = append(opts, domain.WithPayload(body))
	}
	return domain.NewRoutingRequest(protocol, opts...)
}

type responseBody struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Status         int    `json:"status"`
	Message        string `json:"message,omitempty"`
	StateMachineID string `json:"stateMachineId,omitempty"`
	FlowID         string `json:"flowId,omitempty"`
}

// Render writes resp as an HTTP response. A response payload is sent as is;
// otherwise the body is a JSON summary of the response.
func Render(w http.ResponseWriter, resp domain.RoutingResponse) {
	for _, h := range resp.Headers {
		w.Header().Add(h.Name, h.Value)
	}
	code := resp.StatusCode
	if code < 100 || code > 999 {
		code = http.StatusInternalServerError
	}

	if len(resp.Payload) > 0 {
		w.WriteHeader(code)
		_, _ = w.Write(resp.Payload)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(responseBody{
		ID:             resp.ID,
		Type:           string(resp.Type),
		Status:         resp.StatusCode,
		Message:        resp.StatusMessage,
		StateMachineID: resp.StateMachineID,
		FlowID:         resp.FlowID,
	})
}
