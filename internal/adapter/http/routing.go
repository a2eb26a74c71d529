package http

import (
	"context"
	"net/http"
	"sort"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/routesphere/internal/domain"
)

// Dispatcher routes a request through a named or protocol pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, pipeline string, req domain.RoutingRequest) domain.RoutingResponse
}

type RouteInput struct {
	Body struct {
		Protocol    string            `json:"protocol" enum:"http,https,sip-udp,sip-tcp,sip-tls,sms,esl" doc:"Protocol the request is routed as"`
		Pipeline    string            `json:"pipeline,omitempty" doc:"Named pipeline, defaults to the protocol pipeline"`
		TenantID    string            `json:"tenantId,omitempty" doc:"Tenant the request belongs to"`
		Source      string            `json:"source,omitempty" doc:"Originating address"`
		Destination string            `json:"destination,omitempty" doc:"Target address"`
		Headers     map[string]string `json:"headers,omitempty" doc:"Request headers"`
		Payload     string            `json:"payload,omitempty" doc:"Request body"`
	}
}

// RouteResponse is the API representation of a routing outcome.
type RouteResponse struct {
	ID             string            `json:"id" doc:"Response identifier"`
	RequestID      string            `json:"requestId" doc:"Identifier of the routed request"`
	Type           string            `json:"type" doc:"Outcome kind"`
	StatusCode     int               `json:"statusCode" doc:"Protocol status code"`
	StatusMessage  string            `json:"statusMessage" doc:"Status text"`
	Headers        map[string]string `json:"headers" doc:"Response headers"`
	Payload        string            `json:"payload,omitempty" doc:"Response body"`
	StateMachineID string            `json:"stateMachineId,omitempty" doc:"Call state machine, for SIP"`
	FlowID         string            `json:"flowId,omitempty" doc:"Started flow"`
}

type RouteOutput struct {
	Body RouteResponse
}

// RegisterRouting adds the diagnostic route endpoint. The routing outcome
// is returned as data; the HTTP status is 200 whatever the outcome.
func RegisterRouting(api huma.API, router Dispatcher) {
	huma.Register(api, huma.Operation{
		OperationID: "route-request",
		Method:      http.MethodPost,
		Path:        "/api/v1/route",
		Summary:     "Route a synthetic request through the pipelines",
		Tags:        []string{"Routing"},
	}, func(ctx context.Context, input *RouteInput) (*RouteOutput, error) {
		protocol, err := domain.ParseProtocol(input.Body.Protocol)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		opts := []domain.RequestOption{
			domain.WithTenantID(input.Body.TenantID),
			domain.WithSource(input.Body.Source),
			domain.WithDestination(input.Body.Destination),
		}
		names := make([]string, 0, len(input.Body.Headers))
		for name := range input.Body.Headers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			opts = append(opts, domain.WithHeader(name, input.Body.Headers[name]))
		}
		if input.Body.Payload != "" {
			opts = append(opts, domain.WithPayload([]byte(input.Body.Payload)))
		}
		req := domain.NewRoutingRequest(protocol, opts...)

		resp := router.Dispatch(ctx, input.Body.Pipeline, req)
		return &RouteOutput{Body: toRouteResponse(req, resp)}, nil
	})
}

func toRouteResponse(req domain.RoutingRequest, resp domain.RoutingResponse) RouteResponse {
	headers := make(map[string]string, len(resp.Headers))
	for _, h := range resp.Headers {
		headers[h.Name] = h.Value
	}
	return RouteResponse{
		ID:             resp.ID,
		RequestID:      req.ID(),
		Type:           string(resp.Type),
		StatusCode:     resp.StatusCode,
		StatusMessage:  resp.StatusMessage,
		Headers:        headers,
		Payload:        string(resp.Payload),
		StateMachineID: resp.StateMachineID,
		FlowID:         resp.FlowID,
	}
}
