package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/neomorfeo/routesphere/internal/domain"
)

// ActionKind is what the pipeline does with an admitted request.
type ActionKind string

const (
	ActionStateMachine ActionKind = "STATE_MACHINE"
	ActionFlow         ActionKind = "FLOW"
	ActionRoute        ActionKind = "ROUTE"
	ActionProxy        ActionKind = "PROXY"
	ActionRedirect     ActionKind = "REDIRECT"
)

// DefaultActions maps protocols to actions. Protocols missing from the
// table are proxied.
var DefaultActions = map[domain.Protocol]ActionKind{
	domain.ProtocolSIPUDP: ActionStateMachine,
	domain.ProtocolSIPTCP: ActionStateMachine,
	domain.ProtocolSIPTLS: ActionStateMachine,
	domain.ProtocolHTTP:   ActionFlow,
	domain.ProtocolHTTPS:  ActionFlow,
	domain.ProtocolESL:    ActionFlow,
	domain.ProtocolSMS:    ActionRoute,
}

// ActionConfig tunes ActionExecution.
type ActionConfig struct {
	Actions      map[domain.Protocol]ActionKind
	Destinations map[domain.Protocol]string
	Upstreams    []string
	RedirectBase string
}

// DefaultActionConfig returns the built-in action table and targets.
func DefaultActionConfig() ActionConfig {
	return ActionConfig{
		Actions: DefaultActions,
		Destinations: map[domain.Protocol]string{
			domain.ProtocolSIPUDP: "sip:gateway.routesphere.local:5060",
			domain.ProtocolSIPTCP: "sip:gateway.routesphere.local:5060",
			domain.ProtocolHTTP:   "https://api.backend.routesphere.local",
			domain.ProtocolHTTPS:  "https://api.backend.routesphere.local",
			domain.ProtocolESL:    "freeswitch-node-1.routesphere.local",
		},
		Upstreams:    []string{"upstream-1.routesphere.local", "upstream-2.routesphere.local", "upstream-3.routesphere.local"},
		RedirectBase: "https://redirect.routesphere.local/handle/",
	}
}

const flowPayload = `{"flow_result":"success","next_action":"route_to_destination"}`

// ActionExecution picks an action for the request protocol and renders the
// response for it.
type ActionExecution struct {
	cfg  ActionConfig
	next atomic.Uint64
}

// NewActionExecution creates the processor. A nil cfg uses DefaultActionConfig.
func NewActionExecution(cfg *ActionConfig) *ActionExecution {
	c := DefaultActionConfig()
	if cfg != nil {
		c = *cfg
	}
	return &ActionExecution{cfg: c}
}

func (p *ActionExecution) Name() string { return "action-execution" }
func (p *ActionExecution) Order() int   { return 400 }

func (p *ActionExecution) Process(_ context.Context, rc *domain.RoutingContext) (bool, error) {
	if err := rc.MoveTo(domain.StageRoutingDecision); err != nil {
		return false, err
	}
	kind := p.actionFor(rc.Request().Protocol())

	if err := rc.MoveTo(domain.StageActionExecution); err != nil {
		return false, err
	}

	resp := rc.Response()
	req := rc.Request()
	switch kind {
	case ActionStateMachine:
		id := "sm-" + uuid.NewString()
		resp = resp.WithType(domain.ResponseStateMachine).
			WithStatus(200, "State machine triggered").
			WithStateMachine(id).
			WithHeader("X-State-Machine-Id", id).
			WithHeader("X-Initial-State", "IDLE")
		rc.SetAttribute("state_machine_id", id)
	case ActionFlow:
		id := "flow-" + uuid.NewString()
		resp = resp.WithType(domain.ResponseFlow).
			WithStatus(200, "Flow executed").
			WithFlow(id).
			WithHeader("X-Flow-Id", id).
			WithHeader("X-Flow-Type", "routing-flow").
			WithPayload([]byte(flowPayload))
	case ActionRoute:
		resp = resp.WithType(domain.ResponseRoute).
			WithStatus(200, "Routed successfully").
			WithHeader("X-Route-Destination", p.destination(req)).
			WithHeader("X-Route-Method", "DIRECT")
	case ActionProxy:
		resp = resp.WithType(domain.ResponseProxy).
			WithStatus(200, "Proxied to upstream").
			WithHeader("X-Upstream-Server", p.upstream()).
			WithHeader("X-Proxy-Mode", "TRANSPARENT")
	case ActionRedirect:
		resp = resp.WithType(domain.ResponseRedirect).
			WithStatus(302, "Redirected").
			WithHeader("Location", p.cfg.RedirectBase+req.ID())
	default:
		rc.Fail(domain.ErrorResponse(500, fmt.Sprintf("Unknown action type: %s", kind)))
		return false, nil
	}

	if err := rc.MoveTo(domain.StageResponseGeneration); err != nil {
		return false, err
	}
	rc.SetResponse(resp)
	return true, nil
}

func (p *ActionExecution) actionFor(protocol domain.Protocol) ActionKind {
	if kind, ok := p.cfg.Actions[protocol]; ok {
		return kind
	}
	return ActionProxy
}

func (p *ActionExecution) destination(req domain.RoutingRequest) string {
	if d := req.Destination(); d != "" {
		return d
	}
	if d, ok := p.cfg.Destinations[req.Protocol()]; ok {
		return d
	}
	return "default.routesphere.local"
}

func (p *ActionExecution) upstream() string {
	if len(p.cfg.Upstreams) == 0 {
		return "default.routesphere.local"
	}
	n := p.next.Add(1) - 1
	return p.cfg.Upstreams[n%uint64(len(p.cfg.Upstreams))]
}
