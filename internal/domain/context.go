package domain

import "maps"

// Stage marks how far a request has progressed through the pipeline.
type Stage int

const (
	StageReceived Stage = iota
	StageTenantIdentification
	StageAdmissionAuth
	StageAdmissionAuthz
	StageBusinessRules
	StageRoutingDecision
	StageActionExecution
	StageResponseGeneration
	StageCompleted
	StageFailed
)

var stageNames = [...]string{
	"RECEIVED",
	"TENANT_IDENTIFICATION",
	"ADMISSION_AUTH",
	"ADMISSION_AUTHZ",
	"BUSINESS_RULES",
	"ROUTING_DECISION",
	"ACTION_EXECUTION",
	"RESPONSE_GENERATION",
	"COMPLETED",
	"FAILED",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "UNKNOWN"
	}
	return stageNames[s]
}

// Terminal reports whether no further stage change is possible.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// RoutingContext carries the state of one request through the pipeline.
// It is owned by a single goroutine and never shared between requests.
type RoutingContext struct {
	request       RoutingRequest
	response      RoutingResponse
	tenant        *Tenant
	attributes    map[string]any
	ruleOutputs   map[string]any
	authenticated bool
	authorized    bool
	stage         Stage
	cleanups      []func()
}

// NewRoutingContext starts a context in the RECEIVED stage with the
// default response.
func NewRoutingContext(req RoutingRequest) *RoutingContext {
	return &RoutingContext{
		request:     req,
		response:    NewResponse(),
		attributes:  make(map[string]any),
		ruleOutputs: make(map[string]any),
		stage:       StageReceived,
	}
}

func (c *RoutingContext) Request() RoutingRequest       { return c.request }
func (c *RoutingContext) Response() RoutingResponse     { return c.response }
func (c *RoutingContext) SetResponse(r RoutingResponse) { c.response = r }
func (c *RoutingContext) Stage() Stage                  { return c.stage }

// Tenant returns the tenant identified for this request, if any.
func (c *RoutingContext) Tenant() (Tenant, bool) {
	if c.tenant == nil {
		return Tenant{}, false
	}
	return c.tenant.Clone(), true
}

// SetTenant stores a snapshot of t.
func (c *RoutingContext) SetTenant(t Tenant) {
	snapshot := t.Clone()
	c.tenant = &snapshot
}

func (c *RoutingContext) Attribute(key string) (any, bool) {
	v, ok := c.attributes[key]
	return v, ok
}

func (c *RoutingContext) SetAttribute(key string, value any) {
	c.attributes[key] = value
}

// Attributes returns a copy of all attributes.
func (c *RoutingContext) Attributes() map[string]any {
	return maps.Clone(c.attributes)
}

func (c *RoutingContext) RuleOutput(key string) (any, bool) {
	v, ok := c.ruleOutputs[key]
	return v, ok
}

func (c *RoutingContext) SetRuleOutput(key string, value any) {
	c.ruleOutputs[key] = value
}

// RuleOutputs returns a copy of the business rule outputs.
func (c *RoutingContext) RuleOutputs() map[string]any {
	return maps.Clone(c.ruleOutputs)
}

func (c *RoutingContext) Authenticated() bool     { return c.authenticated }
func (c *RoutingContext) SetAuthenticated(v bool) { c.authenticated = v }
func (c *RoutingContext) Authorized() bool        { return c.authorized }
func (c *RoutingContext) SetAuthorized(v bool)    { c.authorized = v }

// MoveTo advances the stage. Moving to the current stage is a no-op,
// FAILED is reachable from any non-terminal stage, and every other move
// must go forward.
func (c *RoutingContext) MoveTo(next Stage) error {
	switch {
	case next == c.stage:
		return nil
	case c.stage.Terminal():
		return &StageError{From: c.stage, To: next}
	case next == StageFailed:
		c.stage = next
		return nil
	case next < c.stage:
		return &StageError{From: c.stage, To: next}
	}
	c.stage = next
	return nil
}

// Fail moves the context to FAILED and records resp as the outcome.
func (c *RoutingContext) Fail(resp RoutingResponse) {
	if !c.stage.Terminal() {
		c.stage = StageFailed
	}
	c.response = resp
}

// Defer registers fn to run once the pipeline has finished with the request.
func (c *RoutingContext) Defer(fn func()) {
	c.cleanups = append(c.cleanups, fn)
}

// Release runs the registered cleanups in reverse order. Subsequent calls
// do nothing.
func (c *RoutingContext) Release() {
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		c.cleanups[i]()
	}
	c.cleanups = nil
}
