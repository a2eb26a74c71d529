package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/neomorfeo/routesphere/internal/domain"
)

// Rule output keys written by BusinessRules.
const (
	OutputRulesApplied      = "rules_applied"
	OutputRoutingPreference = "routing_preference"
)

// BusinessRules evaluates the rules contributed by every tenant on the
// request's path, root first. The first violated rule rejects the request.
type BusinessRules struct {
	hierarchy *domain.Hierarchy
	source    RuleSource
}

// NewBusinessRules creates the processor. A nil source uses a fresh LevelRules.
func NewBusinessRules(hierarchy *domain.Hierarchy, source RuleSource) *BusinessRules {
	if source == nil {
		source = NewLevelRules()
	}
	return &BusinessRules{hierarchy: hierarchy, source: source}
}

func (p *BusinessRules) Name() string { return "business-rules" }
func (p *BusinessRules) Order() int   { return 300 }

func (p *BusinessRules) Process(ctx context.Context, rc *domain.RoutingContext) (bool, error) {
	if err := rc.MoveTo(domain.StageBusinessRules); err != nil {
		return false, err
	}

	tenant, ok := rc.Tenant()
	if !ok {
		return false, errors.New("business rules require an identified tenant")
	}

	var rules []Rule
	for _, t := range p.hierarchy.PathFromRoot(tenant.ID) {
		contributed, err := p.source.Rules(t)
		if err != nil {
			return false, fmt.Errorf("loading rules: %w", err)
		}
		rules = append(rules, contributed...)
	}

	applied := make([]string, 0, len(rules))
	for _, rule := range rules {
		if err := rule.Evaluate(ctx, rc); err != nil {
			var violation *domain.RuleViolation
			if errors.As(err, &violation) {
				rc.Fail(domain.RejectedResponse(403, "Business rule violation: "+violation.Rule))
				return false, nil
			}
			return false, err
		}
		applied = append(applied, rule.Name())
	}

	rc.SetRuleOutput(OutputRulesApplied, applied)
	rc.SetRuleOutput(OutputRoutingPreference, RoutingPreference(rc.Request().Protocol()))
	return true, nil
}

// RoutingPreference names the backend family that should serve protocol.
func RoutingPreference(p domain.Protocol) string {
	switch {
	case p.IsSIP():
		return "sip-routing-engine"
	case p.IsHTTP():
		return "http-balancer"
	case p == domain.ProtocolESL:
		return "freeswitch-cluster"
	default:
		return "default-router"
	}
}
