package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"golang.org/x/time/rate"

	"github.com/neomorfeo/routesphere/internal/domain"
)

// Rule is a single business rule. Evaluate returns a *domain.RuleViolation
// to deny the request; any other error aborts the pipeline.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, rc *domain.RoutingContext) error
}

// RuleSource yields the rules one tenant contributes. The business rules
// processor asks every tenant on the path, root first.
type RuleSource interface {
	Rules(tenant domain.Tenant) ([]Rule, error)
}

// Tenant property keys understood by LevelRules.
const (
	PropRateLimit     = "rate_limit"
	PropRateBurst     = "rate_burst"
	PropQuota         = "quota"
	PropQuotaWindow   = "quota_window"
	PropMaxConcurrent = "max_concurrent"
	PropRulePrefix    = "rule."
)

// Defaults applied when a tenant sets no threshold.
const (
	DefaultRateLimit     = 1000
	DefaultQuota         = 5000
	DefaultQuotaWindow   = time.Hour
	DefaultMaxConcurrent = 10
)

// LevelRules is the default RuleSource. The root contributes a request rate
// limit, resellers a request quota, and end users a concurrency cap. Any
// tenant may add boolean expressions through rule.<name> properties.
//
// Limiter state is kept per tenant and lives as long as the LevelRules.
type LevelRules struct {
	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	quotas     map[string]*quotaCounter
	concurrent map[string]*atomic.Int64
	programs   map[string]*vm.Program
	now        func() time.Time
}

// NewLevelRules returns an empty rule source.
func NewLevelRules() *LevelRules {
	return &LevelRules{
		limiters:   make(map[string]*rate.Limiter),
		quotas:     make(map[string]*quotaCounter),
		concurrent: make(map[string]*atomic.Int64),
		programs:   make(map[string]*vm.Program),
		now:        time.Now,
	}
}

// Rules implements RuleSource.
func (s *LevelRules) Rules(tenant domain.Tenant) ([]Rule, error) {
	var rules []Rule

	switch {
	case tenant.IsRoot():
		limit := intProperty(tenant, PropRateLimit, DefaultRateLimit)
		burst := intProperty(tenant, PropRateBurst, limit)
		rules = append(rules, &rateLimitRule{limiter: s.limiter(tenant.ID, limit, burst)})
	case tenant.IsReseller():
		limit := intProperty(tenant, PropQuota, DefaultQuota)
		window := durationProperty(tenant, PropQuotaWindow, DefaultQuotaWindow)
		rules = append(rules, &quotaRule{counter: s.quota(tenant.ID, int64(limit), window), now: s.now})
	case tenant.IsEndUser():
		limit := intProperty(tenant, PropMaxConcurrent, DefaultMaxConcurrent)
		rules = append(rules, &concurrencyRule{limit: int64(limit), inFlight: s.inFlight(tenant.ID)})
	}

	exprRules, err := s.expressionRules(tenant)
	if err != nil {
		return nil, err
	}
	return append(rules, exprRules...), nil
}

func (s *LevelRules) limiter(tenantID string, limit, burst int) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.limiters[tenantID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(limit), burst)
		s.limiters[tenantID] = l
		return l
	}
	if l.Limit() != rate.Limit(limit) {
		l.SetLimit(rate.Limit(limit))
	}
	if l.Burst() != burst {
		l.SetBurst(burst)
	}
	return l
}

func (s *LevelRules) quota(tenantID string, limit int64, window time.Duration) *quotaCounter {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quotas[tenantID]
	if !ok {
		q = &quotaCounter{}
		s.quotas[tenantID] = q
	}
	q.configure(limit, window)
	return q
}

func (s *LevelRules) inFlight(tenantID string) *atomic.Int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.concurrent[tenantID]
	if !ok {
		c = &atomic.Int64{}
		s.concurrent[tenantID] = c
	}
	return c
}

// InFlight reports the number of admitted, unfinished requests of an end user.
func (s *LevelRules) InFlight(tenantID string) int64 {
	return s.inFlight(tenantID).Load()
}

func (s *LevelRules) expressionRules(tenant domain.Tenant) ([]Rule, error) {
	names := make([]string, 0)
	for key := range tenant.Properties {
		if strings.HasPrefix(key, PropRulePrefix) {
			names = append(names, strings.TrimPrefix(key, PropRulePrefix))
		}
	}
	sort.Strings(names)

	rules := make([]Rule, 0, len(names))
	for _, name := range names {
		source := tenant.Properties[PropRulePrefix+name]
		program, err := s.compile(source)
		if err != nil {
			return nil, fmt.Errorf("compiling rule %q of tenant %s: %w", name, tenant.ID, err)
		}
		rules = append(rules, &exprRule{name: name, program: program, now: s.now})
	}
	return rules, nil
}

func (s *LevelRules) compile(source string) (*vm.Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.programs[source]; ok {
		return p, nil
	}
	p, err := expr.Compile(source, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, err
	}
	s.programs[source] = p
	return p, nil
}

type rateLimitRule struct {
	limiter *rate.Limiter
}

func (r *rateLimitRule) Name() string { return "global-rate-limit" }

func (r *rateLimitRule) Evaluate(_ context.Context, _ *domain.RoutingContext) error {
	if !r.limiter.Allow() {
		return &domain.RuleViolation{Rule: r.Name(), Reason: "rate exceeded"}
	}
	return nil
}

// quotaCounter is a fixed-window request counter.
type quotaCounter struct {
	mu          sync.Mutex
	limit       int64
	window      time.Duration
	used        int64
	windowStart time.Time
}

func (q *quotaCounter) configure(limit int64, window time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.limit = limit
	q.window = window
}

func (q *quotaCounter) take(now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.windowStart.IsZero() || now.Sub(q.windowStart) >= q.window {
		q.windowStart = now
		q.used = 0
	}
	if q.used >= q.limit {
		return false
	}
	q.used++
	return true
}

type quotaRule struct {
	counter *quotaCounter
	now     func() time.Time
}

func (r *quotaRule) Name() string { return "reseller-quota" }

func (r *quotaRule) Evaluate(_ context.Context, _ *domain.RoutingContext) error {
	if !r.counter.take(r.now()) {
		return &domain.RuleViolation{Rule: r.Name(), Reason: "quota exhausted"}
	}
	return nil
}

type concurrencyRule struct {
	limit    int64
	inFlight *atomic.Int64
}

func (r *concurrencyRule) Name() string { return "user-concurrent-calls" }

func (r *concurrencyRule) Evaluate(_ context.Context, rc *domain.RoutingContext) error {
	if r.inFlight.Add(1) > r.limit {
		r.inFlight.Add(-1)
		return &domain.RuleViolation{Rule: r.Name(), Reason: "too many concurrent requests"}
	}
	rc.Defer(func() { r.inFlight.Add(-1) })
	return nil
}

// exprRule evaluates a boolean expression. The environment exposes
// tenant, request, attributes and the current hour.
type exprRule struct {
	name    string
	program *vm.Program
	now     func() time.Time
}

func (r *exprRule) Name() string { return r.name }

func (r *exprRule) Evaluate(_ context.Context, rc *domain.RoutingContext) error {
	out, err := vm.Run(r.program, ruleEnv(rc, r.now()))
	if err != nil {
		return fmt.Errorf("evaluating rule %q: %w", r.name, err)
	}
	if ok, _ := out.(bool); !ok {
		return &domain.RuleViolation{Rule: r.name}
	}
	return nil
}

func ruleEnv(rc *domain.RoutingContext, now time.Time) map[string]any {
	req := rc.Request()
	headers := make(map[string]any)
	for _, h := range req.Headers() {
		if _, seen := headers[h.Name]; !seen {
			headers[h.Name] = h.Value
		}
	}

	env := map[string]any{
		"request": map[string]any{
			"id":          req.ID(),
			"protocol":    string(req.Protocol()),
			"source":      req.Source(),
			"destination": req.Destination(),
			"headers":     headers,
		},
		"attributes": rc.Attributes(),
		"hour":       now.Hour(),
	}
	if tenant, ok := rc.Tenant(); ok {
		props := make(map[string]any, len(tenant.Properties))
		for k, v := range tenant.Properties {
			props[k] = v
		}
		env["tenant"] = map[string]any{
			"id":         tenant.ID,
			"name":       tenant.Name,
			"level":      tenant.Level.String(),
			"status":     string(tenant.Status),
			"properties": props,
		}
	}
	return env
}

func intProperty(t domain.Tenant, key string, fallback int) int {
	v, err := strconv.Atoi(t.Property(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func durationProperty(t domain.Tenant, key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(t.Property(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
