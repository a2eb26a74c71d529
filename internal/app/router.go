package app

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/neomorfeo/routesphere/internal/domain"
	"github.com/neomorfeo/routesphere/internal/pipeline"
)

// RequestObserver is told about every request the router answers.
type RequestObserver interface {
	Observe(ctx context.Context, req domain.RoutingRequest, resp domain.RoutingResponse, elapsed time.Duration)
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithProcessorWrapper decorates every built-in processor, e.g. for tracing.
func WithProcessorWrapper(wrap func(pipeline.Processor) pipeline.Processor) RouterOption {
	return func(r *Router) { r.wrap = wrap }
}

// WithRuleSource replaces the default level rules.
func WithRuleSource(rules pipeline.RuleSource) RouterOption {
	return func(r *Router) { r.rules = rules }
}

// WithObserver registers an observer for routed requests.
func WithObserver(o RequestObserver) RouterOption {
	return func(r *Router) { r.observer = o }
}

// Router owns one pipeline per protocol plus any named pipelines, and
// routes requests to them once started.
type Router struct {
	hierarchy *domain.Hierarchy
	logger    *slog.Logger
	rules     pipeline.RuleSource
	wrap      func(pipeline.Processor) pipeline.Processor
	observer  RequestObserver

	mu         sync.RWMutex
	started    bool
	byProtocol map[domain.Protocol]*pipeline.Pipeline
	named      map[string]*pipeline.Pipeline
}

var _ domain.Dispatcher = (*Router)(nil)

// NewRouter builds the default pipeline of every protocol over hierarchy.
// All pipelines share one rule source so limits apply per tenant, not per
// protocol.
func NewRouter(hierarchy *domain.Hierarchy, logger *slog.Logger, opts ...RouterOption) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		hierarchy:  hierarchy,
		logger:     logger,
		byProtocol: make(map[domain.Protocol]*pipeline.Pipeline, len(domain.Protocols)),
		named:      make(map[string]*pipeline.Pipeline),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.rules == nil {
		r.rules = pipeline.NewLevelRules()
	}
	for _, p := range domain.Protocols {
		r.byProtocol[p] = r.newPipeline(string(p))
	}
	return r
}

func (r *Router) newPipeline(name string) *pipeline.Pipeline {
	procs := pipeline.Builtins(r.hierarchy, r.rules)
	if r.wrap != nil {
		for i, p := range procs {
			procs[i] = r.wrap(p)
		}
	}
	return pipeline.New(name, r.logger, procs...)
}

// RegisterPipeline makes p reachable by name through Dispatch.
func (r *Router) RegisterPipeline(name string, p *pipeline.Pipeline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.named[name] = p
}

// NewNamedPipeline builds a default pipeline and registers it under name.
func (r *Router) NewNamedPipeline(name string) *pipeline.Pipeline {
	p := r.newPipeline(name)
	r.RegisterPipeline(name, p)
	return p
}

// Pipeline returns the pipeline of protocol.
func (r *Router) Pipeline(protocol domain.Protocol) (*pipeline.Pipeline, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byProtocol[protocol]
	return p, ok
}

// RemovePipeline drops the pipeline of protocol; requests for it are then
// answered with 501.
func (r *Router) RemovePipeline(protocol domain.Protocol) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byProtocol, protocol)
}

// PipelineNames lists the named pipelines.
func (r *Router) PipelineNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.named))
	for name := range r.named {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start allows requests through.
func (r *Router) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = true
	r.logger.Info("router started", "protocols", len(r.byProtocol), "pipelines", len(r.named))
}

// Stop makes every following request fail with 503.
func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = false
	r.logger.Info("router stopped")
}

// Started reports whether the router accepts requests.
func (r *Router) Started() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.started
}

// Route runs req through the pipeline of its protocol.
func (r *Router) Route(ctx context.Context, req domain.RoutingRequest) domain.RoutingResponse {
	return r.Dispatch(ctx, "", req)
}

// Dispatch runs req through the named pipeline, or the protocol pipeline
// when name is empty or unknown.
func (r *Router) Dispatch(ctx context.Context, name string, req domain.RoutingRequest) domain.RoutingResponse {
	start := time.Now()
	resp := r.dispatch(ctx, name, req)
	if r.observer != nil {
		r.observer.Observe(ctx, req, resp, time.Since(start))
	}
	return resp
}

func (r *Router) dispatch(ctx context.Context, name string, req domain.RoutingRequest) domain.RoutingResponse {
	r.mu.RLock()
	started := r.started
	p, ok := r.named[name]
	if !ok {
		p, ok = r.byProtocol[req.Protocol()]
	}
	r.mu.RUnlock()

	if !started {
		return domain.ErrorResponse(503, "Router not started")
	}
	if !ok {
		r.logger.WarnContext(ctx, "no pipeline for request",
			"protocol", string(req.Protocol()), "pipeline", name, "request_id", req.ID())
		return domain.ErrorResponse(501, "Protocol not supported: "+string(req.Protocol()))
	}
	return p.Process(ctx, req)
}
