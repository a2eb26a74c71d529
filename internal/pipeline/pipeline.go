// Package pipeline runs routing requests through an ordered chain of
// processors: tenant identification, admission, business rules and action
// execution by default.
package pipeline

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/neomorfeo/routesphere/internal/domain"
)

// Processor is one step of a pipeline. Process returns false to stop the
// pipeline; the processor is then expected to have set the response.
type Processor interface {
	Name() string
	Order() int
	Process(ctx context.Context, rc *domain.RoutingContext) (bool, error)
}

// Pipeline executes processors in ascending Order. Processors with the same
// order keep their insertion order.
type Pipeline struct {
	name   string
	logger *slog.Logger

	mu         sync.RWMutex
	processors []Processor
}

// New creates a pipeline with the given processors.
func New(name string, logger *slog.Logger, processors ...Processor) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		name:       name,
		logger:     logger.With("pipeline", name),
		processors: slices.Clone(processors),
	}
	p.sortLocked()
	return p
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// Add appends a processor and re-sorts the chain.
func (p *Pipeline) Add(proc Processor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processors = append(p.processors, proc)
	p.sortLocked()
}

// Remove drops every processor with the given name and reports whether any
// was removed.
func (p *Pipeline) Remove(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	before := len(p.processors)
	p.processors = slices.DeleteFunc(p.processors, func(proc Processor) bool { return proc.Name() == name })
	p.sortLocked()
	return len(p.processors) != before
}

// Processors returns the current chain in execution order.
func (p *Pipeline) Processors() []Processor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.processors)
}

func (p *Pipeline) sortLocked() {
	slices.SortStableFunc(p.processors, func(a, b Processor) int { return cmp.Compare(a.Order(), b.Order()) })
}

// Process runs req through the chain and returns the response.
func (p *Pipeline) Process(ctx context.Context, req domain.RoutingRequest) domain.RoutingResponse {
	return p.Run(ctx, req).Response()
}

// Run runs req through the chain and returns the finished context. Errors
// and panics raised by a processor are contained: the request is marked
// FAILED and answered with ERROR/500. Cleanups registered on the context
// have already run when Run returns.
func (p *Pipeline) Run(ctx context.Context, req domain.RoutingRequest) *domain.RoutingContext {
	rc := domain.NewRoutingContext(req)
	defer rc.Release()

	// Snapshot the chain so runtime Add/Remove never affects a request in flight.
	chain := p.Processors()

	for _, proc := range chain {
		p.logger.DebugContext(ctx, "running processor",
			"processor", proc.Name(),
			"request_id", req.ID(),
		)
		cont, err := p.invoke(ctx, proc, rc)
		if err != nil {
			p.logger.ErrorContext(ctx, "processor failed",
				"processor", proc.Name(),
				"request_id", req.ID(),
				"stage", rc.Stage().String(),
				"error", err,
			)
			rc.Fail(domain.ErrorResponse(500, "Pipeline processing error: "+err.Error()))
			return rc
		}
		if !cont {
			p.logger.DebugContext(ctx, "pipeline stopped",
				"processor", proc.Name(),
				"request_id", req.ID(),
				"status", rc.Response().StatusCode,
			)
			return rc
		}
	}

	if err := rc.MoveTo(domain.StageCompleted); err != nil {
		p.logger.WarnContext(ctx, "completing request", "request_id", req.ID(), "error", err)
	}
	return rc
}

func (p *Pipeline) invoke(ctx context.Context, proc Processor, rc *domain.RoutingContext) (cont bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			cont = false
			err = fmt.Errorf("panic in %s: %v", proc.Name(), r)
		}
	}()
	return proc.Process(ctx, rc)
}

// Builtins returns the four built-in processors sharing hierarchy and rules.
func Builtins(hierarchy *domain.Hierarchy, rules RuleSource) []Processor {
	return []Processor{
		NewTenantIdentification(hierarchy),
		NewAdmission(nil),
		NewBusinessRules(hierarchy, rules),
		NewActionExecution(nil),
	}
}

// Default returns a pipeline holding the four built-in processors.
func Default(name string, logger *slog.Logger, hierarchy *domain.Hierarchy, rules RuleSource) *Pipeline {
	return New(name, logger, Builtins(hierarchy, rules)...)
}
