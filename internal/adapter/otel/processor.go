package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/routesphere/internal/domain"
	"github.com/neomorfeo/routesphere/internal/pipeline"
)

// TracingProcessor wraps a pipeline.Processor with a span per invocation.
type TracingProcessor struct {
	next   pipeline.Processor
	tracer trace.Tracer
}

var _ pipeline.Processor = (*TracingProcessor)(nil)

// NewTracingProcessor creates a tracing decorator around the given processor.
func NewTracingProcessor(next pipeline.Processor) *TracingProcessor {
	return &TracingProcessor{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

// WrapProcessor has the shape expected by app.WithProcessorWrapper.
func WrapProcessor(p pipeline.Processor) pipeline.Processor {
	return NewTracingProcessor(p)
}

func (p *TracingProcessor) Name() string { return p.next.Name() }
func (p *TracingProcessor) Order() int   { return p.next.Order() }

func (p *TracingProcessor) Process(ctx context.Context, rc *domain.RoutingContext) (bool, error) {
	req := rc.Request()
	ctx, span := p.tracer.Start(ctx, "Processor."+p.next.Name(),
		trace.WithAttributes(
			attribute.String("processor.name", p.next.Name()),
			attribute.String("request.id", req.ID()),
			attribute.String("request.protocol", string(req.Protocol())),
		),
	)
	defer span.End()

	cont, err := p.next.Process(ctx, rc)

	if tenant, ok := rc.Tenant(); ok {
		span.SetAttributes(attribute.String("tenant.id", tenant.ID))
	}
	span.SetAttributes(
		attribute.Bool("continue", cont),
		attribute.String("stage", rc.Stage().String()),
	)
	if err != nil {
		recordError(span, err)
	}
	return cont, err
}
