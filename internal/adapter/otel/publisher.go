package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/routesphere/internal/domain"
)

// Publisher publishes both tenant and channel lifecycle events.
type Publisher interface {
	domain.EventPublisher
	domain.ChannelEventPublisher
}

// TracingPublisher wraps a Publisher with OpenTelemetry tracing.
type TracingPublisher struct {
	next   Publisher
	tracer trace.Tracer
}

var (
	_ domain.EventPublisher        = (*TracingPublisher)(nil)
	_ domain.ChannelEventPublisher = (*TracingPublisher)(nil)
)

// NewTracingPublisher creates a tracing decorator around the given publisher.
func NewTracingPublisher(next Publisher) *TracingPublisher {
	return &TracingPublisher{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (p *TracingPublisher) Publish(ctx context.Context, event domain.Event, tenant domain.Tenant) error {
	ctx, span := p.tracer.Start(ctx, "EventPublisher.Publish",
		trace.WithAttributes(
			attribute.String("event.type", string(event)),
			attribute.String("tenant.id", tenant.ID),
			attribute.String("tenant.status", string(tenant.Status)),
		),
	)
	defer span.End()

	err := p.next.Publish(ctx, event, tenant)
	if err != nil {
		recordError(span, err)
	}
	return err
}

func (p *TracingPublisher) PublishChannel(ctx context.Context, event domain.ChannelEvent, cfg domain.ChannelConfig, status domain.ChannelStatus) error {
	ctx, span := p.tracer.Start(ctx, "EventPublisher.PublishChannel",
		trace.WithAttributes(
			attribute.String("event.type", string(event)),
			attribute.String("channel.name", cfg.Name),
			attribute.String("channel.tenant", cfg.Tenant),
			attribute.String("channel.protocol", string(cfg.Protocol)),
			attribute.String("channel.status", string(status)),
		),
	)
	defer span.End()

	err := p.next.PublishChannel(ctx, event, cfg, status)
	if err != nil {
		recordError(span, err)
	}
	return err
}
