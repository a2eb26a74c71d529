package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/routesphere/internal/domain"
)

const tracerName = "github.com/neomorfeo/routesphere/internal/adapter/otel"

// TracingRepository wraps a domain.TenantRepository with OpenTelemetry tracing.
type TracingRepository struct {
	next   domain.TenantRepository
	tracer trace.Tracer
}

// Compile-time check: TracingRepository implements domain.TenantRepository.
var _ domain.TenantRepository = (*TracingRepository)(nil)

// NewTracingRepository creates a tracing decorator around the given repository.
func NewTracingRepository(next domain.TenantRepository) *TracingRepository {
	return &TracingRepository{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (r *TracingRepository) List(ctx context.Context) ([]domain.Tenant, error) {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.List")
	defer span.End()

	tenants, err := r.next.List(ctx)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Int("result.count", len(tenants)))
	}
	return tenants, err
}

func (r *TracingRepository) Save(ctx context.Context, tenant domain.Tenant) error {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.Save",
		trace.WithAttributes(
			attribute.String("tenant.id", tenant.ID),
			attribute.String("tenant.level", tenant.Level.String()),
			attribute.String("tenant.parent_id", tenant.ParentID),
		),
	)
	defer span.End()

	err := r.next.Save(ctx, tenant)
	if err != nil {
		recordError(span, err)
	}
	return err
}

func (r *TracingRepository) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.UpdateStatus",
		trace.WithAttributes(
			attribute.String("tenant.id", id),
			attribute.String("tenant.status", string(status)),
		),
	)
	defer span.End()

	err := r.next.UpdateStatus(ctx, id, status)
	if err != nil {
		recordError(span, err)
	}
	return err
}

func (r *TracingRepository) Delete(ctx context.Context, ids ...string) error {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.Delete",
		trace.WithAttributes(attribute.StringSlice("tenant.ids", ids)),
	)
	defer span.End()

	err := r.next.Delete(ctx, ids...)
	if err != nil {
		recordError(span, err)
	}
	return err
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
