package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/neomorfeo/routesphere/internal/domain"
)

// RequestMetrics records routed requests as OpenTelemetry instruments.
type RequestMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// NewRequestMetrics creates the instruments on the global meter provider.
func NewRequestMetrics() (*RequestMetrics, error) {
	meter := otel.Meter(tracerName)

	requests, err := meter.Int64Counter("routesphere.requests",
		metric.WithDescription("Routed requests by protocol and response type"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating request counter: %w", err)
	}

	duration, err := meter.Float64Histogram("routesphere.request.duration",
		metric.WithDescription("Time spent routing a request"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return &RequestMetrics{requests: requests, duration: duration}, nil
}

// Observe records one routed request.
func (m *RequestMetrics) Observe(ctx context.Context, req domain.RoutingRequest, resp domain.RoutingResponse, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("protocol", string(req.Protocol())),
		attribute.String("response.type", string(resp.Type)),
		attribute.Int("response.status", resp.StatusCode),
	)
	m.requests.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}
