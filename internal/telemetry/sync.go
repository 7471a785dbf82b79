package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const syncScopeName = "github.com/steveyegge/braid/sync"

// SyncMetrics carries the engine-wide instruments. Every remote call
// records latency(component, operation, ms); every mutating activity
// increments the write counter so idempotence is observable as
// writes == 0 on a quiet cycle.
type SyncMetrics struct {
	latency metric.Float64Histogram
	writes  metric.Int64Counter
	errors  metric.Int64Counter
}

// NewSyncMetrics builds the instruments on the global meter. Safe to call
// with telemetry disabled; the noop meter hands back working instruments.
func NewSyncMetrics() *SyncMetrics {
	m := Meter(syncScopeName)
	latency, _ := m.Float64Histogram("braid.sync.latency",
		metric.WithDescription("Remote call latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	writes, _ := m.Int64Counter("braid.sync.writes",
		metric.WithDescription("Mutating operations applied to external systems"),
	)
	errors, _ := m.Int64Counter("braid.sync.errors",
		metric.WithDescription("Per-issue sync errors"),
	)
	return &SyncMetrics{latency: latency, writes: writes, errors: errors}
}

// RecordLatency records one remote call.
func (s *SyncMetrics) RecordLatency(ctx context.Context, component, operation string, ms float64) {
	if s == nil {
		return
	}
	s.latency.Record(ctx, ms, metric.WithAttributes(
		attribute.String("component", component),
		attribute.String("operation", operation),
	))
}

// CountWrite records one mutating operation against an external system.
func (s *SyncMetrics) CountWrite(ctx context.Context, component, operation string) {
	if s == nil {
		return
	}
	s.writes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component", component),
		attribute.String("operation", operation),
	))
}

// CountError records one per-issue error.
func (s *SyncMetrics) CountError(ctx context.Context, component, phase string) {
	if s == nil {
		return
	}
	s.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component", component),
		attribute.String("phase", phase),
	))
}
