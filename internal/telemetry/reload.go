package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/BaSui01/dynconf/types"
)

const meterName = "github.com/BaSui01/dynconf"

// ReloadMeter records reload attempts as OTel instruments.
type ReloadMeter struct {
	attempts   metric.Int64Counter
	duration   metric.Float64Histogram
	generation metric.Int64Gauge
}

// NewReloadMeter creates the reload instruments on mp.
func NewReloadMeter(mp metric.MeterProvider) (*ReloadMeter, error) {
	m := mp.Meter(meterName)

	attempts, err := m.Int64Counter("dynconf.reload.attempts",
		metric.WithDescription("Configuration reload attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create attempts counter: %w", err)
	}
	duration, err := m.Float64Histogram("dynconf.reload.duration",
		metric.WithDescription("Time spent applying a configuration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	generation, err := m.Int64Gauge("dynconf.config.generation",
		metric.WithDescription("Generation of the active configuration"),
	)
	if err != nil {
		return nil, fmt.Errorf("create generation gauge: %w", err)
	}

	return &ReloadMeter{attempts: attempts, duration: duration, generation: generation}, nil
}

// Observe records one attempt. Only applied attempts move the generation gauge.
func (r *ReloadMeter) Observe(a types.ReloadAttempt) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("source", string(a.Source)),
		attribute.String("outcome", a.Outcome),
	)
	r.attempts.Add(ctx, 1, attrs)
	r.duration.Record(ctx, a.Duration.Seconds(), attrs)
	if a.Applied() {
		r.generation.Record(ctx, int64(a.Generation))
	}
}
