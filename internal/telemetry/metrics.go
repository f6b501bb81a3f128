package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	apimetric "go.opentelemetry.io/otel/metric"
)

const meterName = "veltrix"

// Metrics holds the service instruments. A nil *Metrics records nothing.
type Metrics struct {
	strategyOps apimetric.Int64Counter
	expired     apimetric.Int64Counter
	aiRequests  apimetric.Int64Counter
	aiDuration  apimetric.Float64Histogram
	httpReqs    apimetric.Int64Counter
}

func NewMetrics(mp apimetric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error
	if m.strategyOps, err = meter.Int64Counter("veltrix.strategy.operations",
		apimetric.WithDescription("Strategy lifecycle operations by outcome")); err != nil {
		return nil, err
	}
	if m.expired, err = meter.Int64Counter("veltrix.strategy.expired",
		apimetric.WithDescription("Strategies deactivated after their duration elapsed")); err != nil {
		return nil, err
	}
	if m.aiRequests, err = meter.Int64Counter("veltrix.ai.requests",
		apimetric.WithDescription("Completion requests by kind and outcome")); err != nil {
		return nil, err
	}
	if m.aiDuration, err = meter.Float64Histogram("veltrix.ai.duration",
		apimetric.WithUnit("s"),
		apimetric.WithDescription("Completion request latency")); err != nil {
		return nil, err
	}
	if m.httpReqs, err = meter.Int64Counter("veltrix.http.requests",
		apimetric.WithDescription("HTTP requests by route and status class")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) StrategyOp(ctx context.Context, op string, err error) {
	if m == nil {
		return
	}
	m.strategyOps.Add(ctx, 1, apimetric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("result", result(err)),
	))
}

func (m *Metrics) StrategiesExpired(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expired.Add(ctx, int64(n))
}

func (m *Metrics) AIRequest(ctx context.Context, kind string, took time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := apimetric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("result", result(err)),
	)
	m.aiRequests.Add(ctx, 1, attrs)
	m.aiDuration.Record(ctx, took.Seconds(), attrs)
}

func (m *Metrics) HTTPRequest(ctx context.Context, route string, status int) {
	if m == nil {
		return
	}
	m.httpReqs.Add(ctx, 1, apimetric.WithAttributes(
		attribute.String("route", route),
		attribute.Int("status_class", status/100),
	))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
