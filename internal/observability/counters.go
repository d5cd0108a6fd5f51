package observability

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/safar/stockroom/internal/config"
)

// Counters are process-wide request gauges. Every change is mirrored to the
// OTel meter so the exporter and /metrics agree.
type Counters struct {
	inFlight atomic.Int64
	total    atomic.Int64
	errors   atomic.Int64

	inFlightGauge metric.Int64UpDownCounter
	totalCounter  metric.Int64Counter
	errorCounter  metric.Int64Counter
}

type CountersSnapshot struct {
	InFlight int64 `json:"in_flight"`
	Total    int64 `json:"total"`
	Errors   int64 `json:"errors"`
}

// NewCounters registers the request instruments on meter. A nil meter uses
// the global provider.
func NewCounters(meter metric.Meter) (*Counters, error) {
	if meter == nil {
		meter = otel.Meter(config.ServiceName)
	}

	c := &Counters{}
	var err error

	c.inFlightGauge, err = meter.Int64UpDownCounter("http.server.requests.in_flight",
		metric.WithDescription("Requests currently being handled"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, fmt.Errorf("in-flight counter: %w", err)
	}

	c.totalCounter, err = meter.Int64Counter("http.server.requests",
		metric.WithDescription("Requests handled"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, fmt.Errorf("request counter: %w", err)
	}

	c.errorCounter, err = meter.Int64Counter("http.server.errors",
		metric.WithDescription("Requests answered with a server error"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, fmt.Errorf("error counter: %w", err)
	}

	return c, nil
}

// Track marks a request as started. The returned func must be called exactly
// once when it ends; extra calls are ignored so the gauge cannot drift.
func (c *Counters) Track(ctx context.Context) (done func(failed bool)) {
	c.inFlight.Add(1)
	c.total.Add(1)
	if c.inFlightGauge != nil {
		c.inFlightGauge.Add(ctx, 1)
		c.totalCounter.Add(ctx, 1)
	}

	var finished atomic.Bool
	return func(failed bool) {
		if !finished.CompareAndSwap(false, true) {
			return
		}
		c.inFlight.Add(-1)
		if c.inFlightGauge != nil {
			c.inFlightGauge.Add(ctx, -1)
		}
		if failed {
			c.errors.Add(1)
			if c.errorCounter != nil {
				c.errorCounter.Add(ctx, 1)
			}
		}
	}
}

func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		InFlight: c.inFlight.Load(),
		Total:    c.total.Load(),
		Errors:   c.errors.Load(),
	}
}
