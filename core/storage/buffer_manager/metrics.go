package buffermanager

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the pool's OpenTelemetry instruments. A nil *Metrics is
// valid and records nothing, so the pool works without telemetry wired.
type Metrics struct {
	hits      metric.Int64Counter
	misses    metric.Int64Counter
	evictions metric.Int64Counter
	flushes   metric.Int64Counter
	exhausted metric.Int64Counter
}

// NewMetrics registers the buffer pool instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.hits, err = meter.Int64Counter("strata_buffer_fetch_hits_total",
		metric.WithDescription("Fetches served from a resident frame")); err != nil {
		return nil, err
	}
	if m.misses, err = meter.Int64Counter("strata_buffer_fetch_misses_total",
		metric.WithDescription("Fetches that required a disk read")); err != nil {
		return nil, err
	}
	if m.evictions, err = meter.Int64Counter("strata_buffer_evictions_total",
		metric.WithDescription("Frames reclaimed from a previously bound block")); err != nil {
		return nil, err
	}
	if m.flushes, err = meter.Int64Counter("strata_buffer_flushes_total",
		metric.WithDescription("Page images written back to disk")); err != nil {
		return nil, err
	}
	if m.exhausted, err = meter.Int64Counter("strata_buffer_pool_exhausted_total",
		metric.WithDescription("Fetches failed because every frame was pinned")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) addHit() {
	if m != nil {
		m.hits.Add(context.Background(), 1)
	}
}

func (m *Metrics) addMiss() {
	if m != nil {
		m.misses.Add(context.Background(), 1)
	}
}

func (m *Metrics) addEviction() {
	if m != nil {
		m.evictions.Add(context.Background(), 1)
	}
}

func (m *Metrics) addFlush() {
	if m != nil {
		m.flushes.Add(context.Background(), 1)
	}
}

func (m *Metrics) addExhausted() {
	if m != nil {
		m.exhausted.Add(context.Background(), 1)
	}
}
