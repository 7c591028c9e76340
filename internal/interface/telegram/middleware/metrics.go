package middleware

import (
	"sync/atomic"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// METRICS MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// Observer receives per-update telemetry (implemented by the Prometheus metrics).
type Observer interface {
	ObserveUpdate(route string, duration time.Duration, success bool)
	ObserveRateLimited()
}

type nopObserver struct{}

func (nopObserver) ObserveUpdate(string, time.Duration, bool) {}
func (nopObserver) ObserveRateLimited()                       {}

// Stats is a snapshot of the in-process counters.
type Stats struct {
	Received    int64
	Handled     int64
	Errors      int64
	RateLimited int64
}

// MetricsMiddleware times handlers and counts outcomes.
type MetricsMiddleware struct {
	observer Observer

	received    atomic.Int64
	handled     atomic.Int64
	errors      atomic.Int64
	rateLimited atomic.Int64
}

// NewMetricsMiddleware creates a metrics middleware. observer may be nil.
func NewMetricsMiddleware(observer Observer) *MetricsMiddleware {
	if observer == nil {
		observer = nopObserver{}
	}
	return &MetricsMiddleware{observer: observer}
}

// Track runs fn and records its duration under route.
func (m *MetricsMiddleware) Track(route string, fn func() error) error {
	m.received.Add(1)
	start := time.Now()
	err := fn()
	m.observer.ObserveUpdate(route, time.Since(start), err == nil)
	if err != nil {
		m.errors.Add(1)
	} else {
		m.handled.Add(1)
	}
	return err
}

// RateLimited records a throttled update.
func (m *MetricsMiddleware) RateLimited() {
	m.rateLimited.Add(1)
	m.observer.ObserveRateLimited()
}

// Snapshot returns the current counters.
func (m *MetricsMiddleware) Snapshot() Stats {
	return Stats{
		Received:    m.received.Load(),
		Handled:     m.handled.Load(),
		Errors:      m.errors.Load(),
		RateLimited: m.rateLimited.Load(),
	}
}
