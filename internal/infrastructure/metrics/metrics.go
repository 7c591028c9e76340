// Package metrics exposes ASCEND Prometheus collectors.
//
// One Metrics value owns a private registry; it observes the progression
// engine, the event bus, scheduler jobs and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ascend"

// Metrics holds the application collectors.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	completions        *prometheus.CounterVec
	completionDuration *prometheus.HistogramVec
	txRetries          prometheus.Counter
	rankUps            *prometheus.CounterVec

	eventsPublished *prometheus.CounterVec
	eventHandlers   *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec

	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	reminders   *prometheus.CounterVec

	botUpdates     *prometheus.CounterVec
	botDuration    *prometheus.HistogramVec
	botRateLimited prometheus.Counter
}

// New creates and registers all collectors. withRuntime adds the Go and
// process collectors.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"method", "route"}),

		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progression",
			Name:      "completions_total",
			Help:      "Quest completion requests by outcome.",
		}, []string{"outcome"}),
		completionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "progression",
			Name:      "completion_duration_seconds",
			Help:      "Duration of quest completion requests, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}, []string{"outcome"}),
		txRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progression",
			Name:      "transaction_retries_total",
			Help:      "Completion transactions retried after a transient store failure.",
		}),
		rankUps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progression",
			Name:      "rank_ups_total",
			Help:      "Rank stage increases by the stage reached.",
		}, []string{"stage"}),

		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Domain events published.",
		}, []string{"type"}),
		eventHandlers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "handled_total",
			Help:      "Event handler executions.",
		}, []string{"type", "success"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "handler_duration_seconds",
			Help:      "Duration of event handler executions.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"type"}),

		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduler job runs.",
		}, []string{"job", "success"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_run_duration_seconds",
			Help:      "Duration of scheduler job runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"job"}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "streak_reminders_total",
			Help:      "Streak reminders by result.",
		}, []string{"result"}),

		botUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bot",
			Name:      "updates_total",
			Help:      "Telegram updates handled by route.",
		}, []string{"route", "success"}),
		botDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bot",
			Name:      "update_duration_seconds",
			Help:      "Duration of Telegram update handling.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"route"}),
		botRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bot",
			Name:      "rate_limited_total",
			Help:      "Telegram updates rejected by the per-user limiter.",
		}),
	}

	m.registry.MustRegister(
		m.httpInFlight, m.httpRequests, m.httpDuration,
		m.completions, m.completionDuration, m.txRetries, m.rankUps,
		m.eventsPublished, m.eventHandlers, m.handlerDuration,
		m.jobRuns, m.jobDuration, m.reminders,
		m.botUpdates, m.botDuration, m.botRateLimited,
	)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewGoCollector(),
		)
	}
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler exposing the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// ObserveCompletion records a finished completion request.
func (m *Metrics) ObserveCompletion(outcome string, duration time.Duration) {
	m.completions.WithLabelValues(outcome).Inc()
	m.completionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveRetry records a retried completion transaction.
func (m *Metrics) ObserveRetry(int) {
	m.txRetries.Inc()
}

// ObserveRankUp records a rank stage increase.
func (m *Metrics) ObserveRankUp(stage string) {
	m.rankUps.WithLabelValues(stage).Inc()
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// ObservePublish records a published event.
func (m *Metrics) ObservePublish(eventType string) {
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

// ObserveHandler records one handler execution.
func (m *Metrics) ObserveHandler(eventType string, duration time.Duration, success bool) {
	m.eventHandlers.WithLabelValues(eventType, strconv.FormatBool(success)).Inc()
	m.handlerDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// ObserveJob records a scheduler job run.
func (m *Metrics) ObserveJob(job string, duration time.Duration, success bool) {
	if job == "" {
		job = "unknown"
	}
	m.jobRuns.WithLabelValues(job, strconv.FormatBool(success)).Inc()
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// ObserveReminder records one streak reminder decision: sent, skipped or failed.
func (m *Metrics) ObserveReminder(result string) {
	m.reminders.WithLabelValues(result).Inc()
}

// ══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT
// ══════════════════════════════════════════════════════════════════════════════

// ObserveUpdate records one handled Telegram update. route is the command
// or callback prefix, never the raw text.
func (m *Metrics) ObserveUpdate(route string, duration time.Duration, success bool) {
	m.botUpdates.WithLabelValues(route, strconv.FormatBool(success)).Inc()
	m.botDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// ObserveRateLimited records an update dropped by the limiter.
func (m *Metrics) ObserveRateLimited() {
	m.botRateLimited.Inc()
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP
// ══════════════════════════════════════════════════════════════════════════════

// Middleware instruments HTTP handlers. Requests are labelled by their chi
// route pattern so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := routePattern(r)
		method := strings.ToUpper(r.Method)
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}
