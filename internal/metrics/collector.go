// Package metrics exposes Prometheus instrumentation for sessions, browser actions
// and reasoning calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the agent records.
type Collector struct {
	registry *prometheus.Registry

	sessionsActive   prometheus.Gauge
	sessionsTotal    *prometheus.CounterVec
	sessionDuration  *prometheus.HistogramVec
	sessionTurns     *prometheus.HistogramVec
	actionsTotal     *prometheus.CounterVec
	actionDuration   *prometheus.HistogramVec
	actionAttempts   prometheus.Histogram
	reasoningTotal   *prometheus.CounterVec
	reasoningLatency *prometheus.HistogramVec
}

// NewCollector registers all metrics on a fresh registry under namespace.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently between start and a terminal state",
		}),
		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Sessions that reached a terminal state",
		}, []string{"mode", "status"}),
		sessionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall-clock time from start to terminal state",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		}, []string{"mode"}),
		sessionTurns: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_turns",
			Help:      "Reasoning turns used per session",
			Buckets:   []float64{1, 2, 5, 10, 20, 35, 50, 100},
		}, []string{"mode"}),
		actionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "browser_actions_total",
			Help:      "Browser actions executed",
		}, []string{"type", "result", "error_code"}),
		actionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "browser_action_duration_seconds",
			Help:      "Browser action duration including retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		actionAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "browser_action_attempts",
			Help:      "Attempts needed per browser action",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}),
		reasoningTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reasoning_calls_total",
			Help:      "Reasoning adapter round-trips",
		}, []string{"mode", "result"}),
		reasoningLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reasoning_call_duration_seconds",
			Help:      "Reasoning adapter round-trip latency",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"mode"}),
	}
}

// ObserveAction records one executed browser action.
func (c *Collector) ObserveAction(actionType string, success bool, errorCode string, attempts int, duration time.Duration) {
	c.actionsTotal.WithLabelValues(actionType, result(success), errorCode).Inc()
	c.actionDuration.WithLabelValues(actionType).Observe(duration.Seconds())
	c.actionAttempts.Observe(float64(attempts))
}

// SessionStarted marks a session as running.
func (c *Collector) SessionStarted() {
	c.sessionsActive.Inc()
}

// SessionFinished records a session reaching a terminal status.
func (c *Collector) SessionFinished(mode, status string, turns int, duration time.Duration) {
	c.sessionsActive.Dec()
	c.sessionsTotal.WithLabelValues(mode, status).Inc()
	c.sessionDuration.WithLabelValues(mode).Observe(duration.Seconds())
	c.sessionTurns.WithLabelValues(mode).Observe(float64(turns))
}

// ObserveReasoning records one adapter round-trip.
func (c *Collector) ObserveReasoning(mode string, success bool, duration time.Duration) {
	c.reasoningTotal.WithLabelValues(mode, result(success)).Inc()
	c.reasoningLatency.WithLabelValues(mode).Observe(duration.Seconds())
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
