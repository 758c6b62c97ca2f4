package observability

import (
	"time"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics of the lifecycle engine.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	schedulerRuns     *prometheus.CounterVec
	runDuration       prometheus.Histogram
	subscribersTotal  *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	overrides         *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	externalErrors    *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	lastRunTimestamp  prometheus.Gauge
	lastRunFailedUnit prometheus.Gauge
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		schedulerRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_scheduler_runs_total",
				Help: "Transition scheduler runs by outcome.",
			},
			[]string{"outcome"},
		),
		runDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lifecycle_scheduler_run_duration_seconds",
				Help:    "Wall time of a transition scheduler run.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
		subscribersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_scheduler_subscribers_total",
				Help: "Subscribers evaluated by the scheduler, by result.",
			},
			[]string{"result"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_phase_transitions_total",
				Help: "Committed phase transitions.",
			},
			[]string{"from", "to", "reason"},
		),
		overrides: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_manual_overrides_total",
				Help: "Manual override operations by kind and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_notifications_total",
				Help: "Outbox notifications by delivery outcome.",
			},
			[]string{"outcome"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lifecycle_request_duration_seconds",
				Help:    "Duration of service operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		lastRunTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lifecycle_scheduler_last_run_timestamp_seconds",
			Help: "Unix time the last scheduler run finished.",
		}),
		lastRunFailedUnit: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lifecycle_scheduler_last_run_failed",
			Help: "Failed subscriber units in the last scheduler run.",
		}),
	}
}

// RecordRun records the outcome of one scheduler run.
func (m *Metrics) RecordRun(report domain.RunReport, outcome string) {
	m.schedulerRuns.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	m.subscribersTotal.WithLabelValues("updated").Add(float64(report.Updated))
	m.subscribersTotal.WithLabelValues("skipped").Add(float64(report.Skipped))
	m.subscribersTotal.WithLabelValues("failed").Add(float64(report.Failed))
	m.lastRunTimestamp.Set(float64(report.FinishedAt.Unix()))
	m.lastRunFailedUnit.Set(float64(report.Failed))
}

// IncrTransition counts a committed phase change.
func (m *Metrics) IncrTransition(from, to domain.PhaseType, reason string) {
	m.transitions.WithLabelValues(string(from), string(to), reason).Inc()
}

// IncrOverride counts a manual override call.
func (m *Metrics) IncrOverride(operation, outcome string) {
	m.overrides.WithLabelValues(operation, outcome).Inc()
}

// IncrNotification counts an outbox delivery attempt.
func (m *Metrics) IncrNotification(outcome string) {
	m.notifications.WithLabelValues(outcome).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// SchedulerSnapshot returns cumulative scheduler counters for the
// GET /v1/admin/scheduler/stats endpoint.
func (m *Metrics) SchedulerSnapshot() *domain.SchedulerStats {
	runs := getCounterValue(m.schedulerRuns, "completed") +
		getCounterValue(m.schedulerRuns, "cancelled") +
		getCounterValue(m.schedulerRuns, "aborted")
	failed := getCounterValue(m.subscribersTotal, "failed")
	updated := getCounterValue(m.subscribersTotal, "updated")
	skipped := getCounterValue(m.subscribersTotal, "skipped")

	failureRate := float64(0)
	if total := failed + updated + skipped; total > 0 {
		failureRate = failed / total
	}
	hits := getCounterValue(m.cacheHits, "projection")
	misses := getCounterValue(m.cacheMisses, "projection")
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	return &domain.SchedulerStats{
		Runs:               int64(runs),
		AbortedRuns:        int64(getCounterValue(m.schedulerRuns, "aborted")),
		Updated:            int64(updated),
		Skipped:            int64(skipped),
		Failed:             int64(failed),
		FailureRate:        failureRate,
		NotificationsSent:  int64(getCounterValue(m.notifications, "delivered")),
		NotificationErrors: int64(getCounterValue(m.notifications, "failed")),
		ProjectionHitRate:  hitRate,
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
