package observability

import (
	"time"

	"github.com/boddenberg/sales-intake-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics of the intake service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration  *prometheus.HistogramVec
	storeErrors      *prometheus.CounterVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	autosaveWrites   *prometheus.CounterVec
	syncRefreshes    *prometheus.CounterVec
	regressionAlerts prometheus.Counter
	activeViews      prometheus.Gauge
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "intake_request_duration_seconds",
				Help:    "Duration of engine operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_store_errors_total",
				Help: "Total record store failures by operation.",
			},
			[]string{"op"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_transitions_total",
				Help: "Sale status transitions by edge and result.",
			},
			[]string{"from", "to", "result"},
		),
		autosaveWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_autosave_writes_total",
				Help: "Draft autosave writes by operation and result.",
			},
			[]string{"op", "result"},
		),
		syncRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_sync_refresh_total",
				Help: "Synchronization poll refreshes by scope and result.",
			},
			[]string{"scope", "result"},
		),
		regressionAlerts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "intake_regression_alerts_total",
				Help: "Regression alerts raised to connected views.",
			},
		),
		activeViews: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "intake_active_views",
				Help: "Views with a running synchronization poller.",
			},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrStoreError increments the store error counter.
func (m *Metrics) IncrStoreError(op string) {
	m.storeErrors.WithLabelValues(op).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrTransition counts one transition attempt. result is "success" or an error kind.
func (m *Metrics) IncrTransition(from, to domain.SaleStatus, result string) {
	m.transitions.WithLabelValues(string(from), string(to), result).Inc()
}

// IncrAutosave counts one autosave write. op is "create" or "update".
func (m *Metrics) IncrAutosave(op, result string) {
	m.autosaveWrites.WithLabelValues(op, result).Inc()
}

// IncrSyncRefresh counts one poll refresh. scope is "own" or "all".
func (m *Metrics) IncrSyncRefresh(scope, result string) {
	m.syncRefreshes.WithLabelValues(scope, result).Inc()
}

// IncrRegressionAlert counts one alert raised to a view.
func (m *Metrics) IncrRegressionAlert() {
	m.regressionAlerts.Inc()
}

// SetActiveViews reports the number of running pollers.
func (m *Metrics) SetActiveViews(n int) {
	m.activeViews.Set(float64(n))
}

// Snapshot returns cumulative workflow counters suitable for the
// GET /v1/metrics/workflow endpoint.
func (m *Metrics) Snapshot() *domain.WorkflowMetrics {
	var succeeded, failed, regressions float64
	for _, from := range []domain.SaleStatus{domain.StatusDraft, domain.StatusInProgress, domain.StatusAnalyzed, domain.StatusFinished} {
		for _, to := range []domain.SaleStatus{domain.StatusInProgress, domain.StatusAnalyzed, domain.StatusFinished} {
			if !domain.IsAllowedTransition(from, to) {
				continue
			}
			ok := getCounterValue(m.transitions, string(from), string(to), "success")
			succeeded += ok
			if domain.IsRegression(from, to) {
				regressions += ok
			}
			for _, kind := range []string{"permission_denied", "validation", "store_unavailable", "not_found", "error"} {
				failed += getCounterValue(m.transitions, string(from), string(to), kind)
			}
		}
	}

	hits := getCounterValue(m.cacheHits, "address")
	misses := getCounterValue(m.cacheMisses, "address")
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	return &domain.WorkflowMetrics{
		TransitionsSucceeded: succeeded,
		TransitionsFailed:    failed,
		Regressions:          regressions,
		AutosaveWrites:       getCounterValue(m.autosaveWrites, "create", "success") + getCounterValue(m.autosaveWrites, "update", "success"),
		AutosaveFailures:     getCounterValue(m.autosaveWrites, "create", "error") + getCounterValue(m.autosaveWrites, "update", "error"),
		SyncRefreshes:        getCounterValue(m.syncRefreshes, "own", "success") + getCounterValue(m.syncRefreshes, "all", "success"),
		SyncFailures:         getCounterValue(m.syncRefreshes, "own", "error") + getCounterValue(m.syncRefreshes, "all", "error"),
		RegressionAlerts:     readCounter(m.regressionAlerts),
		AddressCacheHitRate:  hitRate,
		Period:               "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for the given labels.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	return readCounter(cv.WithLabelValues(labels...))
}

func readCounter(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
