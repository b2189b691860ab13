package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for scopekeeper. A disabled Metrics
// instance is valid and all record methods are no-ops on it.
type Metrics struct {
	config MetricsConfig

	// Finalize metrics
	finalizeRuns     *prometheus.CounterVec
	finalizeDuration *prometheus.HistogramVec

	// Resource metrics
	resourcesDeleted  prometheus.Counter
	resourcesFailed   prometheus.Counter
	deletionRetries   prometheus.Counter
	scopesDestroyed   prometheus.Counter

	// Lock metrics
	lockWaitDuration prometheus.Histogram
	lockTimeouts     prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		finalizeRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "finalize_runs_total",
				Help:      "Total number of finalize invocations",
			},
			[]string{"status", "strategy", "dry_run"},
		),
		finalizeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "finalize_duration_seconds",
				Help:      "Duration of finalize invocations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"strategy"},
		),
		resourcesDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_deleted_total",
				Help:      "Total number of resources deleted during finalization",
			},
		),
		resourcesFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_failed_total",
				Help:      "Total number of resource deletions that failed after all retries",
			},
		),
		deletionRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resource_deletion_retries_total",
				Help:      "Total number of resource deletion retry attempts",
			},
		),
		scopesDestroyed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scopes_destroyed_total",
				Help:      "Total number of scope documents removed",
			},
		),
		lockWaitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "lock_wait_seconds",
				Help:      "Time spent waiting to acquire scope locks",
				Buckets:   prometheus.DefBuckets,
			},
		),
		lockTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lock_timeouts_total",
				Help:      "Total number of lock acquisitions that timed out",
			},
		),
	}

	registry.MustRegister(
		m.finalizeRuns,
		m.finalizeDuration,
		m.resourcesDeleted,
		m.resourcesFailed,
		m.deletionRetries,
		m.scopesDestroyed,
		m.lockWaitDuration,
		m.lockTimeouts,
	)

	return m, nil
}

// RecordFinalizeRun records a completed finalize invocation.
func (m *Metrics) RecordFinalizeRun(status, strategy string, dryRun bool, duration time.Duration) {
	if m.finalizeRuns == nil {
		return
	}
	dry := "false"
	if dryRun {
		dry = "true"
	}
	m.finalizeRuns.WithLabelValues(status, strategy, dry).Inc()
	m.finalizeDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordResourceDeleted increments the deleted-resource counter.
func (m *Metrics) RecordResourceDeleted() {
	if m.resourcesDeleted == nil {
		return
	}
	m.resourcesDeleted.Inc()
}

// RecordResourceFailed increments the failed-resource counter.
func (m *Metrics) RecordResourceFailed() {
	if m.resourcesFailed == nil {
		return
	}
	m.resourcesFailed.Inc()
}

// RecordDeletionRetry increments the retry counter.
func (m *Metrics) RecordDeletionRetry() {
	if m.deletionRetries == nil {
		return
	}
	m.deletionRetries.Inc()
}

// RecordScopeDestroyed increments the destroyed-scope counter.
func (m *Metrics) RecordScopeDestroyed() {
	if m.scopesDestroyed == nil {
		return
	}
	m.scopesDestroyed.Inc()
}

// RecordLockWait records the time spent waiting for a scope lock.
func (m *Metrics) RecordLockWait(duration time.Duration) {
	if m.lockWaitDuration == nil {
		return
	}
	m.lockWaitDuration.Observe(duration.Seconds())
}

// RecordLockTimeout increments the lock-timeout counter.
func (m *Metrics) RecordLockTimeout() {
	if m.lockTimeouts == nil {
		return
	}
	m.lockTimeouts.Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartServer starts an HTTP server exposing the metrics endpoint. Errors
// after startup are logged, not returned.
func (m *Metrics) StartServer(logger zerolog.Logger) error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return nil
}
