// Package metrics exposes sweep counters over prometheus. Registration is
// per-Metrics-value so tests can instantiate without global registry
// collisions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tagwatch/tagwatch/internal/types"
)

// Metrics holds the sweep collectors.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal      *prometheus.CounterVec
	VerdictsTotal  *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	UploadFailures prometheus.Counter
	RetryOutcomes  *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagwatch_runs_total",
			Help: "Completed validation runs by terminal status.",
		}, []string{"status"}),
		VerdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagwatch_verdicts_total",
			Help: "Verdicts produced, by phase and status.",
		}, []string{"phase", "status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tagwatch_run_duration_seconds",
			Help:    "Wall-clock duration of whole runs.",
			Buckets: prometheus.ExponentialBuckets(30, 2, 10),
		}),
		UploadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tagwatch_upload_failed_verdicts_total",
			Help: "Verdicts that failed to upload after chunk retries.",
		}),
		RetryOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagwatch_retry_entries_total",
			Help: "Retry-queue entries processed, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.RunsTotal, m.VerdictsTotal, m.RunDuration, m.UploadFailures, m.RetryOutcomes)
	return m
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(status types.RunStatus, duration time.Duration) {
	m.RunsTotal.WithLabelValues(string(status)).Inc()
	m.RunDuration.Observe(duration.Seconds())
}

// ObserveVerdict records one produced verdict.
func (m *Metrics) ObserveVerdict(phase types.Phase, status types.VerdictStatus) {
	label := "1"
	if phase == types.Phase2 {
		label = "2"
	}
	m.VerdictsTotal.WithLabelValues(label, string(status)).Inc()
}

// Serve exposes /metrics on addr in a background goroutine. Intended for
// the long-lived service mode; errors are logged, not fatal.
func (m *Metrics) Serve(addr string, logger *zap.Logger) {
	if addr == "" {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
}
