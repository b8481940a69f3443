// Package metrics exposes prometheus collectors for index builds and
// queries. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the repoctx collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	filesIndexed  *prometheus.CounterVec
	filesRemoved  prometheus.Counter
	buildDuration prometheus.Histogram
	queryPhase    *prometheus.HistogramVec
	queryTimeouts prometheus.Counter
	bundleTokens  prometheus.Histogram
	droppedChunks prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		filesIndexed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repoctx_files_indexed_total",
				Help: "Files indexed, by extraction status",
			},
			[]string{"status"},
		),
		filesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repoctx_files_removed_total",
			Help: "Files pruned from the index",
		}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "repoctx_build_duration_seconds",
			Help:    "Duration of index builds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		queryPhase: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "repoctx_query_phase_duration_seconds",
				Help:    "Duration of each query phase",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"phase"},
		),
		queryTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repoctx_query_timeouts_total",
			Help: "Queries aborted by their deadline",
		}),
		bundleTokens: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "repoctx_bundle_tokens",
			Help:    "Tokens used by assembled context bundles",
			Buckets: prometheus.ExponentialBuckets(64, 2, 10),
		}),
		droppedChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repoctx_bundle_dropped_chunks_total",
			Help: "Chunks dropped from bundles for exceeding the budget",
		}),
	}

	m.registry.MustRegister(
		m.filesIndexed,
		m.filesRemoved,
		m.buildDuration,
		m.queryPhase,
		m.queryTimeouts,
		m.bundleTokens,
		m.droppedChunks,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// FileIndexed counts one indexed file.
func (m *Metrics) FileIndexed(status string) {
	if m == nil {
		return
	}
	m.filesIndexed.WithLabelValues(status).Inc()
}

// FileRemoved counts one pruned file.
func (m *Metrics) FileRemoved() {
	if m == nil {
		return
	}
	m.filesRemoved.Inc()
}

// BuildFinished records a build duration.
func (m *Metrics) BuildFinished(d time.Duration) {
	if m == nil {
		return
	}
	m.buildDuration.Observe(d.Seconds())
}

// PhaseFinished records the duration of a query phase.
func (m *Metrics) PhaseFinished(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.queryPhase.WithLabelValues(phase).Observe(d.Seconds())
}

// QueryTimedOut counts one query timeout.
func (m *Metrics) QueryTimedOut() {
	if m == nil {
		return
	}
	m.queryTimeouts.Inc()
}

// BundleAssembled records the size of a bundle.
func (m *Metrics) BundleAssembled(usedTokens, dropped int) {
	if m == nil {
		return
	}
	m.bundleTokens.Observe(float64(usedTokens))
	m.droppedChunks.Add(float64(dropped))
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
