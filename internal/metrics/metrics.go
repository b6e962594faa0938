// Package metrics exposes crawl progress as Prometheus metrics.
//
// A Metrics value satisfies crawler.Observer, and its PageListed and
// Analyzed methods match the frontier page observer and the analyzer
// result hook. Every method is a no-op on a nil *Metrics so callers can
// wire it unconditionally.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nao1215/threadkeep/internal/model"
)

const namespace = "threadkeep"

// Result label values.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// Path is where Serve exposes the metrics.
const Path = "/metrics"

const shutdownTimeout = 5 * time.Second

// Metrics holds the crawler's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	itemsFetched  *prometheus.CounterVec
	pagesListed   *prometheus.CounterVec
	breakerTrips  prometheus.Counter
	flushDuration prometheus.Histogram
	itemsFlushed  prometheus.Counter
	analyses      *prometheus.CounterVec
}

// New registers the crawler collectors, plus the Go runtime and process
// collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		itemsFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_fetched_total",
			Help:      "Post detail fetch attempts by result.",
		}, []string{"result"}),
		pagesListed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_listed_total",
			Help:      "Listing pages requested during frontier collection by source and result.",
		}, []string{"source", "result"}),
		breakerTrips: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_trips_total",
			Help:      "Fetch loops stopped by consecutive failures.",
		}),
		flushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Time spent writing one batch to the archive.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		itemsFlushed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_flushed_total",
			Help:      "Posts written to the archive.",
		}),
		analyses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Language model analyses by result.",
		}, []string{"result"}),
	}
}

func result(ok bool) string {
	if ok {
		return ResultOK
	}
	return ResultFailed
}

// ItemFetched counts one fetch attempt.
func (m *Metrics) ItemFetched(ok bool) {
	if m == nil {
		return
	}
	m.itemsFetched.WithLabelValues(result(ok)).Inc()
}

// BreakerTripped counts a fetch loop stopped by its circuit breaker.
func (m *Metrics) BreakerTripped() {
	if m == nil {
		return
	}
	m.breakerTrips.Inc()
}

// Flushed records one archive write.
func (m *Metrics) Flushed(items int, took time.Duration) {
	if m == nil {
		return
	}
	m.itemsFlushed.Add(float64(items))
	m.flushDuration.Observe(took.Seconds())
}

// PageListed counts one listing request.
func (m *Metrics) PageListed(source, result string) {
	if m == nil {
		return
	}
	m.pagesListed.WithLabelValues(source, result).Inc()
}

// Analyzed counts one post analysis.
func (m *Metrics) Analyzed(_ model.ItemID, ok bool) {
	if m == nil {
		return
	}
	m.analyses.WithLabelValues(result(ok)).Inc()
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler for the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ListenAndServe serves Path on addr until ctx is done.
func (m *Metrics) ListenAndServe(ctx context.Context, addr string, logger *slog.Logger) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return m.Serve(ctx, ln, logger)
}

// Serve serves Path on ln until ctx is done, then shuts the server down.
func (m *Metrics) Serve(ctx context.Context, ln net.Listener, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle(Path, m.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", "error", err)
		}
	})
	defer stop()

	logger.Info("serving metrics", "addr", ln.Addr().String(), "path", Path)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}
