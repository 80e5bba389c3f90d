package stats

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes the persisted stats cache as live Prometheus gauges and
// counters, grounded on the pack's objectfs metrics collector: a private
// registry rather than the global default, an optional HTTP handler, and
// additive registration — the JSON cache in stats.Cache remains the
// durable record; this is read-only extra plumbing.
type Metrics struct {
	registry *prometheus.Registry

	syncedCharts     *prometheus.GaugeVec
	purgeableBytes   *prometheus.GaugeVec
	rateLimitedTotal prometheus.Counter

	server *http.Server
}

// NewMetrics builds the gauge/counter set and registers it with a fresh
// registry (never the global one, so multiple engine instances in one
// process never collide).
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "chartsync"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		syncedCharts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "synced_charts",
			Help:      "Number of charts currently synced, by drive.",
		}, []string{"drive"}),
		purgeableBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "purgeable_bytes",
			Help:      "Bytes of on-disk content currently eligible for purge, by drive.",
		}, []string{"drive"}),
		rateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Cumulative count of downloads that ended rate-limited.",
		}),
	}

	m.registry.MustRegister(m.syncedCharts, m.purgeableBytes, m.rateLimitedTotal)

	return m
}

// Observe pushes one drive's current SetlistStats total into the gauges.
func (m *Metrics) Observe(driveID string, total SetlistStats) {
	m.syncedCharts.WithLabelValues(driveID).Set(float64(total.SyncedCharts))
	m.purgeableBytes.WithLabelValues(driveID).Set(float64(total.PurgeableSize))
}

// AddRateLimited increments the rate-limited counter by n.
func (m *Metrics) AddRateLimited(n int) {
	if n <= 0 {
		return
	}

	m.rateLimitedTotal.Add(float64(n))
}

// Serve starts a /metrics HTTP handler on addr. It blocks until ctx is
// cancelled, then shuts the server down gracefully. Callers that don't
// want a live endpoint simply never call Serve — the gauges still work
// with any other promhttp.HandlerFor(registry, ...) the caller wires up.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	m.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("stats: metrics server: %w", err)

			return
		}

		errCh <- nil
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("stats: shutting down metrics server: %w", err)
	}

	return <-errCh
}
