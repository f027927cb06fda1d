// Package metrics exports screening counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haukened/rr-dnsbl/internal/dnsbl/common/log"
	"github.com/haukened/rr-dnsbl/internal/dnsbl/services/screening"
)

const namespace = "dnsbl"

// Metrics implements screening.Metrics on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	lookups  *prometheus.CounterVec
	hits     *prometheus.CounterVec
	garbage  *prometheus.CounterVec
	rejected *prometheus.CounterVec
	pending  prometheus.Gauge
}

// New registers the screening collectors plus the Go and process collectors
// on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Total number of blacklist lookups issued.",
		}, []string{"list"}),
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hits_total",
			Help:      "Total number of lookups that matched a blacklist.",
		}, []string{"list"}),
		garbage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "garbage_replies_total",
			Help:      "Total number of malformed blacklist replies.",
		}, []string{"list"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_total",
			Help:      "Total number of clients refused because of a blacklist listing.",
		}, []string{"list"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_lookups",
			Help:      "Number of blacklist lookups in flight.",
		}),
	}
	m.registry.MustRegister(
		m.lookups, m.hits, m.garbage, m.rejected, m.pending,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) LookupIssued(list string)   { m.lookups.WithLabelValues(list).Inc() }
func (m *Metrics) ListHit(list string)        { m.hits.WithLabelValues(list).Inc() }
func (m *Metrics) GarbageReply(list string)   { m.garbage.WithLabelValues(list).Inc() }
func (m *Metrics) ClientRejected(list string) { m.rejected.WithLabelValues(list).Inc() }
func (m *Metrics) PendingLookups(delta int)   { m.pending.Add(float64(delta)) }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger log.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info(map[string]any{"address": addr}, "Metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

var _ screening.Metrics = (*Metrics)(nil)
