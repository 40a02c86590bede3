// Package metrics exposes Prometheus instrumentation for the gateway and a
// standalone metrics HTTP server, kept separate from the API listener.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gateway-wide counters. Registered on the default registry so the metrics
// server picks them up without extra wiring.
var (
	TokenCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trust_token_cache_hits_total",
		Help: "Trust tokens served from the in-memory cache.",
	})
	TokenFetches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trust_token_fetches_total",
		Help: "Trust tokens fetched from the local management API.",
	})
	ProxiedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trust_proxied_requests_total",
		Help: "Requests proxied to trusted devices, by method.",
	}, []string{"method"})
	DevicesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trust_devices_created_total",
		Help: "Device trusts created by the reconciler.",
	})
	DevicesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trust_devices_deleted_total",
		Help: "Device trusts deleted by the reconciler.",
	})
	MonitorCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trust_monitor_cycles_total",
		Help: "Completed device monitoring cycles.",
	})
	DevicesDown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trust_devices_down",
		Help: "Hosts currently on the down-device list.",
	})
)

// MetricsServer serves the Prometheus scrape endpoint.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on listenAddr. The namespace
// argument is kept for parity with build-info labelling.
func New(namespace, listenAddr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:         listenAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
	}, nil
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
