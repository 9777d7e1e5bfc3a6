package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer serves /metrics from its own registry.
type MetricsServer struct {
	registry *prometheus.Registry
	srv      *http.Server

	Rotation *RotationCollector
}

// New creates the registry and the rotation collectors under namespace.
func New(namespace, addr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace})); err != nil {
		return nil, err
	}

	rotation, err := NewRotationCollector(namespace, registry)
	if err != nil {
		return nil, err
	}

	m := &MetricsServer{registry: registry, Rotation: rotation}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	m.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return m, nil
}

// Registry returns the registry, for registering additional collectors.
func (m *MetricsServer) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *MetricsServer) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
