// Package mdmetrics owns the shared Prometheus registry every other
// package's metrics are registered against (internal/workqueue.NewMetrics
// takes a prometheus.Registerer and is wired against this registry in
// cmd/mdcore/main.go; other packages' metrics follow the same shape),
// and exposes it over HTTP. Adapted from the teacher's
// internal/metrics/metrics_module.go, which does the same thing for its
// websocket/peerjs metrics.
package mdmetrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics HTTP exposition endpoint.
type Config struct {
	Addr string // e.g. ":9090" (spec.md §6 Monitoring.PrometheusPort)
}

// Module wires the shared registry and its HTTP handler into an fx app,
// the same Provide/Invoke shape as the teacher's metrics Module.
var Module = fx.Options(
	fx.Provide(NewRegistry),
	fx.Invoke(registerHandler),
)

// NewRegistry creates the process-wide Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func registerHandler(lc fx.Lifecycle, registry *prometheus.Registry, cfg Config, logger *zap.Logger) {
	if cfg.Addr == "" {
		cfg.Addr = ":9090"
	}
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{Addr: cfg.Addr, Handler: mux}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("starting metrics server", zap.String("addr", server.Addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("metrics server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping metrics server")
			return server.Shutdown(ctx)
		},
	})
}
