package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nmslite/targetwatch/internal/config"
)

func metricsRouter(cfg config.MetricsConfig, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return r
}

// serveMetrics runs the Prometheus endpoint until ctx is done.
// It is a no-op when no listen address is configured.
func serveMetrics(ctx context.Context, cfg config.MetricsConfig, reg *prometheus.Registry, logger *slog.Logger) {
	if cfg.Listen == "" {
		return
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           metricsRouter(cfg, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("metrics endpoint listening", "addr", cfg.Listen, "path", cfg.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint failed", "error", err)
		}
	}()
}
