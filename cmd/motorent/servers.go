package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"motorent/internal/metrics"
)

// startMonitoring starts the health server and, when enabled, the metrics server.
func (a *app) startMonitoring(ctx context.Context) {
	if a.cfg.Monitoring.HealthCheckPort == 0 {
		a.cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, a.cfg.Monitoring.HealthCheckPort, a, &a.logger)

	if a.cfg.Monitoring.PrometheusEnabled {
		if a.cfg.Monitoring.PrometheusPort == 0 {
			a.cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, a.cfg.Monitoring.PrometheusPort, &a.logger)
	}
}

func startHealthServer(ctx context.Context, port int, a *app, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := a.client.HealthCheck(ctxPing); err != nil {
			http.Error(w, "api not ready", http.StatusServiceUnavailable)
			return
		}
		if a.journal != nil {
			if err := a.journal.PingContext(ctxPing); err != nil {
				http.Error(w, "journal not ready", http.StatusServiceUnavailable)
				return
			}
		}
		if a.rdb != nil {
			if err := a.rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
