package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"churchtransport/internal/api"
	"churchtransport/internal/buildinfo"
	"churchtransport/internal/config"
	"churchtransport/internal/metrics"
	"churchtransport/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.NewLogger(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	for _, key := range cfg.Missing() {
		log.Warn("configuration missing, dependent features will fail at call time", "key", key)
	}

	srv, err := api.NewServer(cfg, log)
	if err != nil {
		log.Fatal("failed to init server", "error", err)
	}
	metrics.RegisterDefault()

	mux := http.NewServeMux()
	mux.Handle("/", srv.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Middleware(mux),
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		ReadHeaderTimeout: 5 * time.Second,
	}

	worker := srv.NewWebhookWorker()
	worker.Start()

	go func() {
		log.Info("API listening", "addr", cfg.Addr(), "version", buildinfo.Version, "auth_mode", cfg.AuthMode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	worker.Close()
	if c, ok := srv.Broker.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	if c, ok := srv.Store.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	log.Info("server stopped")
}
