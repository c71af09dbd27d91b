// Command cache-diag builds a cache Manager from the environment and reports
// its health and statistics. With DIAG_ADDR set it serves them over HTTP
// alongside Prometheus metrics until interrupted; otherwise it prints one
// JSON report and exits.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aimake-cache/internal/cache"
	"aimake-cache/internal/common/logging"
	"aimake-cache/internal/config"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "cache-diag: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is fine; the environment may already be set
	_ = godotenv.Load()

	cfg := config.Load()

	logger, err := logging.NewZapLogger(logging.LogConfig{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Output: os.Stderr, // stdout carries the JSON report
		Name:   "cache-diag",
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	logging.SetGlobalLogger(logger)
	defer logging.MustSync()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	manager, err := cache.NewManager(cfg.ToCacheConfig(),
		cache.WithLogger(logger),
		cache.WithMetricsRegisterer(registry),
	)
	if err != nil {
		return fmt.Errorf("failed to build cache manager: %w", err)
	}
	defer manager.Cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = manager.Initialize(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}

	if cfg.DiagAddr == "" {
		return printReport(manager)
	}
	return serve(cfg.DiagAddr, manager, registry, logger)
}

func printReport(manager *cache.Manager) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	report := map[string]interface{}{
		"health": manager.HealthCheck(ctx),
		"stats":  manager.GetStats(ctx),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func serve(addr string, manager *cache.Manager, registry *prometheus.Registry, logger logging.Logger) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      newRouter(manager, registry),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Diagnostics server starting", logging.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("diagnostics server failed: %w", err)
	case <-quit:
	}

	logger.Info("Shutting down diagnostics server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return srv.Shutdown(ctx)
}
