// bridged is the HTTP API server bridging job submissions to an external
// batch scheduler through configurable command templates.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"batchbridge/internal/api"
	"batchbridge/internal/backend"
	"batchbridge/internal/config"
	"batchbridge/internal/dispatcher"
	"batchbridge/internal/health"
	"batchbridge/internal/observability"
	"batchbridge/internal/runner"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load configuration
	svcCfg := config.LoadServiceConfig()
	backendCfg := config.LoadBackendConfig()
	runnerCfg := config.LoadRunnerConfig()
	dispatcherCfg := dispatcher.LoadConfigFromEnv()

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Create callback dispatcher
	eventDispatcher := dispatcher.NewMemory(dispatcherCfg, metrics)

	// Select the process runner
	cmdRunner, err := newRunner(runnerCfg)
	if err != nil {
		return err
	}

	// Create the scheduler backend adapter. Construction validates all
	// templates, the job-id regex, and the runtime-attributes schema, and
	// resolves the temporary directory; a bad configuration fails here,
	// never at request time.
	adapter, err := backend.New(ctx, backend.Config{
		Backend:    backendCfg,
		Runner:     cmdRunner,
		Dispatcher: eventDispatcher,
		Metrics:    metrics,
	})
	if err != nil {
		return err
	}
	defer adapter.Close()

	slog.Info("Backend adapter ready",
		"runner", runnerCfg.Kind,
		"concurrent_job_limit", backendCfg.ConcurrentJobLimit,
		"localization", adapter.Localization(),
	)

	// Create health checker
	healthChecker := health.NewChecker(adapter)

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		Handler: api.NewHandler(adapter, healthChecker),
		Metrics: metrics,
		APIKey:  svcCfg.APIKey,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY configured")
	}

	// Create API server
	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 1)

	// Start API server
	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Start metrics server
	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: Graceful shutdown - finish in-flight submit/poll/kill requests
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Drain callback dispatcher
	slog.Info("Draining callback dispatcher")
	dispatcherCtx, dispatcherCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dispatcherCancel()
	if err := eventDispatcher.Close(dispatcherCtx); err != nil {
		slog.Warn("Dispatcher shutdown error", "error", err)
	}

	stats := eventDispatcher.Stats()
	slog.Info("Dispatcher stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)

	// Submitted jobs keep running on the external scheduler; a restarted
	// service rediscovers them through check-alive polls driven by clients.
	slog.Info("Shutdown complete")
	return nil
}

// newRunner builds the configured runner implementation.
func newRunner(cfg *config.RunnerConfig) (runner.Runner, error) {
	switch cfg.Kind {
	case "local":
		return runner.NewLocal(cfg.Shell), nil
	case "docker":
		return runner.NewDocker(runner.DockerConfig{
			Image: cfg.Image,
			Shell: cfg.Shell,
			Binds: cfg.Binds,
		})
	default:
		return nil, fmt.Errorf("unknown runner %q (expected local or docker)", cfg.Kind)
	}
}
