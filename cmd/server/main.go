// Package main is the entry point for the Sentinel offload service.
//
// The service owns one offload executor, exposes its status over HTTP and
// periodically logs its metrics summary. When the process pool is enabled the
// same binary is re-executed as a worker child, so procpool.MaybeServe must
// run before anything else in main.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	// Registers the feature computation for process workers
	_ "github.com/aristath/sentinel-offload/internal/benchmark"
	"github.com/aristath/sentinel-offload/internal/config"
	"github.com/aristath/sentinel-offload/internal/executor"
	"github.com/aristath/sentinel-offload/internal/metrics"
	"github.com/aristath/sentinel-offload/internal/pool/procpool"
	"github.com/aristath/sentinel-offload/internal/scheduler"
	"github.com/aristath/sentinel-offload/internal/server"
	"github.com/aristath/sentinel-offload/pkg/logger"
)

func main() {
	// Worker children never return from here
	procpool.MaybeServe()

	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting Sentinel offload service")

	exec, err := executor.New(cfg.Offload.ToPoolConfiguration(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid executor configuration")
	}

	// Prometheus registry for /metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	exec.Recorder().AddObserver(metrics.NewPrometheusObserver(registry, func() float64 {
		return float64(exec.QueueDepth())
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := exec.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start executor")
	}

	sched := scheduler.New(log)
	if cfg.Offload.SummarySchedule != "" {
		if err := sched.AddJob(cfg.Offload.SummarySchedule, scheduler.NewSummaryJob(exec, log)); err != nil {
			log.Fatal().Err(err).Msg("Failed to register summary job")
		}
	}
	sched.Start()

	srv := server.New(server.Config{
		Log:      log,
		Port:     cfg.Port,
		DevMode:  cfg.DevMode,
		Executor: exec,
		Gatherer: registry,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().
		Int("port", cfg.Port).
		Int("thread_workers", exec.Config().ThreadWorkers).
		Int("process_workers", exec.Config().ProcessWorkers).
		Msg("Sentinel offload service started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if err := sched.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Scheduler did not stop cleanly")
	}

	// Final summary before the window is gone
	if err := scheduler.NewSummaryJob(exec, log).Run(); err != nil {
		log.Warn().Err(err).Msg("Failed to log final summary")
	}

	if err := exec.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Executor did not stop cleanly")
	}
	cancel()

	log.Info().Msg("Server stopped")
}
