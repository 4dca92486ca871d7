package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/bank-batch-pipeline/internal/app"
	"github.com/dvloznov/bank-batch-pipeline/internal/config"
	"github.com/dvloznov/bank-batch-pipeline/internal/jobs"
	"github.com/dvloznov/bank-batch-pipeline/internal/jobs/inmemory"
	"github.com/dvloznov/bank-batch-pipeline/internal/logger"
	"github.com/dvloznov/bank-batch-pipeline/internal/scheduler"
)

func main() {
	var (
		configPath  = flag.String("config", os.Getenv("PIPELINE_CONFIG"), "Path to YAML config (or set PIPELINE_CONFIG env)")
		metricsAddr = flag.String("metrics-addr", ":9090", "Address for the /metrics endpoint, empty to disable")
		runNow      = flag.Bool("run-now", false, "Enqueue yesterday's partition at startup")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewWithOptions(cfg.LoggerOptions())

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	// Initialize job store and queue
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(inmemory.QueueOptions{
		BufferSize: cfg.Worker.QueueSize,
		Workers:    cfg.Worker.Workers,
		MaxRetries: cfg.Worker.MaxRetries,
		RetryDelay: cfg.Worker.RetryDelay,
	}, jobStore)

	runJob := jobs.NewRunHandler(a.Runner)
	handler := func(ctx context.Context, job jobs.Job) error {
		ctx, cancel := context.WithTimeout(ctx, cfg.Worker.RunTimeout)
		defer cancel()
		return runJob(ctx, job)
	}

	// Start consuming jobs
	if err := jobQueue.Start(ctx, handler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	sched, err := scheduler.New(cfg.Worker.Schedule, jobQueue, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}
	sched.Start()

	if *runNow {
		if _, err := sched.Trigger(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to enqueue startup run")
		}
	}

	var metricsServer *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.Metrics.Handler())
		metricsServer = &http.Server{
			Addr:              *metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", *metricsAddr).Msg("Serving metrics")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	log.Info().
		Str("schedule", cfg.Worker.Schedule).
		Int("workers", cfg.Worker.Workers).
		Msg("Worker service started, waiting for jobs...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	sched.Stop()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to stop metrics server")
		}
	}

	// Stop the queue and wait for in-flight jobs, then cancel what is left
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
	cancel()

	log.Info().Msg("Worker service exited")
}
