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

	"github.com/dvloznov/bank-batch-pipeline/internal/api/handlers"
	"github.com/dvloznov/bank-batch-pipeline/internal/app"
	"github.com/dvloznov/bank-batch-pipeline/internal/config"
	"github.com/dvloznov/bank-batch-pipeline/internal/jobs"
	"github.com/dvloznov/bank-batch-pipeline/internal/jobs/inmemory"
	"github.com/dvloznov/bank-batch-pipeline/internal/logger"
)

func main() {
	// Parse command-line flags
	var (
		configPath = flag.String("config", os.Getenv("PIPELINE_CONFIG"), "Path to YAML config (or set PIPELINE_CONFIG env)")
		port       = flag.String("port", "", "HTTP server port (default: api.port from config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: load config: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.API.Port = *port
	}

	// Initialize logger
	log := logger.NewWithOptions(cfg.LoggerOptions())

	if cfg.API.APIKey == "" {
		log.Warn().Msg("No API key configured - /api endpoints are unauthenticated")
	}

	ctx := logger.WithContext(context.Background(), log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(inmemory.QueueOptions{
		BufferSize: cfg.Worker.QueueSize,
		Workers:    cfg.Worker.Workers,
		MaxRetries: cfg.Worker.MaxRetries,
		RetryDelay: cfg.Worker.RetryDelay,
	}, jobStore)

	// Start worker in background to process jobs
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	runJob := jobs.NewRunHandler(a.Runner)
	jobHandler := func(ctx context.Context, job jobs.Job) error {
		ctx, cancel := context.WithTimeout(ctx, cfg.Worker.RunTimeout)
		defer cancel()
		return runJob(ctx, job)
	}

	log.Info().Msg("Starting job worker")
	if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job worker")
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Publisher:  jobQueue,
		JobStore:   jobStore,
		Results:    a.Store,
		Metrics:    a.Metrics.Handler(),
		APIKey:     cfg.API.APIKey,
		MinQuality: a.MinQuality(),
		Log:        log,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.API.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", cfg.API.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
