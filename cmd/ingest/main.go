package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/bank-batch-pipeline/internal/app"
	"github.com/dvloznov/bank-batch-pipeline/internal/config"
	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
	"github.com/dvloznov/bank-batch-pipeline/internal/logger"
	"github.com/dvloznov/bank-batch-pipeline/internal/pipeline"
)

// Exit codes.
const (
	exitSuccess = 0
	exitFailed  = 1
	exitPartial = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse CLI flags
	var (
		dateStr    = flag.String("date", "", "Processing date YYYY-MM-DD (default: yesterday, UTC)")
		configPath = flag.String("config", os.Getenv("PIPELINE_CONFIG"), "Path to YAML config (or set PIPELINE_CONFIG env)")
		timeout    = flag.Duration("timeout", 0, "Run timeout (default: worker.run_timeout from config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: load config: %v\n", err)
		return exitFailed
	}
	log := logger.NewWithOptions(cfg.LoggerOptions())

	date, err := processingDate(*dateStr, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("Invalid --date")
		return exitFailed
	}

	if *timeout == 0 {
		*timeout = cfg.Worker.RunTimeout
	}
	// Create context with timeout so the run doesn't hang
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize")
		return exitFailed
	}
	defer a.Close()

	log.Info().Str("processing_date", date.String()).Msg("Starting ingestion")
	res := a.Runner.Run(ctx, date)

	out, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(out))

	return exitCode(res)
}

func processingDate(s string, now time.Time) (civil.Date, error) {
	if s == "" {
		return civil.DateOf(now.UTC()).AddDays(-1), nil
	}
	return civil.ParseDate(s)
}

func exitCode(res *pipeline.RunResult) int {
	switch res.Status {
	case domain.StatusSuccess:
		return exitSuccess
	case domain.StatusPartial:
		return exitPartial
	}
	return exitFailed
}
