package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/bank-batch-pipeline/internal/app"
	"github.com/dvloznov/bank-batch-pipeline/internal/config"
	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
	"github.com/dvloznov/bank-batch-pipeline/internal/logger"
	"github.com/dvloznov/bank-batch-pipeline/internal/notionsync"
)

func main() {
	// Parse CLI flags
	configPath := flag.String("config", os.Getenv("PIPELINE_CONFIG"), "Path to YAML config (or set PIPELINE_CONFIG env)")
	fromStr := flag.String("from", "", "First processing date YYYY-MM-DD (default: yesterday)")
	toStr := flag.String("to", "", "Last processing date YYYY-MM-DD (default: --from)")
	notionToken := flag.String("notion-token", os.Getenv("NOTION_TOKEN"), "Notion API token (or set NOTION_TOKEN env)")
	notionDBID := flag.String("notion-db-id", os.Getenv("NOTION_ANOMALY_DB_ID"), "Notion anomaly board database ID")
	minSeverity := flag.String("min-severity", string(domain.SeverityMedium), "Lowest severity to sync: LOW, MEDIUM, HIGH, CRITICAL")
	dryRun := flag.Bool("dry-run", false, "Dry run mode - preview changes without syncing")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewWithOptions(cfg.LoggerOptions())

	if *notionToken == "" {
		log.Fatal().Msg("Error: --notion-token is required")
	}
	if *notionDBID == "" {
		log.Fatal().Msg("Error: --notion-db-id is required")
	}

	from := civil.DateOf(time.Now().UTC()).AddDays(-1)
	if *fromStr != "" {
		if from, err = civil.ParseDate(*fromStr); err != nil {
			log.Fatal().Err(err).Str("from", *fromStr).Msg("Error: invalid --from, expected YYYY-MM-DD")
		}
	}
	to := from
	if *toStr != "" {
		if to, err = civil.ParseDate(*toStr); err != nil {
			log.Fatal().Err(err).Str("to", *toStr).Msg("Error: invalid --to, expected YYYY-MM-DD")
		}
	}
	if to.Before(from) {
		log.Fatal().
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Error: --to must not be before --from")
	}

	// Create context with timeout so CLI doesn't hang
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	stats, err := notionsync.SyncAnomalies(ctx, a.Store, notionsync.NewNotionClient(*notionToken), *notionDBID, from, to,
		notionsync.SyncOptions{MinSeverity: domain.Severity(*minSeverity), DryRun: *dryRun})
	if err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}

	fmt.Printf("Sync completed: %d created, %d updated, %d unchanged, %d failed.\n",
		stats.Created, stats.Updated, stats.Skipped, stats.Failed)
}
