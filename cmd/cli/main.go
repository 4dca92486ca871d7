package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/bank-batch-pipeline/internal/app"
	"github.com/dvloznov/bank-batch-pipeline/internal/config"
	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
	"github.com/dvloznov/bank-batch-pipeline/internal/gcs"
	"github.com/dvloznov/bank-batch-pipeline/internal/logger"
	"github.com/dvloznov/bank-batch-pipeline/internal/pipeline"
	"github.com/dvloznov/bank-batch-pipeline/internal/samplegen"
	"github.com/dvloznov/bank-batch-pipeline/internal/source"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runRun(os.Args[2:])
	case "backfill":
		err = runBackfill(os.Args[2:])
	case "generate":
		err = runGenerate(os.Args[2:])
	case "upload":
		err = runUpload(os.Args[2:])
	case "verify":
		err = runVerify(os.Args[2:])
	case "inspect":
		err = runInspect(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Bank Batch Pipeline CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  run       Process one processing date")
	fmt.Println("  backfill  Process a range of dates")
	fmt.Println("  generate  Write a synthetic batch for a date")
	fmt.Println("  upload    Upload a local batch file to GCS")
	fmt.Println("  verify    Check what was loaded for a date")
	fmt.Println("  inspect   Print aggregates and anomalies for a date")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// env is what every subcommand starts from.
type env struct {
	cfg *config.Config
	log zerolog.Logger
	ctx context.Context
}

func newEnv(fs *flag.FlagSet, args []string) (*env, error) {
	configPath := fs.String("config", os.Getenv("PIPELINE_CONFIG"), "Path to YAML config (or set PIPELINE_CONFIG env)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.NewWithOptions(cfg.LoggerOptions())
	return &env{cfg: cfg, log: log, ctx: logger.WithContext(context.Background(), log)}, nil
}

func parseDate(s string) (civil.Date, error) {
	if s == "" {
		return civil.DateOf(time.Now().UTC()).AddDays(-1), nil
	}
	d, err := civil.ParseDate(s)
	if err != nil {
		return civil.Date{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return d, nil
}

func printJSON(v interface{}) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

func runRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	dateStr := fs.String("date", "", "Processing date YYYY-MM-DD (default: yesterday)")
	e, err := newEnv(fs, args)
	if err != nil {
		return err
	}
	date, err := parseDate(*dateStr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.Worker.RunTimeout)
	defer cancel()

	a, err := app.New(ctx, e.cfg, e.log)
	if err != nil {
		return err
	}
	defer a.Close()

	res := a.Runner.Run(ctx, date)
	printJSON(res)
	if res.Status == domain.StatusFailed {
		return res.Err()
	}
	return nil
}

func runBackfill(args []string) error {
	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	fromStr := fs.String("from", "", "First processing date YYYY-MM-DD")
	toStr := fs.String("to", "", "Last processing date YYYY-MM-DD (inclusive)")
	parallel := fs.Int("parallel", 4, "Dates processed concurrently")
	e, err := newEnv(fs, args)
	if err != nil {
		return err
	}
	if *fromStr == "" || *toStr == "" {
		return fmt.Errorf("usage: cli backfill -from YYYY-MM-DD -to YYYY-MM-DD")
	}
	from, err := parseDate(*fromStr)
	if err != nil {
		return err
	}
	to, err := parseDate(*toStr)
	if err != nil {
		return err
	}
	dates := dateRange(from, to)
	if len(dates) == 0 {
		return fmt.Errorf("-to %s is before -from %s", to, from)
	}

	a, err := app.New(e.ctx, e.cfg, e.log)
	if err != nil {
		return err
	}
	defer a.Close()

	var (
		mu      sync.Mutex
		summary = make(map[domain.RunStatus][]string)
	)
	g, ctx := errgroup.WithContext(e.ctx)
	g.SetLimit(*parallel)
	for _, d := range dates {
		g.Go(func() error {
			runCtx, cancel := context.WithTimeout(ctx, e.cfg.Worker.RunTimeout)
			defer cancel()
			res := a.Runner.Run(runCtx, d)

			mu.Lock()
			summary[res.Status] = append(summary[res.Status], d.String())
			mu.Unlock()

			// Only a cancelled backfill stops the remaining dates.
			if res.Status == domain.StatusFailed && ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		})
	}
	err = g.Wait()

	printJSON(summary)
	if err != nil {
		return err
	}
	if n := len(summary[domain.StatusFailed]); n > 0 {
		return fmt.Errorf("%d of %d dates failed", n, len(dates))
	}
	return nil
}

// dateRange returns every date from from to to, both inclusive.
func dateRange(from, to civil.Date) []civil.Date {
	var out []civil.Date
	for d := from; !d.After(to); d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}

func runGenerate(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	defaults := samplegen.DefaultOptions()
	dateStr := fs.String("date", "", "Processing date YYYY-MM-DD (default: yesterday)")
	records := fs.Int("records", defaults.Records, "Number of records before duplicates")
	seed := fs.Int64("seed", defaults.Seed, "Random seed, combined with the date")
	nullRate := fs.Float64("null-rate", defaults.NullRate, "Share of records with a missing field")
	invalidRate := fs.Float64("invalid-rate", defaults.InvalidRate, "Share of records with an out-of-range amount")
	dupRate := fs.Float64("duplicate-rate", defaults.DuplicateRate, "Share of records duplicated")
	out := fs.String("out", "", "Local path or gs:// URI (default: where the configured source reads from)")
	e, err := newEnv(fs, args)
	if err != nil {
		return err
	}
	date, err := parseDate(*dateStr)
	if err != nil {
		return err
	}

	opts := defaults
	opts.Records = *records
	opts.Seed = *seed
	opts.NullRate = *nullRate
	opts.InvalidRate = *invalidRate
	opts.DuplicateRate = *dupRate
	batch := samplegen.Generate(date, opts)

	sc := e.cfg.Source
	var buf bytes.Buffer
	if err := source.Encode(sc.Format, &buf, batch.Fields, batch.Records); err != nil {
		return err
	}

	target := *out
	if target == "" {
		target = defaultTarget(sc, date)
	}
	if err := writeTarget(e.ctx, target, buf.Bytes(), source.ContentType(sc.Format)); err != nil {
		return err
	}

	e.log.Info().
		Str("processing_date", date.String()).
		Int("records", len(batch.Records)).
		Str("target", target).
		Msg("Batch generated")
	return nil
}

func defaultTarget(sc config.SourceConfig, date civil.Date) string {
	name := source.ObjectName(sc.Prefix, date, sc.Format)
	if sc.Kind == config.SourceGCS {
		return gcs.URI(sc.Bucket, name)
	}
	return filepath.Join(sc.Dir, filepath.FromSlash(name))
}

func writeTarget(ctx context.Context, target string, data []byte, contentType string) error {
	if !strings.HasPrefix(target, "gs://") {
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", target, err)
		}
		return os.WriteFile(target, data, 0o644)
	}

	bucket, object, err := gcs.ParseURI(target)
	if err != nil {
		return err
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Upload(ctx, bucket, object, data, contentType)
}

func runUpload(args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	filePath := fs.String("file", "", "Path to local batch file")
	dateStr := fs.String("date", "", "Processing date the file belongs to (default: yesterday)")
	e, err := newEnv(fs, args)
	if err != nil {
		return err
	}
	if *filePath == "" {
		return fmt.Errorf("usage: cli upload -file PATH [-date YYYY-MM-DD]")
	}
	if e.cfg.Source.Bucket == "" {
		return fmt.Errorf("source.bucket (or GCS_BUCKET) is required")
	}
	date, err := parseDate(*dateStr)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(*filePath)
	if err != nil {
		return fmt.Errorf("read %s: %w", *filePath, err)
	}
	sc := e.cfg.Source
	uri := gcs.URI(sc.Bucket, source.ObjectName(sc.Prefix, date, sc.Format))

	e.log.Info().
		Str("file", *filePath).
		Str("uri", uri).
		Msg("Uploading batch to GCS")

	if err := writeTarget(e.ctx, uri, data, source.ContentType(sc.Format)); err != nil {
		return err
	}
	fmt.Printf("Uploaded %s to %s\n", *filePath, uri)
	return nil
}

func runVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	dateStr := fs.String("date", "", "Processing date YYYY-MM-DD (default: yesterday)")
	minQuality := fs.Float64("min-quality", -1, "Average quality below which a warning is reported (default: from config)")
	e, err := newEnv(fs, args)
	if err != nil {
		return err
	}
	date, err := parseDate(*dateStr)
	if err != nil {
		return err
	}

	a, err := app.New(e.ctx, e.cfg, e.log)
	if err != nil {
		return err
	}
	defer a.Close()

	threshold := a.MinQuality()
	if *minQuality >= 0 {
		threshold = *minQuality
	}
	res, err := pipeline.VerifyLoad(e.ctx, a.Store, date, threshold)
	if err != nil {
		return err
	}
	printJSON(res)
	return nil
}

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dateStr := fs.String("date", "", "Processing date YYYY-MM-DD (default: yesterday)")
	e, err := newEnv(fs, args)
	if err != nil {
		return err
	}
	date, err := parseDate(*dateStr)
	if err != nil {
		return err
	}

	a, err := app.New(e.ctx, e.cfg, e.log)
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.Store.ReadAggregates(e.ctx, date)
	if err != nil {
		return err
	}
	anomalies, err := a.Store.ReadAnomalies(e.ctx, date)
	if err != nil {
		return err
	}

	fmt.Printf("\n=== Aggregates for %s (%d) ===\n", date, len(rows))
	for _, r := range rows {
		fmt.Printf("\n%s\n", r.BankID)
		fmt.Printf("   Volume:    %s over %d transactions\n", r.TotalVolume.StringFixed(2), r.TransactionCount)
		fmt.Printf("   Average:   %s (median %s)\n", r.AvgTransactionValue.StringFixed(2), r.MedianTransactionValue.StringFixed(2))
		fmt.Printf("   Customers: %d\n", r.UniqueCustomers)
		fmt.Printf("   Quality:   %.2f\n", r.DataQualityScore)
	}

	fmt.Printf("\n=== Anomalies (%d) ===\n", len(anomalies))
	for i, an := range anomalies {
		fmt.Printf("\n%d. [%s] %s %s\n", i+1, an.Severity, an.BankID, an.Class)
		fmt.Printf("   %s\n", an.Description)
		if an.TransactionID != "" {
			fmt.Printf("   Transaction: %s\n", an.TransactionID)
		}
	}
	fmt.Println()
	return nil
}
