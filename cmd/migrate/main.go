package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/bank-batch-pipeline/internal/infra/postgres"
	"github.com/dvloznov/bank-batch-pipeline/internal/logger"
)

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// migrationPattern matches migration files: 0001_name.sql
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

func main() {
	var (
		target        = flag.String("target", "bigquery", "Migration target: bigquery or postgres")
		projectID     = flag.String("project", os.Getenv("BQ_PROJECT"), "GCP project ID (bigquery)")
		datasetID     = flag.String("dataset", "banking", "BigQuery dataset ID")
		appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
		migrationsDir = flag.String("migrations", "migrations/bigquery", "Path to BigQuery migrations directory")
		databaseURL   = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL URL (postgres)")
		down          = flag.Bool("down", false, "Roll every PostgreSQL migration back")
	)
	flag.Parse()

	log := logger.New()
	ctx := logger.WithContext(context.Background(), log)

	var err error
	switch *target {
	case "bigquery":
		err = migrateBigQuery(ctx, log, *projectID, *datasetID, *appliedBy, *migrationsDir)
	case "postgres":
		err = migratePostgres(log, *databaseURL, *down)
	default:
		err = fmt.Errorf("unknown target %q", *target)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}

func migratePostgres(log zerolog.Logger, databaseURL string, down bool) error {
	if databaseURL == "" {
		return fmt.Errorf("-database-url is required for postgres")
	}
	if down {
		if err := postgres.MigrateDown(databaseURL); err != nil {
			return err
		}
		log.Info().Msg("Rolled back all PostgreSQL migrations")
		return nil
	}
	before, after, err := postgres.Migrate(databaseURL)
	if err != nil {
		return err
	}
	if before == after {
		log.Info().Uint("version", after).Msg("No new migrations to apply. Database is up to date.")
		return nil
	}
	log.Info().Uint("from", before).Uint("to", after).Msg("Applied PostgreSQL migrations")
	return nil
}

// bqMigrator applies the numbered SQL files in a directory to a dataset
// and records them in its schema_migrations table.
type bqMigrator struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	appliedBy string
	log       zerolog.Logger
}

func migrateBigQuery(ctx context.Context, log zerolog.Logger, projectID, datasetID, appliedBy, dir string) error {
	if projectID == "" {
		return fmt.Errorf("-project flag is required. Please specify your GCP project ID")
	}

	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return fmt.Errorf("create BigQuery client: %w", err)
	}
	defer client.Close()

	log.Info().Str("project", projectID).Str("dataset", datasetID).Msg("Connected to BigQuery")

	m := &bqMigrator{client: client, projectID: projectID, datasetID: datasetID, appliedBy: appliedBy, log: log}
	return m.run(ctx, dir)
}

func (m *bqMigrator) run(ctx context.Context, dir string) error {
	if err := m.ensureSchemaMigrationsTable(ctx); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	migrations, err := readMigrations(resolveDir(dir), m.projectID, m.datasetID, m.log)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	m.log.Info().Int("count", len(migrations)).Msg("Found migration files")

	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}
	m.log.Info().Int("count", len(applied)).Msg("Found already applied migrations")

	pending := pendingMigrations(migrations, applied, m.log)
	for _, mig := range pending {
		m.log.Info().Msgf("  [RUN]  %04d_%s", mig.Version, mig.Name)

		if err := m.exec(ctx, mig.SQL, nil); err != nil {
			return fmt.Errorf("execute migration %04d_%s: %w", mig.Version, mig.Name, err)
		}
		if err := m.record(ctx, mig); err != nil {
			return fmt.Errorf("record migration %04d_%s: %w", mig.Version, mig.Name, err)
		}

		m.log.Info().Msgf("  [OK]   %04d_%s", mig.Version, mig.Name)
	}

	if len(pending) == 0 {
		m.log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else {
		m.log.Info().Msgf("Successfully applied %d migration(s)", len(pending))
	}
	return nil
}

// pendingMigrations returns the migrations not yet applied. Applied files
// whose checksum changed since are reported but not re-run.
func pendingMigrations(all []Migration, applied []AppliedMigration, log zerolog.Logger) []Migration {
	byVersion := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		byVersion[am.Version] = am
	}

	var pending []Migration
	for _, mig := range all {
		am, ok := byVersion[mig.Version]
		if !ok {
			pending = append(pending, mig)
			continue
		}
		if am.Checksum != "" && am.Checksum != mig.Checksum {
			log.Warn().Msgf("  [DRIFT] %04d_%s changed after it was applied", mig.Version, mig.Name)
			continue
		}
		log.Debug().Msgf("  [SKIP] %04d_%s (already applied)", mig.Version, mig.Name)
	}
	return pending
}

// resolveDir falls back to the repository root when run from cmd/migrate.
func resolveDir(dir string) string {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if alt := filepath.Join("..", "..", dir); dirExists(alt) {
			return alt
		}
	}
	return dir
}

func dirExists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// readMigrations reads all migration files in dir, sorted by version, with
// the {{PROJECT_ID}} and {{DATASET_ID}} placeholders substituted. The
// checksum covers the file as written, before substitution.
func readMigrations(dir, projectID, datasetID string, log zerolog.Logger) ([]Migration, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []Migration
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		matches := migrationPattern.FindStringSubmatch(file.Name())
		if matches == nil {
			log.Warn().Str("file", file.Name()).Msg("Skipping file with invalid format")
			continue
		}
		version, err := strconv.Atoi(matches[1])
		if err != nil {
			log.Warn().Str("file", file.Name()).Msg("Skipping file with invalid version")
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", file.Name(), err)
		}

		sql := strings.ReplaceAll(string(content), "{{PROJECT_ID}}", projectID)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", datasetID)

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     matches[2],
			Filename: file.Name(),
			SQL:      sql,
			Checksum: checksum(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version == migrations[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %04d: %s and %s",
				migrations[i].Version, migrations[i-1].Filename, migrations[i].Filename)
		}
	}
	return migrations, nil
}

func checksum(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}

func (m *bqMigrator) table() string {
	return fmt.Sprintf("`%s.%s.schema_migrations`", m.projectID, m.datasetID)
}

func (m *bqMigrator) ensureSchemaMigrationsTable(ctx context.Context) error {
	return m.exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+m.table()+` (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)`, nil)
}

func (m *bqMigrator) appliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	it, err := m.client.Query(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM ` + m.table() + `
		ORDER BY version ASC`).Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64
			Name      string
			AppliedAt time.Time
			Checksum  bigquery.NullString
			AppliedBy bigquery.NullString
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}

		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

func (m *bqMigrator) record(ctx context.Context, mig Migration) error {
	return m.exec(ctx, `
		INSERT INTO `+m.table()+`
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)`,
		[]bigquery.QueryParameter{
			{Name: "version", Value: mig.Version},
			{Name: "name", Value: mig.Name},
			{Name: "checksum", Value: mig.Checksum},
			{Name: "applied_by", Value: m.appliedBy},
		})
}

// exec runs a statement and waits for the job to finish.
func (m *bqMigrator) exec(ctx context.Context, sql string, params []bigquery.QueryParameter) error {
	query := m.client.Query(sql)
	query.Parameters = params

	job, err := query.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
