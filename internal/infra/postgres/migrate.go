package postgres

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func newMigrator(databaseURL string) (*migrate.Migrate, *sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open: %w", err)
	}

	driver, err := pgmigrate.WithInstance(db, &pgmigrate.Config{})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("postgres.WithInstance: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("iofs.New: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate.NewWithInstance: %w", err)
	}
	return m, db, nil
}

// Migrate applies all pending migrations and returns the schema version
// before and after.
func Migrate(databaseURL string) (pre, post uint, err error) {
	m, db, err := newMigrator(databaseURL)
	if err != nil {
		return 0, 0, err
	}
	defer db.Close()

	pre, err = version(m)
	if err != nil {
		return 0, 0, fmt.Errorf("pre-migration version: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return pre, pre, fmt.Errorf("migrate up: %w", err)
	}

	post, err = version(m)
	if err != nil {
		return pre, 0, fmt.Errorf("post-migration version: %w", err)
	}
	return pre, post, nil
}

// MigrateDown rolls back every migration.
func MigrateDown(databaseURL string) error {
	m, db, err := newMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

func version(m *migrate.Migrate) (uint, error) {
	v, _, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	return v, err
}
