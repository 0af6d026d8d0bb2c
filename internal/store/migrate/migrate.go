package migrate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/pulselabs/pulse/internal/store"
)

// RunMigrations applies all pending migrations using the embedded schema
// files (internal/store/schema/*.sql).
//
// pool must not be nil; call this only when DATABASE_URL is configured.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	return RunMigrationsFromFS(ctx, pool, store.SchemaFiles, "schema")
}

// RunMigrationsFromFS applies all pending migrations from the given fs.FS.
// Exposed for testing; production code should call RunMigrations instead.
func RunMigrationsFromFS(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, dir string) error {
	if pool == nil {
		return fmt.Errorf("migrate: nil pool, configure DATABASE_URL before running migrations")
	}

	sqlDB := stdlib.OpenDBFromPool(pool)

	driver, err := pgxv5.WithInstance(sqlDB, &pgxv5.Config{})
	if err != nil {
		return fmt.Errorf("migrate: create driver: %w", err)
	}

	src, err := iofs.New(fsys, dir)
	if err != nil {
		return fmt.Errorf("migrate: create source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("migrate: init: %w", err)
	}
	m.Log = &migrateLogger{}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: up: %w", err)
	}

	return nil
}

// migrateLogger bridges golang-migrate logging to standard log.
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }
