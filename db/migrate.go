package db

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// newMigrator opens a dedicated connection to path. migrate takes ownership
// of it, so closing the migrator closes the connection.
func newMigrator(ctx context.Context, path string) (*migrate.Migrate, error) {
	conn, err := NewSQLiteConnection(ctx, DefaultConnectionConfig(path))
	if err != nil {
		return nil, err
	}

	driver, err := sqlite.WithInstance(conn, &sqlite.Config{DatabaseName: "main"})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("db: migrate driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		driver.Close()
		return nil, fmt.Errorf("db: migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		driver.Close()
		return nil, fmt.Errorf("db: migrate instance: %w", err)
	}
	return m, nil
}

func closeMigrator(m *migrate.Migrate, err error) error {
	srcErr, dbErr := m.Close()
	return errors.Join(err, srcErr, dbErr)
}

// MigrateUp applies every pending migration. No pending migrations is not
// an error.
func MigrateUp(ctx context.Context, path string) error {
	m, err := newMigrator(ctx, path)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return closeMigrator(m, fmt.Errorf("db: apply migrations: %w", err))
	}
	return closeMigrator(m, nil)
}

// MigrateDown rolls back steps migrations, or all of them when steps < 0.
func MigrateDown(ctx context.Context, path string, steps int) error {
	m, err := newMigrator(ctx, path)
	if err != nil {
		return err
	}
	if steps < 0 {
		err = m.Down()
	} else {
		err = m.Steps(-steps)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return closeMigrator(m, fmt.Errorf("db: roll back migrations: %w", err))
	}
	return closeMigrator(m, nil)
}

// MigrationVersion returns the applied schema version and dirty flag.
// A fresh database reports version 0.
func MigrationVersion(ctx context.Context, path string) (uint, bool, error) {
	m, err := newMigrator(ctx, path)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, closeMigrator(m, nil)
	}
	if err != nil {
		return 0, false, closeMigrator(m, fmt.Errorf("db: read migration version: %w", err))
	}
	return version, dirty, closeMigrator(m, nil)
}
