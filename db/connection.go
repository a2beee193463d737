// Package db stores generation history in SQLite: connection setup,
// embedded migrations, the generations repository and retention cleanup.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// pure Go driver, registers "sqlite"
	_ "modernc.org/sqlite"
)

// ErrClosed is returned by operations on a closed Database.
var ErrClosed = errors.New("db: database is closed")

// ConnectionConfig holds SQLite connection settings.
type ConnectionConfig struct {
	Path            string
	BusyTimeout     time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConnectionConfig returns WAL-friendly defaults: one writer and a
// five second busy timeout.
func DefaultConnectionConfig(path string) ConnectionConfig {
	return ConnectionConfig{
		Path:         path,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}
}

// NewSQLiteConnection opens path with WAL journaling and verifies the mode
// took effect.
//
//	conn, err := db.NewSQLiteConnection(ctx, db.DefaultConnectionConfig("history.db"))
func NewSQLiteConnection(ctx context.Context, cfg ConnectionConfig) (*sql.DB, error) {
	if cfg.Path == "" {
		return nil, errors.New("db: database path is required")
	}

	conn, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", cfg.Path, err)
	}
	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db: ping %s: %w", cfg.Path, err)
	}

	pragmas := []struct{ name, query string }{
		{"journal_mode", "PRAGMA journal_mode=WAL"},
		{"busy_timeout", fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout.Milliseconds())},
		{"synchronous", "PRAGMA synchronous=NORMAL"},
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p.query); err != nil {
			conn.Close()
			return nil, fmt.Errorf("db: set %s: %w", p.name, err)
		}
	}

	var mode string
	if err := conn.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db: read journal mode: %w", err)
	}
	if mode != "wal" {
		conn.Close()
		return nil, fmt.Errorf("db: WAL mode not enabled, got %q", mode)
	}
	return conn, nil
}
