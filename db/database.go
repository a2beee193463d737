package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Database owns the history connection: it creates the file and parent
// directory, migrates the schema, and closes once.
//
//	d, err := db.Open(ctx, cfg.History.DBPath)
//	if err != nil {
//	    return err
//	}
//	defer d.Close()
//	repo := db.NewRepository(d)
type Database struct {
	mu   sync.RWMutex
	conn *sql.DB
	path string
}

// Open prepares the database at path and applies pending migrations.
func Open(ctx context.Context, path string) (*Database, error) {
	if path == "" {
		return nil, fmt.Errorf("db: database path is required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("db: create directory %s: %w", dir, err)
		}
	}

	if err := MigrateUp(ctx, path); err != nil {
		return nil, err
	}

	conn, err := NewSQLiteConnection(ctx, DefaultConnectionConfig(path))
	if err != nil {
		return nil, err
	}
	return &Database{conn: conn, path: path}, nil
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.path
}

// live returns the open connection or ErrClosed.
func (d *Database) live() (*sql.DB, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.conn == nil {
		return nil, ErrClosed
	}
	return d.conn, nil
}

// Ping checks the connection, for health reporting.
func (d *Database) Ping(ctx context.Context) error {
	conn, err := d.live()
	if err != nil {
		return err
	}
	return conn.PingContext(ctx)
}

// Close closes the connection. Later calls return nil. It has the
// core.ShutdownFunc signature.
func (d *Database) Close(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	if err != nil {
		return fmt.Errorf("db: close: %w", err)
	}
	return nil
}
