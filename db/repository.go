package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fluxserve/fluxruntime"
)

// Generation statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// timeLayout is fixed width so created_at sorts lexicographically.
const timeLayout = "2006-01-02 15:04:05.000"

// ErrNotFound is returned when no generation matches.
var ErrNotFound = errors.New("db: generation not found")

// Generation is one row of the generations table.
type Generation struct {
	ID           int64     `json:"id"`
	RequestID    string    `json:"request_id"`
	Operation    string    `json:"operation"`
	ModelDir     string    `json:"model_dir"`
	Prompt       string    `json:"prompt"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	Steps        int       `json:"steps"`
	Guidance     float64   `json:"guidance"`
	Seed         int64     `json:"seed"`
	Strength     float64   `json:"strength"`
	Status       string    `json:"status"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	OutputPath   string    `json:"output_path,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// GenerationFromRecord converts a Service record into a row.
func GenerationFromRecord(rec fluxruntime.GenerationRecord) Generation {
	g := Generation{
		RequestID:    rec.RequestID,
		Operation:    rec.Operation,
		ModelDir:     rec.ModelDir,
		Prompt:       rec.Prompt,
		Width:        rec.Width,
		Height:       rec.Height,
		Steps:        rec.Steps,
		Guidance:     rec.Guidance,
		Seed:         rec.Seed,
		Strength:     rec.Strength,
		Status:       StatusSuccess,
		ErrorKind:    rec.ErrorKind,
		ErrorMessage: rec.ErrorMessage,
		OutputPath:   rec.OutputPath,
		DurationMS:   rec.Duration.Milliseconds(),
		CreatedAt:    rec.CreatedAt,
	}
	if !rec.OK {
		g.Status = StatusError
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	return g
}

// Stats summarises the generations table.
type Stats struct {
	Total         int64            `json:"total"`
	Succeeded     int64            `json:"succeeded"`
	Failed        int64            `json:"failed"`
	AvgDurationMS float64          `json:"avg_duration_ms"`
	FailedByKind  map[string]int64 `json:"failed_by_kind"`
}

// Repository reads and writes generation rows.
type Repository struct {
	db *Database
}

// NewRepository returns a repository over d.
func NewRepository(d *Database) *Repository {
	return &Repository{db: d}
}

const generationColumns = `request_id, operation, model_dir, prompt, width, height,
	steps, guidance, seed, strength, status, error_kind, error_message,
	output_path, duration_ms, created_at`

// InsertGeneration stores g and returns its id.
func (r *Repository) InsertGeneration(ctx context.Context, g Generation) (int64, error) {
	conn, err := r.db.live()
	if err != nil {
		return 0, err
	}

	res, err := conn.ExecContext(ctx,
		`INSERT INTO generations (`+generationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.RequestID, g.Operation, g.ModelDir, g.Prompt, g.Width, g.Height,
		g.Steps, g.Guidance, g.Seed, g.Strength, g.Status,
		nullString(g.ErrorKind), nullString(g.ErrorMessage), nullString(g.OutputPath),
		g.DurationMS, formatTime(g.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("db: insert generation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("db: last insert id: %w", err)
	}
	return id, nil
}

// ListRecent returns up to limit rows, newest first. limit <= 0 means 20.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]Generation, error) {
	conn, err := r.db.live()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT id, `+generationColumns+` FROM generations
		ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("db: list generations: %w", err)
	}
	defer rows.Close()

	var out []Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: iterate generations: %w", err)
	}
	return out, nil
}

// GetByRequestID returns the row recorded for a request ID.
func (r *Repository) GetByRequestID(ctx context.Context, requestID string) (Generation, error) {
	conn, err := r.db.live()
	if err != nil {
		return Generation{}, err
	}
	row := conn.QueryRowContext(ctx,
		`SELECT id, `+generationColumns+` FROM generations
		WHERE request_id = ? ORDER BY id DESC LIMIT 1`, requestID)
	g, err := scanGeneration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Generation{}, ErrNotFound
	}
	return g, err
}

// Stats aggregates counts and the mean successful duration.
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	conn, err := r.db.live()
	if err != nil {
		return Stats{}, err
	}

	st := Stats{FailedByKind: map[string]int64{}}
	err = conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(CASE WHEN status = ? THEN duration_ms END), 0.0)
		FROM generations`, StatusSuccess, StatusSuccess,
	).Scan(&st.Total, &st.Succeeded, &st.AvgDurationMS)
	if err != nil {
		return Stats{}, fmt.Errorf("db: generation stats: %w", err)
	}
	st.Failed = st.Total - st.Succeeded

	rows, err := conn.QueryContext(ctx, `
		SELECT COALESCE(error_kind, 'unknown'), COUNT(*) FROM generations
		WHERE status = ? GROUP BY 1`, StatusError)
	if err != nil {
		return Stats{}, fmt.Errorf("db: failure stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return Stats{}, fmt.Errorf("db: scan failure stats: %w", err)
		}
		st.FailedByKind[kind] = n
	}
	return st, rows.Err()
}

// DeleteOlderThan removes rows created before cutoff and returns how many.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	conn, err := r.db.live()
	if err != nil {
		return 0, err
	}
	res, err := conn.ExecContext(ctx, `DELETE FROM generations WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("db: delete generations: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of stored rows.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	conn, err := r.db.live()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM generations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("db: count generations: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGeneration(s scanner) (Generation, error) {
	var (
		g                   Generation
		kind, message, path sql.NullString
		createdAt           string
	)
	err := s.Scan(&g.ID, &g.RequestID, &g.Operation, &g.ModelDir, &g.Prompt,
		&g.Width, &g.Height, &g.Steps, &g.Guidance, &g.Seed, &g.Strength,
		&g.Status, &kind, &message, &path, &g.DurationMS, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return g, err
		}
		return g, fmt.Errorf("db: scan generation: %w", err)
	}
	g.ErrorKind = kind.String
	g.ErrorMessage = message.String
	g.OutputPath = path.String
	g.CreatedAt, _ = time.ParseInLocation(timeLayout, createdAt, time.UTC)
	return g, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// nullString stores "" as NULL.
func nullString(s string) any {
	if s == "" {
		return sql.NullString{}
	}
	return s
}
