package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// operations are bounded since the Backend interface carries no context
const postgresTimeout = 10 * time.Second

const postgresSchema = `
CREATE TABLE IF NOT EXISTS runlog_points (
	id         BIGSERIAL PRIMARY KEY,
	run_id     TEXT NOT NULL,
	step       BIGINT NOT NULL,
	ts         TIMESTAMPTZ NOT NULL,
	metric_key TEXT NOT NULL,
	value      DOUBLE PRECISION,
	text_value TEXT,
	is_text    BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_runlog_points_run_key_step ON runlog_points (run_id, metric_key, step);

CREATE TABLE IF NOT EXISTS runlog_run_attributes (
	run_id     TEXT NOT NULL,
	attr_key   TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, attr_key)
);`

// PostgresBackend implements Backend on a pgx connection pool
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend connects to dsn and creates the tables if missing
func NewPostgresBackend(dsn string) (*PostgresBackend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("RUNLOG_DB_URL is required for the postgres driver")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 4
	cfg.HealthCheckPeriod = 30 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), postgresTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &PostgresBackend{pool: pool}, nil
}

// WritePoints copies points in with a single batch
func (p *PostgresBackend) WritePoints(points []Point) error {
	if len(points) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), postgresTimeout)
	defer cancel()

	rows := make([][]any, len(points))
	for i, pt := range points {
		var value, text any
		if pt.IsText {
			text = pt.Text
		} else {
			value = pt.Value
		}
		rows[i] = []any{pt.RunID, pt.Step, pt.Timestamp, pt.Key, value, text, pt.IsText}
	}

	_, err := p.pool.CopyFrom(ctx,
		pgx.Identifier{"runlog_points"},
		[]string{"run_id", "step", "ts", "metric_key", "value", "text_value", "is_text"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy points: %w", err)
	}
	return nil
}

// SetAttribute upserts a run level value
func (p *PostgresBackend) SetAttribute(runID, key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), postgresTimeout)
	defer cancel()

	query := `
		INSERT INTO runlog_run_attributes (run_id, attr_key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id, attr_key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`
	if _, err := p.pool.Exec(ctx, query, runID, key, value); err != nil {
		return fmt.Errorf("upsert attribute: %w", err)
	}
	return nil
}

// ReadSeries retrieves the points of one key ordered by run and step
func (p *PostgresBackend) ReadSeries(runID, key string, start, end time.Time) ([]Point, error) {
	ctx, cancel := context.WithTimeout(context.Background(), postgresTimeout)
	defer cancel()

	query := `
		SELECT run_id, step, ts, metric_key, value, text_value, is_text
		FROM runlog_points
		WHERE metric_key = $1
		  AND ($2 = '' OR run_id = $2)
		  AND ($3::timestamptz IS NULL OR ts >= $3)
		  AND ($4::timestamptz IS NULL OR ts <= $4)
		ORDER BY run_id, step, id
	`
	rows, err := p.pool.Query(ctx, query, key, runID, nullTime(start), nullTime(end))
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var pt Point
		var value *float64
		var text *string
		if err := rows.Scan(&pt.RunID, &pt.Step, &pt.Timestamp, &pt.Key, &value, &text, &pt.IsText); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		if value != nil {
			pt.Value = *value
		}
		if text != nil {
			pt.Text = *text
		}
		points = append(points, pt)
	}
	return points, rows.Err()
}

// ReadAttributes returns the run level values
func (p *PostgresBackend) ReadAttributes(runID string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), postgresTimeout)
	defer cancel()

	rows, err := p.pool.Query(ctx,
		`SELECT attr_key, value FROM runlog_run_attributes WHERE run_id = $1`, runID)
	if err != nil {
		return nil, fmt.Errorf("query attributes: %w", err)
	}
	defer rows.Close()

	attrs := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		attrs[key] = value
	}
	return attrs, rows.Err()
}

// ListKeys returns the distinct keys of a run, all runs when runID is empty
func (p *PostgresBackend) ListKeys(runID string) ([]string, error) {
	return p.queryStrings(`
		SELECT DISTINCT metric_key FROM runlog_points
		WHERE ($1 = '' OR run_id = $1)
		ORDER BY metric_key
	`, runID)
}

// ListRuns returns every run id with points or attributes
func (p *PostgresBackend) ListRuns() ([]string, error) {
	return p.queryStrings(`
		SELECT run_id FROM runlog_points
		UNION SELECT run_id FROM runlog_run_attributes
		ORDER BY run_id
	`)
}

func (p *PostgresBackend) queryStrings(query string, args ...any) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), postgresTimeout)
	defer cancel()

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}
	return out, nil
}

// Close closes the pool
func (p *PostgresBackend) Close() error {
	p.pool.Close()
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
