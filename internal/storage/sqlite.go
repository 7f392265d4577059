package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// SQLiteBackend implements Backend interface using SQLite database
type SQLiteBackend struct {
	db *sql.DB
}

// SQLiteConfig holds configuration for SQLite backend
type SQLiteConfig struct {
	DBPath string
}

// NewSQLiteBackend creates a new SQLite storage backend
func NewSQLiteBackend(config SQLiteConfig) (*SQLiteBackend, error) {
	db, err := sql.Open(sqliteDriver, config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with single connection, and ":memory:" databases
	// only exist on the connection that created them
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runSQLiteMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

// WritePoints inserts points in a single transaction
func (s *SQLiteBackend) WritePoints(points []Point) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO points
		(run_id, step, timestamp, metric_key, value, text_value, is_text)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		var value, text interface{}
		if p.IsText {
			text = p.Text
		} else {
			value = p.Value
		}

		_, err := stmt.Exec(
			p.RunID,
			p.Step,
			p.Timestamp.UnixNano(),
			p.Key,
			value,
			text,
			p.IsText,
		)
		if err != nil {
			return fmt.Errorf("failed to insert point: %w", err)
		}
	}

	return tx.Commit()
}

// SetAttribute upserts a run level value
func (s *SQLiteBackend) SetAttribute(runID, key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO run_attributes (run_id, attr_key, value)
		VALUES (?, ?, ?)`, runID, key, value)
	if err != nil {
		return fmt.Errorf("failed to set attribute: %w", err)
	}
	return nil
}

// ReadSeries retrieves the points of one key ordered by run and step
func (s *SQLiteBackend) ReadSeries(runID, key string, start, end time.Time) ([]Point, error) {
	query := `SELECT run_id, step, timestamp, metric_key, value, text_value, is_text
		FROM points
		WHERE metric_key = ? AND (? = '' OR run_id = ?)
		  AND (? = 0 OR timestamp >= ?) AND (? = 0 OR timestamp <= ?)
		ORDER BY run_id ASC, step ASC, id ASC`

	startNs, endNs := unixNanoOrZero(start), unixNanoOrZero(end)
	rows, err := s.db.Query(query, key, runID, runID, startNs, startNs, endNs, endNs)
	if err != nil {
		return nil, fmt.Errorf("failed to query points: %w", err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		var ts int64
		var value sql.NullFloat64
		var text sql.NullString

		if err := rows.Scan(&p.RunID, &p.Step, &ts, &p.Key, &value, &text, &p.IsText); err != nil {
			return nil, fmt.Errorf("failed to scan point: %w", err)
		}
		p.Timestamp = time.Unix(0, ts)
		p.Value = value.Float64
		p.Text = text.String
		points = append(points, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return points, nil
}

// ReadAttributes returns the run level values
func (s *SQLiteBackend) ReadAttributes(runID string) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT attr_key, value FROM run_attributes WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attributes: %w", err)
	}
	defer rows.Close()

	attrs := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan attribute: %w", err)
		}
		attrs[key] = value
	}
	return attrs, rows.Err()
}

// ListKeys returns the distinct keys of a run, all runs when runID is empty
func (s *SQLiteBackend) ListKeys(runID string) ([]string, error) {
	return s.queryStrings(`SELECT DISTINCT metric_key FROM points
		WHERE (? = '' OR run_id = ?) ORDER BY metric_key`, runID, runID)
}

// ListRuns returns every run id with points or attributes
func (s *SQLiteBackend) ListRuns() ([]string, error) {
	return s.queryStrings(`SELECT run_id FROM points
		UNION SELECT run_id FROM run_attributes ORDER BY run_id`)
}

func (s *SQLiteBackend) queryStrings(query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		out = append(out, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// Close closes the database connection
func (s *SQLiteBackend) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// CreateBackup creates a backup of the SQLite database using the existing connection
// This avoids file locking issues by using the same database connection
func (s *SQLiteBackend) CreateBackup(config *BackupConfig) error {
	if s.db == nil {
		return fmt.Errorf("no database connection available")
	}

	return BackupDatabase(s.db, config)
}

func unixNanoOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
