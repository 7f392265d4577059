package storage

import (
	"errors"
	"fmt"
	"time"
)

// ErrPersistenceDisabled is returned by reads on a disabled manager.
var ErrPersistenceDisabled = errors.New("persistence not enabled")

// Manager coordinates persistence operations between a run and a storage
// backend. Writes go through a PointQueue; reads go straight to the
// backend after the queue is flushed.
type Manager struct {
	backend Backend
	queue   *PointQueue
	enabled bool
	backup  BackupConfig
}

// NewManager creates a new persistence manager. A nil backend or
// enabled=false gives a manager whose writes are no-ops.
func NewManager(backend Backend, enabled bool) *Manager {
	return NewManagerWithQueue(backend, enabled, 10*time.Second, 100)
}

// NewManagerWithQueue is NewManager with explicit queue settings.
func NewManagerWithQueue(backend Backend, enabled bool, flushInterval time.Duration, batchSize int) *Manager {
	m := &Manager{
		backend: backend,
		enabled: enabled && backend != nil,
	}
	if m.enabled {
		m.queue = NewPointQueue(backend, flushInterval, batchSize)
		m.queue.Start()
	}
	return m
}

// NewManagerFromConfig creates a manager from RUNLOG_* configuration
func NewManagerFromConfig() (*Manager, error) {
	cfg := LoadConfig()

	if !cfg.Enabled {
		return NewManager(nil, false), nil
	}

	backend, err := OpenBackend(cfg)
	if err != nil {
		return nil, err
	}

	m := NewManagerWithQueue(backend, true, cfg.FlushInterval, cfg.BatchSize)
	m.backup = cfg.Backup
	return m, nil
}

// OpenBackend creates the backend named by cfg.Driver.
func OpenBackend(cfg *Config) (Backend, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryBackend(), nil
	case "postgres":
		backend, err := NewPostgresBackend(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create Postgres backend: %w", err)
		}
		return backend, nil
	case "sqlite", "":
		backend, err := NewSQLiteBackend(SQLiteConfig{DBPath: cfg.DBPath})
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		return backend, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// PersistPoints queues points if persistence is enabled
func (m *Manager) PersistPoints(points []Point) error {
	if !m.enabled {
		return nil
	}

	return m.queue.Enqueue(points)
}

// SetAttribute stores a run level value immediately
func (m *Manager) SetAttribute(runID, key, value string) error {
	if !m.enabled {
		return nil
	}

	return m.backend.SetAttribute(runID, key, value)
}

// ReadSeries retrieves one key's points from storage
func (m *Manager) ReadSeries(runID, key string, start, end time.Time) ([]Point, error) {
	if !m.enabled {
		return nil, ErrPersistenceDisabled
	}
	if err := m.queue.ForceFlush(); err != nil {
		return nil, err
	}

	return m.backend.ReadSeries(runID, key, start, end)
}

// ReadAttributes retrieves the run level values
func (m *Manager) ReadAttributes(runID string) (map[string]string, error) {
	if !m.enabled {
		return nil, ErrPersistenceDisabled
	}

	return m.backend.ReadAttributes(runID)
}

// ListKeys lists the compound keys logged in a run
func (m *Manager) ListKeys(runID string) ([]string, error) {
	if !m.enabled {
		return nil, ErrPersistenceDisabled
	}
	if err := m.queue.ForceFlush(); err != nil {
		return nil, err
	}

	return m.backend.ListKeys(runID)
}

// ListRuns lists every stored run id
func (m *Manager) ListRuns() ([]string, error) {
	if !m.enabled {
		return nil, ErrPersistenceDisabled
	}
	if err := m.queue.ForceFlush(); err != nil {
		return nil, err
	}

	return m.backend.ListRuns()
}

// Backup snapshots a SQLite store according to the backup settings. Other
// backends are left alone.
func (m *Manager) Backup() error {
	if !m.enabled || !m.backup.Enabled {
		return nil
	}
	sqlite, ok := m.backend.(*SQLiteBackend)
	if !ok {
		return nil
	}
	if err := m.queue.ForceFlush(); err != nil {
		return err
	}
	return sqlite.CreateBackup(&m.backup)
}

// Close flushes pending points and closes the backend
func (m *Manager) Close() error {
	if !m.enabled {
		return nil
	}

	flushErr := m.queue.Stop()
	if err := m.Backup(); err != nil {
		flushErr = errors.Join(flushErr, fmt.Errorf("backup: %w", err))
	}
	return errors.Join(flushErr, m.backend.Close())
}

// IsEnabled returns whether persistence is enabled
func (m *Manager) IsEnabled() bool {
	return m.enabled
}
