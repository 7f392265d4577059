package storage

import (
	"time"

	"github.com/thisdougb/runlog/internal/config"
)

// BackupConfig holds backup-specific configuration
type BackupConfig struct {
	Enabled       bool
	BackupDir     string
	RetentionDays int
}

// Config holds all configuration options for the persistence system
type Config struct {
	Enabled       bool
	Driver        string // sqlite, postgres or memory
	DBPath        string
	DatabaseURL   string
	FlushInterval time.Duration
	BatchSize     int
	Backup        BackupConfig
}

// LoadConfig reads the RUNLOG_* persistence settings. Invalid values keep
// their defaults.
func LoadConfig() *Config {
	cfg := &Config{
		Enabled:       config.BoolValue("RUNLOG_PERSISTENCE_ENABLED"),
		Driver:        config.StringValue("RUNLOG_DB_DRIVER"),
		DBPath:        config.StringValue("RUNLOG_DB_PATH"),
		DatabaseURL:   config.StringValue("RUNLOG_DB_URL"),
		FlushInterval: config.DurationValue("RUNLOG_FLUSH_INTERVAL"),
		BatchSize:     config.IntValue("RUNLOG_BATCH_SIZE"),
		Backup: BackupConfig{
			Enabled:       config.BoolValue("RUNLOG_BACKUP_ENABLED"),
			BackupDir:     config.StringValue("RUNLOG_BACKUP_DIR"),
			RetentionDays: config.IntValue("RUNLOG_BACKUP_RETENTION_DAYS"),
		},
	}

	if cfg.BatchSize < 1 {
		cfg.BatchSize = 100
	}
	if cfg.Backup.RetentionDays < 0 {
		cfg.Backup.RetentionDays = 30
	}

	return cfg
}

// TestConfig returns a configuration suitable for testing
func TestConfig() *Config {
	return &Config{
		Enabled:       true,
		Driver:        "sqlite",
		DBPath:        ":memory:",
		FlushInterval: time.Second,
		BatchSize:     10,
	}
}

// SetBackupConfig replaces the backup settings used by Backup and Close.
func (m *Manager) SetBackupConfig(backup BackupConfig) {
	m.backup = backup
}
