package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	backupPrefix = "runlog_"
	backupSuffix = ".db"
)

// BackupDatabase snapshots the database with SQLite VACUUM INTO, one file
// per day, then removes files older than the retention period.
func BackupDatabase(db *sql.DB, config *BackupConfig) error {
	if !config.Enabled {
		return nil // Backup disabled
	}

	if err := os.MkdirAll(config.BackupDir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	date := time.Now().Format("20060102")
	backupPath := filepath.Join(config.BackupDir, backupPrefix+date+backupSuffix)

	// VACUUM INTO refuses to overwrite, today's earlier backup is replaced
	if _, err := os.Stat(backupPath); err == nil {
		if err := os.Remove(backupPath); err != nil {
			return fmt.Errorf("failed to remove existing backup: %w", err)
		}
	}

	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}

	if err := CleanupBackups(config); err != nil {
		return fmt.Errorf("backup succeeded but cleanup failed: %w", err)
	}

	return nil
}

// CleanupBackups removes backup files older than RetentionDays. A
// retention of zero keeps everything.
func CleanupBackups(config *BackupConfig) error {
	if config.RetentionDays <= 0 {
		return nil
	}

	files, err := ListBackups(config)
	if err != nil {
		return err
	}

	cutoff := time.Now().AddDate(0, 0, -config.RetentionDays)

	for _, name := range files {
		datePart := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), backupSuffix)

		fileDate, err := time.Parse("20060102", datePart)
		if err != nil {
			continue // Skip files with invalid date format
		}

		if fileDate.After(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(config.BackupDir, name)); err != nil {
			return fmt.Errorf("failed to remove old backup %s: %w", name, err)
		}
	}

	return nil
}

// ListBackups returns the backup file names, oldest first
func ListBackups(config *BackupConfig) ([]string, error) {
	files, err := os.ReadDir(config.BackupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var backups []string
	for _, file := range files {
		if strings.HasPrefix(file.Name(), backupPrefix) && strings.HasSuffix(file.Name(), backupSuffix) {
			backups = append(backups, file.Name())
		}
	}

	// filenames embed the date, so a string sort is chronological
	sort.Strings(backups)
	return backups, nil
}

// RestoreDatabase copies a backup file over the database at targetDBPath.
// The target must not be open.
func RestoreDatabase(backupFileName string, targetDBPath string, config *BackupConfig) error {
	backupPath := filepath.Join(config.BackupDir, backupFileName)

	if _, err := os.Stat(backupPath); err != nil {
		return fmt.Errorf("backup file not found: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(targetDBPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	if err := copyFile(backupPath, targetDBPath); err != nil {
		return fmt.Errorf("failed to restore database: %w", err)
	}

	return nil
}

func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := dstFile.ReadFrom(srcFile); err != nil {
		dstFile.Close()
		return err
	}
	return dstFile.Close()
}
