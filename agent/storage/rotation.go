package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// RotateDatabase renames the database (and its WAL/SHM files) to
// <path>.backup.<timestamp> and returns the backup path.
func RotateDatabase(dbPath string) (string, error) {
	if dbPath == "" || dbPath == ":memory:" {
		return "", fmt.Errorf("cannot rotate in-memory database")
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return "", fmt.Errorf("database file does not exist: %s", dbPath)
	}

	timestamp := time.Now().Format("2006-01-02T15-04-05.000")
	backupPath := fmt.Sprintf("%s.backup.%s", dbPath, timestamp)
	if err := os.Rename(dbPath, backupPath); err != nil {
		return "", fmt.Errorf("failed to rename database: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if _, err := os.Stat(dbPath + suffix); err == nil {
			_ = os.Rename(dbPath+suffix, fmt.Sprintf("%s%s.backup.%s", dbPath, suffix, timestamp))
		}
	}
	return backupPath, nil
}

// CleanupOldBackups keeps the keepCount newest backups of dbPath and
// returns how many were removed.
func CleanupOldBackups(dbPath string, keepCount int) (int, error) {
	if dbPath == "" || dbPath == ":memory:" {
		return 0, nil
	}
	if keepCount < 0 {
		keepCount = 0
	}

	matches, err := filepath.Glob(dbPath + ".backup.*")
	if err != nil {
		return 0, fmt.Errorf("failed to find backup files: %w", err)
	}
	if len(matches) <= keepCount {
		return 0, nil
	}

	type backupFile struct {
		path    string
		modTime time.Time
	}
	backups := make([]backupFile, 0, len(matches))
	for _, match := range matches {
		if info, err := os.Stat(match); err == nil {
			backups = append(backups, backupFile{path: match, modTime: info.ModTime()})
		}
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].modTime.After(backups[j].modTime) })

	if len(backups) <= keepCount {
		return 0, nil
	}
	removed := 0
	for _, b := range backups[keepCount:] {
		if err := os.Remove(b.path); err == nil {
			removed++
		}
	}
	return removed, nil
}
