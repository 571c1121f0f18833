package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// MaxBackups is the maximum number of config backups to keep.
	MaxBackups = 3

	// BackupSuffix is the file extension for backup files.
	BackupSuffix = ".bak"
)

// BackupProjectConfig creates a timestamped backup of the project config
// file before it is overwritten. Returns the backup path on success, or an
// empty string if there was nothing to back up.
func BackupProjectConfig(dir string) (string, error) {
	configPath := filepath.Join(dir, ".corpusmcp.yaml")
	if !fileExists(configPath) {
		configPath = filepath.Join(dir, ".corpusmcp.yml")
		if !fileExists(configPath) {
			return "", nil // No config to back up
		}
	}

	timestamp := time.Now().Format("20060102-150405")
	backupPath := fmt.Sprintf("%s%s.%s", configPath, BackupSuffix, timestamp)

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to read config for backup: %w", err)
	}

	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	// Best-effort cleanup of old backups
	_ = cleanupOldBackups(configPath)

	return backupPath, nil
}

// cleanupOldBackups removes backups beyond MaxBackups, oldest first.
func cleanupOldBackups(configPath string) error {
	dir := filepath.Dir(configPath)
	base := filepath.Base(configPath)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	type backup struct {
		path    string
		modTime time.Time
	}
	var backups []backup

	prefix := base + BackupSuffix + "."
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, backup{
			path:    filepath.Join(dir, e.Name()),
			modTime: info.ModTime(),
		})
	}

	if len(backups) <= MaxBackups {
		return nil
	}

	// Newest first; remove the tail
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].modTime.After(backups[j].modTime)
	})

	for _, b := range backups[MaxBackups:] {
		_ = os.Remove(b.path)
	}

	return nil
}
