package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"
)

const (
	// MaxBackups is how many backups of one config file are kept.
	MaxBackups = 3

	// BackupSuffix precedes the timestamp in a backup's name.
	BackupSuffix = ".bak"

	backupStamp = "20060102-150405.000"
)

// BackupFile copies path to path.bak.<timestamp> before config init
// overwrites it, then prunes all but the newest MaxBackups. It returns ""
// when path does not exist.
func BackupFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read config for backup: %w", err)
	}

	dst := path + BackupSuffix + "." + time.Now().Format(backupStamp)
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	backups, err := ListBackups(path)
	if err == nil && len(backups) > MaxBackups {
		for _, old := range backups[MaxBackups:] {
			_ = os.Remove(old)
		}
	}
	return dst, nil
}

// ListBackups returns the backups of path, newest first. The timestamp
// format sorts lexically.
func ListBackups(path string) ([]string, error) {
	pattern := glob(path) + BackupSuffix + ".*"
	backups, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups of %s: %w", path, err)
	}
	slices.Sort(backups)
	slices.Reverse(backups)
	return backups, nil
}

// glob escapes pattern metacharacters in a literal path.
func glob(path string) string {
	out := make([]rune, 0, len(path))
	for _, r := range path {
		switch r {
		case '*', '?', '[', '\\':
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
