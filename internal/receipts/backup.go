package receipts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Backup writes a consistent copy of the journal into dir and returns its path.
func (j *Journal) Backup(ctx context.Context, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	timestamp := j.now().Format("20060102_150405")
	backupPath := filepath.Join(dir, fmt.Sprintf("receipts_%s.db", timestamp))

	j.logger.Info().Str("path", backupPath).Msg("performing journal backup")

	// VACUUM INTO copies a WAL database without blocking writers.
	if _, err := j.db.ExecContext(ctx, `VACUUM INTO ?`, backupPath); err != nil {
		return "", fmt.Errorf("backup journal: %w", err)
	}
	return backupPath, nil
}

// CleanupBackups removes backups in dir older than retentionDays.
func (j *Journal) CleanupBackups(dir string, retentionDays int) int {
	if retentionDays <= 0 {
		return 0
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		j.logger.Error().Err(err).Msg("failed to read backup directory for cleanup")
		return 0
	}

	cutoff := j.now().AddDate(0, 0, -retentionDays)
	removed := 0
	for _, file := range files {
		if file.IsDir() || !strings.HasPrefix(file.Name(), "receipts_") {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			j.logger.Info().Str("file", file.Name()).Msg("deleting old backup")
			if err := os.Remove(filepath.Join(dir, file.Name())); err == nil {
				removed++
			}
		}
	}
	return removed
}
