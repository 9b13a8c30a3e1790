package media

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Sweep removes payload files older than maxAge from dir and returns
// how many were removed. Called periodically by the daemon; a missing
// directory is not an error.
func Sweep(dir string, maxAge time.Duration, logger *zap.Logger) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("media sweep failed", zap.String("dir", dir), zap.Error(err))
		}
		return 0
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			logger.Warn("media sweep remove failed", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info("media sweep", zap.String("dir", dir), zap.Int("removed", removed))
	}
	return removed
}
