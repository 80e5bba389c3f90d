// Package purger executes a purge plan built by internal/planner: removes
// the listed files, repairs restrictive permissions that would block
// deletion, and cleans up directories left empty afterward.
package purger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dm-sync/chartsync/internal/planner"
)

// Result reports what Execute actually did.
type Result struct {
	FilesDeleted    int
	BytesDeleted    int64
	DirsRemoved     int
	PermissionFixes int
	Errors          []error
}

// Execute deletes every file in plan under basePath, then removes any
// directory left empty by those deletions, deepest first so a chain of
// now-empty parents collapses in one pass.
func Execute(plan []planner.PurgeFile, basePath string, logger *slog.Logger) Result {
	if logger == nil {
		logger = slog.Default()
	}

	var result Result

	touchedDirs := make(map[string]bool)

	for _, pf := range plan {
		full := filepath.Join(basePath, pf.Path)

		if err := os.Remove(full); err != nil {
			if os.IsPermission(err) {
				if fixErr := os.Chmod(filepath.Dir(full), 0o755); fixErr == nil {
					result.PermissionFixes++
				}

				err = os.Remove(full)
			}

			if os.IsNotExist(err) {
				// Already gone; nothing was deleted, so don't count it.
				continue
			}

			if err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("purger: removing %s: %w", full, err))

				continue
			}
		}

		result.FilesDeleted++
		result.BytesDeleted += pf.Size
		touchedDirs[filepath.Dir(full)] = true
	}

	result.DirsRemoved = removeEmptyDirs(touchedDirs, basePath, logger)

	return result
}

// removeEmptyDirs walks upward from every directory a deletion touched,
// removing directories that are now empty, stopping at basePath. Processing
// deepest-first lets a deletion collapse a whole empty chain of parents in
// one Execute call.
func removeEmptyDirs(touched map[string]bool, basePath string, logger *slog.Logger) int {
	dirs := make([]string, 0, len(touched))
	for d := range touched {
		dirs = append(dirs, d)
	}

	sort.Slice(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], string(filepath.Separator)) > strings.Count(dirs[j], string(filepath.Separator))
	})

	cleanBase := filepath.Clean(basePath)
	removed := 0

	for _, dir := range dirs {
		for {
			dir = filepath.Clean(dir)
			if dir == cleanBase || !strings.HasPrefix(dir, cleanBase) {
				break
			}

			entries, err := os.ReadDir(dir)
			if err != nil || len(entries) > 0 {
				break
			}

			if err := os.Remove(dir); err != nil {
				logger.Debug("purger: could not remove empty dir", slog.String("path", dir), slog.String("error", err.Error()))

				break
			}

			removed++
			dir = filepath.Dir(dir)
		}
	}

	return removed
}
