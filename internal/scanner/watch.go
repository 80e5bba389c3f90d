package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/dm-sync/chartsync/internal/config"
)

// WatchSettingsFile watches settingsPath for external edits and converts
// any enable/disable change into the same NotifyToggle calls a UI would
// make directly. This supplements
// the explicit NotifyToggle API for UIs that simply rewrite settings.json
// rather than calling into the engine directly. Blocks until ctx is
// cancelled.
func (s *Scanner) WatchSettingsFile(ctx context.Context, settingsPath string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("scanner: creating settings watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the containing directory rather than the file itself: editors
	// commonly replace a file via rename-into-place, which would silently
	// drop a direct watch on the old inode.
	if err := watcher.Add(filepath.Dir(settingsPath)); err != nil {
		return fmt.Errorf("scanner: watching %s: %w", filepath.Dir(settingsPath), err)
	}

	prev, err := config.LoadSettings(settingsPath)
	if err != nil {
		return fmt.Errorf("scanner: loading initial settings: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != filepath.Clean(settingsPath) {
				continue
			}

			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			next, err := config.LoadSettings(settingsPath)
			if err != nil {
				s.logger.Warn("scanner: reloading settings after change", slog.String("error", err.Error()))

				continue
			}

			s.applySettingsDiff(prev, next)
			prev = next

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			s.logger.Warn("scanner: settings watcher error", slog.String("error", err.Error()))
		}
	}
}

// applySettingsDiff compares every known setlist's enable state between
// two Settings snapshots and notifies the scanner of anything that
// changed, so an externally-rewritten settings.json reprioritizes the
// worker exactly as a direct NotifyToggle call would.
func (s *Scanner) applySettingsDiff(prev, next *config.Settings) {
	s.mu.Lock()
	ids := append([]string(nil), s.order...)
	s.mu.Unlock()

	for _, id := range ids {
		info := s.infoOf(id)

		wasEnabled := prev == nil || !prev.DisabledSetlists(info.DriveID)[info.Name]
		isEnabled := next == nil || !next.DisabledSetlists(info.DriveID)[info.Name]

		if wasEnabled != isEnabled {
			s.NotifyToggle(info.DriveID, info.Name, isEnabled)
		}
	}
}
