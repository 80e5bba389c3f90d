package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// DataDirName is the hidden per-install data directory name.
const DataDirName = ".dm-sync"

// Layout resolves every path under an app root's .dm-sync/ directory so
// no other package hard-codes a filename.
type Layout struct {
	AppRoot string
}

func (l Layout) dataDir() string        { return filepath.Join(l.AppRoot, DataDirName) }
func (l Layout) SettingsPath() string   { return filepath.Join(l.dataDir(), "settings.json") }
func (l Layout) ManifestPath() string   { return filepath.Join(l.dataDir(), "manifest.json") }
func (l Layout) SyncStatePath() string  { return filepath.Join(l.dataDir(), "sync_state.json") }
func (l Layout) StatsCachePath() string { return filepath.Join(l.dataDir(), "folder_stats.json") }
func (l Layout) MarkersDir() string     { return filepath.Join(l.dataDir(), "markers") }
func (l Layout) TmpDir() string         { return filepath.Join(l.dataDir(), "tmp") }
func (l Layout) ExtractTmpDir() string  { return filepath.Join(l.TmpDir(), "extract") }
func (l Layout) DownloadDir() string    { return filepath.Join(l.AppRoot, "Sync Charts") }

// EnsureDataDir creates .dm-sync/ (and its markers/tmp/extract subdirs) if
// missing.
func (l Layout) EnsureDataDir() error {
	for _, dir := range []string{l.dataDir(), l.MarkersDir(), l.TmpDir(), l.ExtractTmpDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: creating %s: %w", dir, err)
		}
	}

	return nil
}

// CleanTmpDir removes .dm-sync/tmp/ wholesale — called once at startup,
// discarding any half-extracted trees a previous run left behind.
func (l Layout) CleanTmpDir() error {
	if err := os.RemoveAll(l.TmpDir()); err != nil {
		return fmt.Errorf("config: cleaning tmp dir: %w", err)
	}

	return os.MkdirAll(l.ExtractTmpDir(), 0o755)
}

type legacyMigration struct {
	oldPath string
	newPath string
	label   string
}

// MigrateLegacyLayout moves flat pre-.dm-sync files at the app root (and a
// sync_state.json that used to live under the download folder) into the
// current layout. Cross-device renames fall back to copy+delete. Returns
// the labels of everything that was migrated, for logging.
func (l Layout) MigrateLegacyLayout(logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := l.EnsureDataDir(); err != nil {
		return nil, err
	}

	migrations := []legacyMigration{
		{filepath.Join(l.AppRoot, "user_settings.json"), l.SettingsPath(), "settings.json"},
		{filepath.Join(l.AppRoot, "manifest.json"), l.ManifestPath(), "manifest.json"},
		{filepath.Join(l.DownloadDir(), DataDirName, "sync_state.json"), l.SyncStatePath(), "sync_state.json"},
	}

	var migrated []string

	for _, m := range migrations {
		ok, err := migrateOne(m)
		if err != nil {
			logger.Warn("legacy migration failed", slog.String("file", m.label), slog.String("error", err.Error()))

			continue
		}

		if ok {
			migrated = append(migrated, m.label)
			logger.Info("migrated legacy file", slog.String("file", m.label))
		}
	}

	// Clean up the old .dm-sync under the download folder if now empty.
	_ = os.Remove(filepath.Join(l.DownloadDir(), DataDirName))

	return migrated, nil
}

func migrateOne(m legacyMigration) (bool, error) {
	if _, err := os.Stat(m.oldPath); err != nil {
		return false, nil
	}

	if _, err := os.Stat(m.newPath); err == nil {
		return false, nil // new path already exists; leave old file alone
	}

	if err := os.Rename(m.oldPath, m.newPath); err == nil {
		return true, nil
	}

	// Cross-device rename failed; fall back to copy + delete.
	if err := copyFile(m.oldPath, m.newPath); err != nil {
		return false, err
	}

	if err := os.Remove(m.oldPath); err != nil {
		return false, fmt.Errorf("removing old file after copy: %w", err)
	}

	return true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // legacy migration source under operator's own app root
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst) //nolint:gosec // legacy migration destination under operator's own app root
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}

	return nil
}
