// Package markers implements the durable on-disk record of extracted
// archives. One JSON file per (archive path, md5); atomic
// writes; a sibling "failed" namespace with a TTL. This is the single
// source of truth the sync-checker, planner, and purger all consult — new
// correctness logic must flow through here, never through the legacy
// internal/syncstate tree.
package markers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dm-sync/chartsync/internal/pathutil"
)

// FailedTTL is how long a failed marker is honored before the archive is
// retried.
const FailedTTL = 7 * 24 * time.Hour

const (
	dirPerm      = 0o755
	filePerm     = 0o644
	failedSubdir = "failed"
)

// Marker is the JSON document persisted per extracted archive.
type Marker struct {
	ArchivePath string           `json:"archive_path"`
	MD5         string           `json:"md5"`
	ExtractedAt time.Time        `json:"extracted_at"`
	ExtractedTo string           `json:"extracted_to,omitempty"`
	Files       map[string]int64 `json:"files"`
}

// TotalSize sums the sizes of every file the marker records.
func (m *Marker) TotalSize() int64 {
	var total int64
	for _, size := range m.Files {
		total += size
	}

	return total
}

// FailedMarker is the sibling record for an archive classified as
// permanently unextractable; it is honored until FailedTTL has passed.
type FailedMarker struct {
	ArchivePath string    `json:"archive_path"`
	MD5         string    `json:"md5"`
	FailedAt    time.Time `json:"failed_at"`
	Error       string    `json:"error"`
}

// Store is the on-disk markers directory, rooted at dir.
type Store struct {
	dir    string
	logger *slog.Logger
}

// New creates a Store rooted at dir, creating the directory (and its
// failed-marker subdirectory) if necessary.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	if err := os.MkdirAll(filepath.Join(dir, failedSubdir), dirPerm); err != nil {
		return nil, fmt.Errorf("markers: creating %s: %w", dir, err)
	}

	return &Store{dir: dir, logger: logger}, nil
}

// markerFileName computes the on-disk filename for (archivePath, md5):
// sanitized-path-derived base, truncated to the 230-char budget, suffixed
// with the first 8 hex characters of md5.
func markerFileName(archivePath, md5hex string) string {
	safeName := strings.NewReplacer("/", "_", "\\", "_").Replace(archivePath)
	safeName = pathutil.TruncateMarkerBase(archivePath, safeName)

	short := md5hex
	if len(short) > 8 {
		short = short[:8]
	}

	return safeName + "_" + short + ".json"
}

func (s *Store) path(archivePath, md5hex string) string {
	return filepath.Join(s.dir, markerFileName(archivePath, md5hex))
}

func (s *Store) failedPath(archivePath, md5hex string) string {
	return filepath.Join(s.dir, failedSubdir, markerFileName(archivePath, md5hex))
}

// Save atomically writes a marker: write to "<name>.json.tmp", rename over
// "<name>.json". Write failures are fatal — consistency would otherwise be
// at risk.
func (s *Store) Save(archivePath, md5hex string, files map[string]int64) error {
	marker := &Marker{
		ArchivePath: archivePath,
		MD5:         md5hex,
		ExtractedAt: time.Now(),
		Files:       files,
	}

	data, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return fmt.Errorf("markers: marshal %s: %w", archivePath, err)
	}

	final := s.path(archivePath, md5hex)
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		return fmt.Errorf("markers: write %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("markers: rename %s to %s: %w", tmp, final, err)
	}

	s.logger.Debug("marker saved", slog.String("archive", archivePath), slog.Int("files", len(files)))

	return nil
}

// Load reads the marker for (archivePath, md5). Returns (nil, nil) if
// absent or unparsable — I/O errors on read are treated as "absent",
// never surfaced as fatal.
func (s *Store) Load(archivePath, md5hex string) (*Marker, error) {
	return s.loadFile(s.path(archivePath, md5hex))
}

func (s *Store) loadFile(path string) (*Marker, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path built from sanitized components under our own dir
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, nil //nolint:nilerr // any read error is treated as "absent"
	}

	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil //nolint:nilerr // corrupt marker treated as absent
	}

	return &m, nil
}

// FindAnyForPath scans the markers directory for any marker whose filename
// matches archivePath's sanitized-and-underscored prefix, compared without
// regard to case, regardless of MD5. Used as the case-conflict fallback in the sync-checker: when two
// cloud entries differ only in case and extract to the same local folder,
// the loser's marker never matches but some marker does.
func (s *Store) FindAnyForPath(archivePath string) (*Marker, error) {
	prefix := strings.NewReplacer("/", "_", "\\", "_").Replace(archivePath)
	prefix = pathutil.TruncateMarkerBase(archivePath, prefix)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("markers: reading dir %s: %w", s.dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasPrefix(strings.ToLower(name), strings.ToLower(prefix)+"_") {
			continue
		}

		m, err := s.loadFile(filepath.Join(s.dir, name))
		if err != nil || m == nil {
			continue
		}

		return m, nil
	}

	return nil, nil
}

// Verify stats every file the marker lists and requires each to exist with
// the recorded byte size.
func (s *Store) Verify(m *Marker, base string) bool {
	if len(m.Files) == 0 {
		return false
	}

	for rel, expected := range m.Files {
		info, err := os.Stat(filepath.Join(base, rel))
		if err != nil {
			return false
		}

		if info.Size() != expected {
			return false
		}
	}

	return true
}

// Delete removes the marker for (archivePath, md5). Not finding the file
// is not an error.
func (s *Store) Delete(archivePath, md5hex string) error {
	err := os.Remove(s.path(archivePath, md5hex))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("markers: delete %s: %w", archivePath, err)
	}

	return nil
}

// DeleteAllForArchive removes every marker matching archivePath regardless
// of MD5 — used when a whole drive is disabled and purged.
func (s *Store) DeleteAllForArchive(archivePath string) error {
	prefix := strings.NewReplacer("/", "_", "\\", "_").Replace(archivePath)
	prefix = pathutil.TruncateMarkerBase(archivePath, prefix)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("markers: reading dir %s: %w", s.dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix+"_") {
			continue
		}

		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("markers: delete %s: %w", entry.Name(), err)
		}
	}

	return nil
}

// GetAllFiles returns the normalized-key union of every marker's Files map
// — the global protection set the purge planner consults.
func (s *Store) GetAllFiles() (map[string]bool, error) {
	markers, err := s.loadAll(s.dir)
	if err != nil {
		return nil, err
	}

	all := make(map[string]bool)

	for _, m := range markers {
		for rel := range m.Files {
			all[pathutil.NormalizePathKey(rel)] = true
		}
	}

	return all, nil
}

// All returns every non-failed marker currently on disk, used by
// diagnostics and marker rebuild.
func (s *Store) All() ([]*Marker, error) {
	return s.loadAll(s.dir)
}

func (s *Store) loadAll(dir string) ([]*Marker, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("markers: reading dir %s: %w", dir, err)
	}

	var out []*Marker

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		m, err := s.loadFile(filepath.Join(dir, entry.Name()))
		if err != nil || m == nil {
			continue
		}

		out = append(out, m)
	}

	return out, nil
}

// SaveFailed records a permanent extraction failure.
func (s *Store) SaveFailed(archivePath, md5hex, errMsg string) error {
	fm := &FailedMarker{
		ArchivePath: archivePath,
		MD5:         md5hex,
		FailedAt:    time.Now(),
		Error:       errMsg,
	}

	data, err := json.MarshalIndent(fm, "", "  ")
	if err != nil {
		return fmt.Errorf("markers: marshal failed marker %s: %w", archivePath, err)
	}

	final := s.failedPath(archivePath, md5hex)
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		return fmt.Errorf("markers: write %s: %w", tmp, err)
	}

	return os.Rename(tmp, final)
}

// LoadFailed reads the failed marker for (archivePath, md5). Returns
// (nil, nil) when the marker is absent, unparsable, or past its TTL; an
// expired marker is deleted as a side effect.
func (s *Store) LoadFailed(archivePath, md5hex string) (*FailedMarker, error) {
	path := s.failedPath(archivePath, md5hex)

	data, err := os.ReadFile(path) //nolint:gosec // path built from our own sanitized components
	if err != nil {
		return nil, nil //nolint:nilerr // absent or unreadable both mean "no failure recorded"
	}

	var fm FailedMarker
	if err := json.Unmarshal(data, &fm); err != nil {
		return nil, nil //nolint:nilerr // corrupt failed marker treated as absent
	}

	if time.Since(fm.FailedAt) > FailedTTL {
		_ = os.Remove(path)

		return nil, nil
	}

	return &fm, nil
}

// IsPermanentlyFailed reports whether a non-expired failed marker exists
// for (archivePath, md5).
func (s *Store) IsPermanentlyFailed(archivePath, md5hex string) bool {
	fm, _ := s.LoadFailed(archivePath, md5hex)

	return fm != nil
}
