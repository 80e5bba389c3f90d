package markers

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dm-sync/chartsync/internal/manifest"
	"github.com/dm-sync/chartsync/internal/syncstate"
)

// migratedSentinel is the file recording that the one-time legacy
// sync-state migration already ran for this markers directory.
const migratedSentinel = ".migrated"

// RebuildResult reports how many markers were synthesized from pre-existing
// disk content versus skipped.
type RebuildResult struct {
	Created int
	Skipped int
}

// RebuildFromDisk scans disk and cross-references the manifest to
// reconstruct markers for archives whose extracted content is already
// present, but unmarked. It never deletes or overwrites disk
// state; it only ever adds marker files for content that verifies cleanly.
//
// An archive is eligible for reconstruction when every file the archive
// would have produced (per the provided files map) exists under base with
// the recorded size. Callers are expected to supply, per archive path, the
// set of relative file paths and sizes it is believed to have produced —
// typically derived from a previous generation's sync-state tree (see
// internal/syncstate) or from a full directory scan correlated against
// manifest entries sharing a destination folder.
func (s *Store) RebuildFromDisk(
	base string,
	archives map[string]RebuildCandidate,
	logger *slog.Logger,
) (RebuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var result RebuildResult

	for archivePath, candidate := range archives {
		if candidate.MD5 == "" || len(candidate.Files) == 0 {
			result.Skipped++

			continue
		}

		if existing, _ := s.Load(archivePath, candidate.MD5); existing != nil {
			result.Skipped++ // already has a marker; nothing to rebuild

			continue
		}

		allPresent := true

		for rel, expected := range candidate.Files {
			info, err := os.Stat(filepath.Join(base, rel))
			if err != nil || info.Size() != expected {
				allPresent = false

				break
			}
		}

		if !allPresent {
			result.Skipped++

			continue
		}

		if err := s.Save(archivePath, candidate.MD5, candidate.Files); err != nil {
			return result, err
		}

		result.Created++

		logger.Info("rebuilt marker from disk",
			slog.String("archive", archivePath),
			slog.Int("files", len(candidate.Files)),
		)
	}

	return result, nil
}

// MigrateOnce runs RebuildFromDisk at most once per markers directory,
// guarded by the .migrated sentinel: the upgrade path that converts a
// pre-markers install's legacy sync-state evidence into marker files.
// Returns whether the migration actually ran this call.
// Explicit rebuilds (the rebuild-markers command) bypass this and call
// RebuildFromDisk directly; the sentinel only gates the automatic
// migration so it doesn't rescan disk on every sync.
func (s *Store) MigrateOnce(
	base string,
	archives map[string]RebuildCandidate,
	logger *slog.Logger,
) (RebuildResult, bool, error) {
	sentinel := filepath.Join(s.dir, migratedSentinel)

	if _, err := os.Stat(sentinel); err == nil {
		return RebuildResult{}, false, nil
	}

	result, err := s.RebuildFromDisk(base, archives, logger)
	if err != nil {
		return result, false, err
	}

	stamp := time.Now().UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(sentinel, []byte(stamp), filePerm); err != nil {
		return result, true, fmt.Errorf("markers: writing migration sentinel: %w", err)
	}

	return result, true, nil
}

// RebuildCandidate is one archive's worth of rebuild input: the MD5 it
// should be recorded under (from the current manifest) and the file map it
// is expected to have produced.
type RebuildCandidate struct {
	MD5   string
	Files map[string]int64
}

// CandidatesFromManifest is a convenience constructor that assumes each
// archive's own entry is the only evidence available (MD5 from the
// manifest) — callers that have richer evidence (e.g. a legacy sync-state
// tree) should build the RebuildCandidate map directly instead.
func CandidatesFromManifest(m *manifest.Manifest) map[string]RebuildCandidate {
	candidates := make(map[string]RebuildCandidate)

	for _, folder := range m.Folders {
		for _, f := range folder.Files {
			if f.MD5 == "" {
				continue
			}

			candidates[folder.Name+"/"+f.Path] = RebuildCandidate{MD5: f.MD5}
		}
	}

	return candidates
}

// CandidatesFromSyncState layers the legacy sync-state tree's recorded
// extracted-file maps onto CandidatesFromManifest's MD5-only candidates: an
// archive only gets a usable Files map when the legacy tree's entry for it
// still has the MD5 the manifest currently expects, since the manifest
// alone never records what an archive extracts to. This
// is the upgrade path for installs that had a sync_state.json tree before
// markers existed.
func CandidatesFromSyncState(m *manifest.Manifest, sc *syncstate.Cache) map[string]RebuildCandidate {
	candidates := CandidatesFromManifest(m)

	for archivePath, entry := range sc.Archives() {
		c, ok := candidates[archivePath]
		if !ok || c.MD5 != entry.MD5 {
			continue
		}

		c.Files = entry.Files
		candidates[archivePath] = c
	}

	return candidates
}
