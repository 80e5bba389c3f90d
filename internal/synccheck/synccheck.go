// Package synccheck implements the single sync-state predicate consulted
// by the planner, the status reporter, and the purger. Keeping
// it in one place is what lets those three components agree with each
// other — no heuristic anywhere else is allowed to infer syncedness from
// disk alone.
package synccheck

import (
	"os"
	"path"
	"strings"

	"github.com/dm-sync/chartsync/internal/markers"
)

// MarkerStore is the subset of *markers.Store the checker needs. Declared
// as a local interface (rather than depending on the concrete type
// directly in every signature) so tests can supply an in-memory fake.
type MarkerStore interface {
	Load(archivePath, md5 string) (*markers.Marker, error)
	FindAnyForPath(archivePath string) (*markers.Marker, error)
	Verify(m *markers.Marker, base string) bool
	IsPermanentlyFailed(archivePath, md5 string) bool
}

// Checker answers the synced-or-not question for archives and loose
// files.
type Checker struct {
	store MarkerStore
}

// New creates a Checker over the given marker store.
func New(store MarkerStore) *Checker {
	return &Checker{store: store}
}

// IsArchiveSynced reports whether an archive's extracted content is on
// disk: load the marker for
// (archivePath, manifestMD5); if present and verified, synced. Otherwise
// fall back to any marker for the same path (case-conflict dedup) and
// verify that. Otherwise unsynced. Returns the extracted byte total on
// success.
func (c *Checker) IsArchiveSynced(folderName, parentPath, archiveName, manifestMD5, localBase string) (bool, int64) {
	archivePath := buildArchivePath(folderName, parentPath, archiveName)

	if marker, _ := c.store.Load(archivePath, manifestMD5); marker != nil {
		if c.store.Verify(marker, localBase) {
			return true, marker.TotalSize()
		}
	}

	if marker, _ := c.store.FindAnyForPath(archivePath); marker != nil {
		if c.store.Verify(marker, localBase) {
			return true, marker.TotalSize()
		}
	}

	return false, 0
}

// IsArchivePermanentlyFailed reports whether a non-expired failed marker
// exists for this archive — the planner skips such archives rather than
// retrying a doomed extraction every cycle.
func (c *Checker) IsArchivePermanentlyFailed(folderName, parentPath, archiveName, manifestMD5 string) bool {
	return c.store.IsPermanentlyFailed(buildArchivePath(folderName, parentPath, archiveName), manifestMD5)
}

func buildArchivePath(folderName, parentPath, archiveName string) string {
	if parentPath == "" {
		return path.Join(folderName, archiveName)
	}

	return path.Join(folderName, parentPath, archiveName)
}

// IsFileSynced is the loose-file counterpart: a strict
// size-equality check, except for .ini files, which may grow in place as
// the downstream game appends leaderboard data — so .ini is "synced" if
// disk size is at least the manifest size.
func (c *Checker) IsFileSynced(localPath string, manifestSize int64) bool {
	info, err := os.Stat(localPath)
	if err != nil {
		return false
	}

	if strings.EqualFold(path.Ext(localPath), ".ini") {
		return info.Size() >= manifestSize
	}

	return info.Size() == manifestSize
}
