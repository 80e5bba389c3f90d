// Package manifest defines the remote-desired-state document the engine
// consumes: drives, their files, and the incremental delta feed used to
// refresh a cached copy. The core never generates a manifest — only reads
// one produced by an admin-side tool (out of scope; see internal/remote).
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dm-sync/chartsync/internal/pathutil"
)

// File is an immutable manifest file entry. MD5 may be empty
// for cloud-native documents, which the planner skips.
type File struct {
	ID       string `json:"id"`
	Path     string `json:"path"` // posix, relative to the drive root, pre-sanitized
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MD5      string `json:"md5"`
	Modified string `json:"modified"` // ISO-8601
}

// PathKey and ModifiedUnix satisfy pathutil.ManifestFile so File slices can
// be deduplicated by pathutil.DedupeByNewest directly.
func (f File) PathKey() string { return pathutil.NormalizePathKey(f.Path) }

func (f File) ModifiedUnix() int64 {
	t, err := time.Parse(time.RFC3339, f.Modified)
	if err != nil {
		return 0
	}

	return t.Unix()
}

// Folder is a drive entry in the manifest. Files is nil (as
// opposed to empty) when the folder has not been scanned yet — planner and
// purger both treat that distinction as significant (an unscanned folder
// must never be purged).
type Folder struct {
	FolderID   string   `json:"folder_id"`
	Name       string   `json:"name"`
	Files      []File   `json:"files"`
	Subfolders []Folder `json:"subfolders,omitempty"`
	IsCustom   bool     `json:"is_custom,omitempty"`
	ChartCount int      `json:"chart_count,omitempty"`
	TotalSize  int64    `json:"total_size,omitempty"`
}

// Scanned reports whether this folder has ever been populated. A nil Files
// slice (as opposed to an empty, non-nil one) means "never scanned" and
// must block purge.
func (f Folder) Scanned() bool { return f.Files != nil }

// Manifest is the top-level document.
type Manifest struct {
	Folders      []Folder `json:"folders"`
	ChangesToken string   `json:"changes_token,omitempty"`
}

// Load reads and parses a manifest JSON document from path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-controlled, not user input
	if err != nil {
		return nil, fmt.Errorf("manifest: reading %s: %w", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parsing %s: %w", path, err)
	}

	return &m, nil
}

// Save writes the manifest atomically (temp file + rename) so a reader
// never observes a partially written document.
func Save(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: marshal: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil { //nolint:gosec // cache file, not sensitive
		return fmt.Errorf("manifest: writing %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("manifest: renaming %s to %s: %w", tmp, path, err)
	}

	return nil
}

// FolderByID finds a folder by its FolderID, or nil.
func (m *Manifest) FolderByID(folderID string) *Folder {
	for i := range m.Folders {
		if m.Folders[i].FolderID == folderID {
			return &m.Folders[i]
		}
	}

	return nil
}

// AllPathKeys returns the normalized path key, prefixed with the drive
// name, for every file across every folder. Used by the purge planner to
// build the manifest-protection set.
func (m *Manifest) AllPathKeys() map[string]bool {
	keys := make(map[string]bool)

	for _, folder := range m.Folders {
		for _, f := range folder.Files {
			keys[pathutil.NormalizePathKey(folder.Name+"/"+f.Path)] = true
		}
	}

	return keys
}

// Setlists returns the distinct top-level path components across a
// folder's files — setlists are derived, not stored.
func (f Folder) Setlists() []string {
	seen := make(map[string]bool)

	var order []string

	for _, file := range f.Files {
		name := file.Path
		if idx := strings.IndexByte(name, '/'); idx >= 0 {
			name = name[:idx]
		}

		if !seen[name] {
			seen[name] = true

			order = append(order, name)
		}
	}

	return order
}
