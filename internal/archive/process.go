package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/dm-sync/chartsync/internal/markers"
	"github.com/dm-sync/chartsync/internal/synccheck"
)

// MarkerSaver is the subset of *markers.Store the archive processor needs.
type MarkerSaver interface {
	Save(archivePath, md5hex string, files map[string]int64) error
	SaveFailed(archivePath, md5hex, errMsg string) error
}

var _ MarkerSaver = (*markers.Store)(nil)

// Task describes a downloaded archive ready for processing: the
// _download_-prefixed file on disk, its destination chart folder, and the
// bookkeeping needed to write its marker.
type Task struct {
	DownloadPath   string // e.g. .../SetA/_download_pack.7z
	ArchiveRelPath string // e.g. "Drive/SetA/pack.7z", for the marker key
	MD5            string
	DeleteVideos   bool
}

// Result reports what a successful Process call did.
type Result struct {
	ExtractedFiles map[string]int64 // rewritten relative to the drive folder, as stored in the marker
}

// Process runs the archive-processing pipeline: rename
// off the _download_ prefix, extract to a unique temp directory, optionally
// strip videos, decide whether to flatten a single redundant top-level
// folder, move contents into the destination, save a marker, and delete the
// archive. On any failure it removes the temp directory and returns an
// error; if the failure is path-length-classified, the caller should also
// write a failed marker via IsPathLengthError.
func Process(task Task, tmpRoot string, saver MarkerSaver, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	chartFolder := filepath.Dir(task.DownloadPath)
	archiveName := strings.TrimPrefix(filepath.Base(task.DownloadPath), downloadPrefix)
	archiveStem := strings.TrimSuffix(archiveName, filepath.Ext(archiveName))

	finalArchivePath := filepath.Join(chartFolder, archiveName)
	if err := os.Rename(task.DownloadPath, finalArchivePath); err != nil {
		finalArchivePath = task.DownloadPath // extraction still works from the _download_ name
	}

	extractTmp := filepath.Join(tmpRoot, archiveStem+"_"+uuid.NewString())
	if err := os.MkdirAll(extractTmp, 0o755); err != nil {
		return Result{}, fmt.Errorf("archive: creating temp extract dir: %w", err)
	}

	defer os.RemoveAll(extractTmp)

	if err := Extract(finalArchivePath, extractTmp); err != nil {
		return Result{}, fmt.Errorf("archive: extracting %s: %w", finalArchivePath, err)
	}

	FixPermissions(extractTmp)

	if task.DeleteVideos {
		deleteVideoFiles(extractTmp)
	}

	extractedFiles, err := scanExtracted(extractTmp)
	if err != nil {
		return Result{}, fmt.Errorf("archive: scanning extracted tree: %w", err)
	}

	extractedFiles, err = flattenIfRedundant(extractTmp, chartFolder, archiveStem, extractedFiles)
	if err != nil {
		return Result{}, fmt.Errorf("archive: flattening: %w", err)
	}

	if err := moveContents(extractTmp, chartFolder); err != nil {
		return Result{}, fmt.Errorf("archive: moving into %s: %w", chartFolder, err)
	}

	markerFiles := rewriteForMarker(task.ArchiveRelPath, extractedFiles)
	if err := saver.Save(task.ArchiveRelPath, task.MD5, markerFiles); err != nil {
		return Result{}, fmt.Errorf("archive: saving marker: %w", err)
	}

	if err := os.Remove(finalArchivePath); err != nil {
		logger.Warn("archive: could not delete archive after extraction",
			slog.String("path", finalArchivePath), slog.String("error", err.Error()))
	}

	return Result{ExtractedFiles: markerFiles}, nil
}

const downloadPrefix = "_download_"

func deleteVideoFiles(root string) {
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil //nolint:nilerr
		}

		if synccheck.IsVideoFile(path) {
			_ = os.Remove(path)
		}

		return nil
	})
}

// scanExtracted walks root and returns {relative posix path → size},
// NFC-normalizing every key so downstream comparisons against manifest
// paths behave consistently regardless of the filesystem's native
// normalization form.
func scanExtracted(root string) (map[string]int64, error) {
	out := make(map[string]int64)

	err := filepath.Walk(root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		out[norm.NFC.String(filepath.ToSlash(rel))] = info.Size()

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// flattenIfRedundant drops a redundant wrapper directory: if the extracted tree
// is exactly one top-level directory whose sanitized, case-folded name
// equals both the archive stem and the destination folder's name, the
// inner directory is redundant (an archive-maker convention); promote its
// contents to extractTmp's top level and rewrite extractedFiles' keys to
// match. Otherwise extractedFiles is returned unchanged.
func flattenIfRedundant(extractTmp, chartFolder, archiveStem string, extractedFiles map[string]int64) (map[string]int64, error) {
	entries, err := os.ReadDir(extractTmp)
	if err != nil {
		return nil, err
	}

	if len(entries) != 1 || !entries[0].IsDir() {
		return extractedFiles, nil
	}

	innerName := entries[0].Name()
	destName := filepath.Base(chartFolder)

	if !strings.EqualFold(innerName, archiveStem) || !strings.EqualFold(destName, archiveStem) {
		return extractedFiles, nil
	}

	innerPath := filepath.Join(extractTmp, innerName)

	inner, err := os.ReadDir(innerPath)
	if err != nil {
		return nil, err
	}

	for _, child := range inner {
		if err := os.Rename(filepath.Join(innerPath, child.Name()), filepath.Join(extractTmp, child.Name())); err != nil {
			return nil, fmt.Errorf("archive: promoting %s: %w", child.Name(), err)
		}
	}

	if err := os.Remove(innerPath); err != nil {
		return nil, fmt.Errorf("archive: removing flattened dir %s: %w", innerPath, err)
	}

	prefix := norm.NFC.String(innerName) + "/"
	rewritten := make(map[string]int64, len(extractedFiles))

	for rel, size := range extractedFiles {
		rewritten[strings.TrimPrefix(rel, prefix)] = size
	}

	return rewritten, nil
}

// moveContents moves every top-level entry of extractTmp into chartFolder,
// replacing any existing file or directory at the destination.
func moveContents(extractTmp, chartFolder string) error {
	if err := os.MkdirAll(chartFolder, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", chartFolder, err)
	}

	entries, err := os.ReadDir(extractTmp)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		dest := filepath.Join(chartFolder, entry.Name())

		if _, err := os.Stat(dest); err == nil {
			if removeErr := os.RemoveAll(dest); removeErr != nil {
				return fmt.Errorf("removing existing %s: %w", dest, removeErr)
			}
		}

		if err := os.Rename(filepath.Join(extractTmp, entry.Name()), dest); err != nil {
			return fmt.Errorf("moving %s: %w", entry.Name(), err)
		}
	}

	return nil
}

// rewriteForMarker rewrites extracted-tree-relative paths to be relative
// to the drive folder, as markers store them: strip the
// drive name from archiveRelPath's parent to get the setlist path, then
// prefix every extracted file with it.
func rewriteForMarker(archiveRelPath string, extractedFiles map[string]int64) map[string]int64 {
	parent := parentOf(archiveRelPath)

	setlistPath := ""
	if parent != "" {
		if idx := strings.IndexByte(parent, '/'); idx >= 0 {
			setlistPath = parent[idx+1:]
		}
	}

	out := make(map[string]int64, len(extractedFiles))

	for rel, size := range extractedFiles {
		if setlistPath != "" {
			out[setlistPath+"/"+rel] = size
		} else {
			out[rel] = size
		}
	}

	return out
}

func parentOf(p string) string {
	if idx := strings.LastIndexByte(p, '/'); idx >= 0 {
		return p[:idx]
	}

	return ""
}

// IsPathLengthError recognizes platform-specific "name too long" failures
// (Windows error 206, POSIX ENAMETOOLONG/errno 63 on BSD-derived systems,
// errno 36 on Linux) so the caller can write a failed marker instead of
// retrying a doomed archive every sync cycle.
func IsPathLengthError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, syscall.ENAMETOOLONG) {
		return true
	}

	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "name too long") ||
		strings.Contains(msg, "filename or extension is too long") ||
		strings.Contains(msg, "filename too long") ||
		strings.Contains(msg, "path too long")
}
