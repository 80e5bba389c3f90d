// Package planner implements the download and purge planners: the pure
// decision layer between (manifest, markers, disk state, settings) and
// the tasks the downloader and purger actually execute.
package planner

import (
	"path"
	"strings"

	"github.com/dm-sync/chartsync/internal/manifest"
	"github.com/dm-sync/chartsync/internal/pathutil"
	"github.com/dm-sync/chartsync/internal/synccheck"
)

const (
	maxFilenameLength = 255
	downloadTmpPrefix = "_download_"
)

// excludedFiles are known problem files skipped outright during planning —
// names that have previously collided with an existing directory of the
// same name on disk.
var excludedFiles = map[string]bool{
	"vianova - Wheel of Fortune_PS.zip": true,
}

// DownloadTask is one file the downloader must fetch.
type DownloadTask struct {
	FileID       string
	LocalPath    string // destination path on disk; archives point at a _download_ sibling
	Size         int64
	MD5          string
	IsArchive    bool
	RelPath      string // folder-prefixed relative path, for marker/stats bookkeeping
	DeleteVideos bool   // strip video files from the extracted tree
}

// SyncChecker is the subset of *synccheck.Checker the download planner
// consults.
type SyncChecker interface {
	IsArchiveSynced(folderName, parentPath, archiveName, manifestMD5, localBase string) (bool, int64)
	IsFileSynced(localPath string, manifestSize int64) bool
	IsArchivePermanentlyFailed(folderName, parentPath, archiveName, manifestMD5 string) bool
}

var _ SyncChecker = (*synccheck.Checker)(nil)

// PlanDownloads walks a folder's manifest files in order and decides which
// need downloading. Returns the ordered task list, a skipped
// count, and any paths rejected for exceeding filesystem path limits.
func PlanDownloads(
	checker SyncChecker,
	files []manifest.File,
	localBase string,
	deleteVideos bool,
	folderName string,
) ([]DownloadTask, int, []string) {
	var (
		tasks     []DownloadTask
		skipped   int
		longPaths []string
	)

	seenArchiveDest := make(map[string]bool)

	for _, f := range files {
		filePath := pathutil.SanitizePath(f.Path)
		fileName := baseName(filePath)

		relPath := filePath
		if folderName != "" {
			relPath = folderName + "/" + filePath
		}

		if excludedFiles[fileName] {
			skipped++

			continue
		}

		if f.MD5 == "" && !strings.Contains(fileName, ".") {
			skipped++ // cloud-native document with no binary form to fetch

			continue
		}

		isArchive := synccheck.IsArchiveFile(fileName)
		localPath := path.Join(localBase, filePath)
		downloadPath := localPath

		if isArchive {
			extractFolder := parentPosix(filePath)
			normalizedDest := pathutil.NormalizePathKey(joinNonEmpty(folderName, extractFolder))

			if seenArchiveDest[normalizedDest] {
				skipped++ // another archive in this plan already extracts here

				continue
			}

			seenArchiveDest[normalizedDest] = true

			downloadPath = path.Join(path.Dir(localPath), downloadTmpPrefix+fileName)
		} else if deleteVideos && synccheck.IsVideoFile(fileName) {
			skipped++

			continue
		}

		if hasLongComponent(filePath) || exceedsWindowsPathLimit(downloadPath) {
			longPaths = append(longPaths, filePath)

			continue
		}

		var synced bool

		if isArchive {
			if checker.IsArchivePermanentlyFailed(folderName, parentPosix(filePath), fileName, f.MD5) {
				skipped++ // failed marker still within its TTL

				continue
			}

			synced, _ = checker.IsArchiveSynced(folderName, parentPosix(filePath), fileName, f.MD5, localBase)
		} else {
			synced = checker.IsFileSynced(localPath, f.Size)
		}

		if synced {
			skipped++

			continue
		}

		tasks = append(tasks, DownloadTask{
			FileID:       f.ID,
			LocalPath:    downloadPath,
			Size:         f.Size,
			MD5:          f.MD5,
			IsArchive:    isArchive,
			RelPath:      relPath,
			DeleteVideos: deleteVideos,
		})
	}

	return tasks, skipped, longPaths
}

func baseName(p string) string {
	if idx := strings.LastIndexByte(p, '/'); idx >= 0 {
		return p[idx+1:]
	}

	return p
}

func parentPosix(p string) string {
	if idx := strings.LastIndexByte(p, '/'); idx >= 0 {
		return p[:idx]
	}

	return ""
}

func joinNonEmpty(a, b string) string {
	if a == "" {
		return b
	}

	if b == "" {
		return a
	}

	return a + "/" + b
}

func hasLongComponent(p string) bool {
	for _, part := range strings.Split(p, "/") {
		if len(part) > maxFilenameLength {
			return true
		}
	}

	return false
}
