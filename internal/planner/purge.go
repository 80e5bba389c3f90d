package planner

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dm-sync/chartsync/internal/config"
	"github.com/dm-sync/chartsync/internal/manifest"
	"github.com/dm-sync/chartsync/internal/pathutil"
	"github.com/dm-sync/chartsync/internal/synccheck"
)

// percentMultiplier avoids integer truncation when expressing a ratio as
// a percentage.
const percentMultiplier = 100

// Safety gate thresholds. Not user-tunable; --force is the escape
// hatch.
const (
	purgeRatioLimit = 0.15
	purgeSizeLimit  = 2 * 1024 * 1024 * 1024 // 2 GiB
)

// ErrBigPurgeBlocked is returned when a purge plan's "extra files" bucket
// alone would cross either safety threshold without explicit confirmation.
var ErrBigPurgeBlocked = errors.New("planner: big-purge protection triggered")

// PurgeFile is one file the purger should remove, with its byte size for
// stats accounting. Path is relative to the purge base path (it starts
// with the drive name), matching what purger.Execute joins against.
type PurgeFile struct {
	Path string
	Size int64
}

// PurgeStats is the detailed breakdown behind a purge plan.
type PurgeStats struct {
	ChartCount      int
	ChartSize       int64
	ExtraFileCount  int
	ExtraFileSize   int64
	PartialCount    int
	PartialSize     int64
	VideoCount      int
	VideoSize       int64
	EstimatedCharts int
}

// TotalFiles is the sum of every bucket's file count.
func (s PurgeStats) TotalFiles() int {
	return s.ChartCount + s.ExtraFileCount + s.PartialCount + s.VideoCount
}

// TotalSize is the sum of every bucket's byte size.
func (s PurgeStats) TotalSize() int64 {
	return s.ChartSize + s.ExtraFileSize + s.PartialSize + s.VideoSize
}

// PurgeDrive is the subset of manifest.Folder the purge planner needs,
// plus the enable state settings supplies.
type PurgeDrive struct {
	FolderID string
	Name     string
	Files    []manifest.File // nil means unscanned — must block purge
}

// CheckPurgeSafety is the safety gate: blocks if the
// extra-files bucket alone exceeds 15% of local files or 2 GiB.
func CheckPurgeSafety(localFileCount, purgeCount int, purgeBytes int64) (bool, string) {
	if localFileCount == 0 {
		return true, ""
	}

	ratio := float64(purgeCount) / float64(localFileCount)
	if ratio > purgeRatioLimit {
		return false, fmt.Sprintf("%.0f%% of files (%d/%d)", ratio*percentMultiplier, purgeCount, localFileCount)
	}

	if purgeBytes > purgeSizeLimit {
		return false, fmt.Sprintf("%.1f GB exceeds limit", float64(purgeBytes)/(1024*1024*1024))
	}

	return true, ""
}

// ApplySafetyGate runs CheckPurgeSafety over the extra-files bucket only
// (disabled-drive and disabled-setlist purges are considered explicitly
// user-initiated and exempt) and turns a failure into
// ErrBigPurgeBlocked. forced bypasses the gate, logging instead of
// blocking.
func ApplySafetyGate(localFileCount int, stats PurgeStats, forced bool, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	safe, reason := CheckPurgeSafety(localFileCount, stats.ExtraFileCount, stats.ExtraFileSize)
	if safe {
		return nil
	}

	if forced {
		logger.Warn("purge: big-purge override via force", slog.String("detail", reason))

		return nil
	}

	logger.Error("purge: big-purge protection triggered", slog.String("detail", reason))

	return fmt.Errorf("%w: %s", ErrBigPurgeBlocked, reason)
}

// localFile is one file discovered on disk under a folder, keyed by its
// folder-relative posix path.
type localFile struct {
	relPath string
	size    int64
}

func scanLocalFiles(folderPath string) []localFile {
	var out []localFile

	_ = filepath.Walk(folderPath, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil //nolint:nilerr // unreadable entries are simply excluded from the scan
		}

		rel, err := filepath.Rel(folderPath, p)
		if err != nil {
			return nil //nolint:nilerr
		}

		out = append(out, localFile{relPath: filepath.ToSlash(rel), size: info.Size()})

		return nil
	})

	return out
}

// PlanPurge decides which on-disk files in each drive are safe to
// delete, honoring disabled drives/setlists, failed-setlist protection,
// and the global marker/manifest protection sets. logger receives
// diagnostic detail when a folder's extra-file count looks suspicious
// (>50).
func PlanPurge(
	drives []PurgeDrive,
	basePath string,
	settings *config.Settings,
	markerFiles map[string]bool,
	failedSetlists map[string]map[string]bool,
	logger *slog.Logger,
) ([]PurgeFile, PurgeStats) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		stats PurgeStats
		all   []PurgeFile
		seen  = map[string]bool{}
	)

	add := func(rel string, size int64) {
		if !seen[rel] {
			seen[rel] = true
			all = append(all, PurgeFile{Path: rel, Size: size})
		}
	}

	for _, drive := range drives {
		folderPath := filepath.Join(basePath, drive.Name)

		info, err := os.Stat(folderPath)
		if err != nil || !info.IsDir() {
			continue
		}

		local := scanLocalFiles(folderPath)
		if len(local) == 0 {
			continue
		}

		driveEnabled := settings == nil || settings.IsDriveEnabled(drive.FolderID)

		if !driveEnabled {
			for _, f := range local {
				stats.ChartCount++
				stats.ChartSize += f.size
				add(filepath.Join(drive.Name, f.relPath), f.size)

				if synccheck.IsArchiveFile(f.relPath) {
					stats.EstimatedCharts++
				}
			}

			continue
		}

		if drive.Files == nil {
			logger.Debug("purge: folder unscanned, skipping entirely", slog.String("folder", drive.Name))

			continue
		}

		planOneDrive(drive, local, settings, markerFiles, failedSetlists[drive.FolderID], &stats, add, logger)
	}

	return all, stats
}

func planOneDrive(
	drive PurgeDrive,
	local []localFile,
	settings *config.Settings,
	markerFiles map[string]bool,
	failedNames map[string]bool,
	stats *PurgeStats,
	add func(string, int64),
	logger *slog.Logger,
) {
	disabledRaw := map[string]bool{}
	if settings != nil {
		disabledRaw = settings.DisabledSetlists(drive.FolderID)
	}

	disabledSetlists := sanitizeNameSet(disabledRaw)
	failedSanitized := sanitizeNameSet(failedNames)

	partialPaths, disabledPaths, failedPaths := map[string]bool{}, map[string]bool{}, map[string]bool{}

	for _, f := range local {
		if strings.HasPrefix(baseName(f.relPath), downloadTmpPrefix) {
			partialPaths[f.relPath] = true
			stats.PartialCount++
			stats.PartialSize += f.size
			stats.EstimatedCharts++
			add(filepath.Join(drive.Name, f.relPath), f.size)

			continue
		}

		setlist := setlistOf(f.relPath)

		if failedSanitized[setlist] {
			failedPaths[f.relPath] = true

			continue
		}

		if disabledSetlists[setlist] {
			disabledPaths[f.relPath] = true
			stats.ChartCount++
			stats.ChartSize += f.size
			add(filepath.Join(drive.Name, f.relPath), f.size)

			if synccheck.IsArchiveFile(f.relPath) {
				stats.EstimatedCharts++
			}
		}
	}

	manifestPaths := buildManifestPathSet(drive, disabledSetlists)

	extraPaths := findExtraFiles(drive.Name, local, markerFiles, manifestPaths, partialPaths, logger)

	for _, f := range local {
		if !extraPaths[f.relPath] || disabledPaths[f.relPath] || failedPaths[f.relPath] {
			continue
		}

		stats.ExtraFileCount++
		stats.ExtraFileSize += f.size
		add(filepath.Join(drive.Name, f.relPath), f.size)

		if synccheck.IsArchiveFile(f.relPath) {
			stats.EstimatedCharts++
		}
	}

	deleteVideos := settings == nil || settings.DeleteVideos

	if deleteVideos {
		for _, f := range local {
			if disabledPaths[f.relPath] || extraPaths[f.relPath] || failedPaths[f.relPath] {
				continue
			}

			if synccheck.IsVideoFile(f.relPath) {
				stats.VideoCount++
				stats.VideoSize += f.size
				add(filepath.Join(drive.Name, f.relPath), f.size)
			}
		}
	}
}

func sanitizeNameSet(names map[string]bool) map[string]bool {
	out := make(map[string]bool, len(names))
	for name := range names {
		out[pathutil.SanitizeFilename(name)] = true
	}

	return out
}

func setlistOf(relPath string) string {
	if idx := strings.IndexByte(relPath, '/'); idx >= 0 {
		return pathutil.SanitizeFilename(relPath[:idx])
	}

	return pathutil.SanitizeFilename(relPath)
}

func buildManifestPathSet(drive PurgeDrive, disabledSetlists map[string]bool) map[string]bool {
	set := make(map[string]bool, len(drive.Files))

	for _, f := range drive.Files {
		setlist := setlistOf(f.Path)
		if disabledSetlists[setlist] {
			continue
		}

		set[pathutil.NormalizePathKey(drive.Name+"/"+pathutil.SanitizePath(f.Path))] = true
	}

	return set
}

func findExtraFiles(
	folderName string,
	local []localFile,
	markerFiles, manifestPaths map[string]bool,
	partialPaths map[string]bool,
	logger *slog.Logger,
) map[string]bool {
	extras := make(map[string]bool)

	for _, f := range local {
		if partialPaths[f.relPath] {
			continue
		}

		markerKey := pathutil.NormalizePathKey(f.relPath)
		manifestKey := pathutil.NormalizePathKey(folderName + "/" + f.relPath)

		if markerFiles[markerKey] || markerFiles[manifestKey] || manifestPaths[manifestKey] {
			continue
		}

		extras[f.relPath] = true
	}

	if len(extras) > 50 { //nolint:mnd // diagnostic threshold, not a behavioral cutoff
		logger.Debug("purge: high extra-file count",
			slog.String("folder", folderName),
			slog.Int("extras", len(extras)),
			slog.Int("local_files", len(local)),
			slog.Int("marker_count", len(markerFiles)),
		)
	}

	return extras
}
