// Package orchestrator implements the per-drive sync pipeline: plan,
// download, extract, then invalidate the drive's stats entry, for each
// selected drive, with results
// accumulated across the whole run. It is the composition point
// between internal/planner, internal/downloader, and internal/stats — it
// owns no algorithm of its own.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	gosync "sync"

	"github.com/dm-sync/chartsync/internal/config"
	"github.com/dm-sync/chartsync/internal/downloader"
	"github.com/dm-sync/chartsync/internal/manifest"
	"github.com/dm-sync/chartsync/internal/pathutil"
	"github.com/dm-sync/chartsync/internal/planner"
	"github.com/dm-sync/chartsync/internal/stats"
)

// FolderReport summarizes one drive's sync cycle. Err is set only when
// the drive's own pipeline could not run at all (e.g. a panic); per-task
// failures are reflected in Errors/RateLimitedIDs instead.
type FolderReport struct {
	DriveID     string
	DriveName   string
	FullySynced bool

	Skipped        int
	LongPaths      []string
	Downloaded     int
	Errors         int
	RateLimitedIDs []string
	Cancelled      bool
	BytesDownload  int64

	Err error
}

// Downloader is the subset of *downloader.Downloader the orchestrator
// drives; declared locally so tests can supply a fake.
type Downloader interface {
	Run(ctx context.Context, tasks []planner.DownloadTask) downloader.Result
}

var _ Downloader = (*downloader.Downloader)(nil)

// Orchestrator runs the per-drive pipeline across every selected drive.
// Each drive runs in its own goroutine with panic recovery, so one
// drive's failure never aborts another's sync.
type Orchestrator struct {
	checker    planner.SyncChecker
	downloader Downloader
	statsCache *stats.Cache
	localBase  string
	logger     *slog.Logger
}

// New creates an Orchestrator. localBase is the root directory drives are
// synced under.
func New(checker planner.SyncChecker, dl Downloader, statsCache *stats.Cache, localBase string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		checker:    checker,
		downloader: dl,
		statsCache: statsCache,
		localBase:  localBase,
		logger:     logger,
	}
}

// SyncDrive runs one drive's pipeline: filter disabled
// setlists, dedupe by newest, plan downloads, run them (unless there's
// nothing to do), then invalidate the drive's stats cache entry so the
// next status read recomputes it.
func (o *Orchestrator) SyncDrive(ctx context.Context, folder manifest.Folder, settings *config.Settings) FolderReport {
	report := FolderReport{DriveID: folder.FolderID, DriveName: folder.Name}

	files := filterDisabledSetlists(folder, settings)
	files = pathutil.DedupeByNewest(files)

	deleteVideos := settings == nil || settings.DeleteVideos
	folderPath := filepath.Join(o.localBase, folder.Name)

	tasks, skipped, longPaths := planner.PlanDownloads(o.checker, files, folderPath, deleteVideos, folder.Name)
	report.Skipped = skipped
	report.LongPaths = longPaths

	if len(longPaths) > 0 {
		o.logger.Warn("orchestrator: paths exceeded filesystem limits",
			slog.String("drive", folder.Name), slog.Int("count", len(longPaths)))
	}

	if len(tasks) == 0 {
		report.FullySynced = true
		o.logger.Info("orchestrator: drive fully synced", slog.String("drive", folder.Name))

		return report
	}

	o.logger.Info("orchestrator: syncing drive",
		slog.String("drive", folder.Name), slog.Int("tasks", len(tasks)), slog.Int("skipped", skipped))

	result := o.downloader.Run(ctx, tasks)

	report.Downloaded = result.Downloaded
	report.Errors = result.Errors
	report.RateLimitedIDs = result.RateLimitedIDs
	report.Cancelled = result.Cancelled
	report.BytesDownload = result.BytesDownloaded
	report.FullySynced = result.Errors == 0 && !result.Cancelled && len(result.RateLimitedIDs) == 0

	if o.statsCache != nil {
		o.statsCache.Invalidate(folder.FolderID)
	}

	return report
}

// filterDisabledSetlists drops every file whose first path component (the
// setlist) is disabled for this drive.
func filterDisabledSetlists(folder manifest.Folder, settings *config.Settings) []manifest.File {
	if settings == nil {
		return folder.Files
	}

	disabled := settings.DisabledSetlists(folder.FolderID)
	if len(disabled) == 0 {
		return folder.Files
	}

	out := make([]manifest.File, 0, len(folder.Files))

	for _, f := range folder.Files {
		setlist := f.Path
		if idx := strings.IndexByte(setlist, '/'); idx >= 0 {
			setlist = setlist[:idx]
		}

		if disabled[setlist] {
			continue
		}

		out = append(out, f)
	}

	return out
}

// SyncDrives runs SyncDrive for every folder concurrently, one goroutine
// per drive with panic recovery so a single drive's crash never aborts
// the others. Reports are returned in the same order as folders.
func (o *Orchestrator) SyncDrives(ctx context.Context, folders []manifest.Folder, settings *config.Settings) []FolderReport {
	reports := make([]FolderReport, len(folders))

	var wg gosync.WaitGroup

	for i, folder := range folders {
		wg.Add(1)

		go func(idx int, f manifest.Folder) {
			defer wg.Done()

			reports[idx] = o.runWithRecovery(ctx, f, settings)
		}(i, folder)
	}

	wg.Wait()

	return reports
}

func (o *Orchestrator) runWithRecovery(ctx context.Context, folder manifest.Folder, settings *config.Settings) (result FolderReport) {
	result = FolderReport{DriveID: folder.FolderID, DriveName: folder.Name}

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("orchestrator: panic syncing drive %s: %v", folder.Name, r)
			o.logger.Error("orchestrator: drive panicked", slog.String("drive", folder.Name), slog.Any("recover", r))
		}
	}()

	return o.SyncDrive(ctx, folder, settings)
}

// RateLimitGuidance collects the distinct drive names that had at least
// one rate-limited task this run, for the UI to surface "try again later"
// guidance.
func RateLimitGuidance(reports []FolderReport) []string {
	var names []string

	for _, r := range reports {
		if len(r.RateLimitedIDs) > 0 {
			names = append(names, r.DriveName)
		}
	}

	return names
}
