package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dm-sync/chartsync/internal/config"
	"github.com/dm-sync/chartsync/internal/downloader"
	"github.com/dm-sync/chartsync/internal/manifest"
	"github.com/dm-sync/chartsync/internal/planner"
)

// fakeChecker reports everything as unsynced, so every file produces a
// download task.
type fakeChecker struct{}

func (fakeChecker) IsArchiveSynced(_, _, _, _, _ string) (bool, int64) { return false, 0 }
func (fakeChecker) IsFileSynced(_ string, _ int64) bool                { return false }
func (fakeChecker) IsArchivePermanentlyFailed(_, _, _, _ string) bool  { return false }

// fakeDownloader records the tasks it was asked to run and returns a
// canned result.
type fakeDownloader struct {
	result downloader.Result
	ran    []planner.DownloadTask
}

func (f *fakeDownloader) Run(_ context.Context, tasks []planner.DownloadTask) downloader.Result {
	f.ran = tasks

	return f.result
}

func testFolder() manifest.Folder {
	return manifest.Folder{
		FolderID: "drive1",
		Name:     "Misc",
		Files: []manifest.File{
			{ID: "1", Path: "SetA/song.ini", Name: "song.ini", Size: 10, Modified: "2024-01-01T00:00:00Z"},
			{ID: "2", Path: "SetB/song.ini", Name: "song.ini", Size: 10, Modified: "2024-01-01T00:00:00Z"},
		},
	}
}

func TestSyncDriveSkipsDisabledSetlists(t *testing.T) {
	t.Parallel()

	dl := &fakeDownloader{result: downloader.Result{Downloaded: 1}}
	o := New(fakeChecker{}, dl, nil, t.TempDir(), nil)

	settings := &config.Settings{DisabledSubfolders: map[string][]string{"drive1": {"SetB"}}}

	report := o.SyncDrive(context.Background(), testFolder(), settings)

	require.Len(t, dl.ran, 1)
	assert.Equal(t, "Misc/SetA/song.ini", dl.ran[0].RelPath)
	assert.Equal(t, 1, report.Downloaded)
}

func TestSyncDriveReportsFullySyncedWhenNoTasks(t *testing.T) {
	t.Parallel()

	dl := &fakeDownloader{}

	checker := fakeSyncedChecker{}
	o := New(checker, dl, nil, t.TempDir(), nil)

	report := o.SyncDrive(context.Background(), testFolder(), nil)

	assert.True(t, report.FullySynced)
	assert.Empty(t, dl.ran)
}

type fakeSyncedChecker struct{}

func (fakeSyncedChecker) IsArchiveSynced(_, _, _, _, _ string) (bool, int64) { return true, 0 }
func (fakeSyncedChecker) IsFileSynced(_ string, _ int64) bool                { return true }
func (fakeSyncedChecker) IsArchivePermanentlyFailed(_, _, _, _ string) bool  { return false }

func TestSyncDrivesIsolatesPanics(t *testing.T) {
	t.Parallel()

	// testFolder() plans 2 tasks (SetA + SetB); drive2 plans 1. Panic on the
	// 2-task plan so the crashing drive is deterministic regardless of
	// goroutine scheduling order.
	dl := &panicDownloader{panicOnTaskCount: 2}
	o := New(fakeChecker{}, dl, nil, t.TempDir(), nil)

	folders := []manifest.Folder{testFolder(), {FolderID: "drive2", Name: "Other", Files: []manifest.File{
		{ID: "3", Path: "SetC/song.ini", Size: 5, Modified: "2024-01-01T00:00:00Z"},
	}}}

	reports := o.SyncDrives(context.Background(), folders, nil)

	require.Len(t, reports, 2)
	assert.Error(t, reports[0].Err)
	assert.NoError(t, reports[1].Err)
}

// panicDownloader panics only for a plan of the given size, so the test
// can deterministically pick which drive crashes regardless of goroutine
// scheduling order.
type panicDownloader struct {
	panicOnTaskCount int
	calls            atomic.Int32
}

func (p *panicDownloader) Run(_ context.Context, tasks []planner.DownloadTask) downloader.Result {
	p.calls.Add(1)

	if len(tasks) == p.panicOnTaskCount {
		panic("boom")
	}

	return downloader.Result{Downloaded: len(tasks)}
}

func TestRateLimitGuidanceCollectsAffectedDrives(t *testing.T) {
	t.Parallel()

	reports := []FolderReport{
		{DriveName: "A", RateLimitedIDs: []string{"x"}},
		{DriveName: "B"},
		{DriveName: "C", RateLimitedIDs: []string{"y"}},
	}

	assert.Equal(t, []string{"A", "C"}, RateLimitGuidance(reports))
}
