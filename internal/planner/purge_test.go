package planner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dm-sync/chartsync/internal/config"
	"github.com/dm-sync/chartsync/internal/manifest"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func TestCheckPurgeSafetyBlocksHighRatio(t *testing.T) {
	t.Parallel()

	safe, reason := CheckPurgeSafety(100, 20, 0)
	assert.False(t, safe)
	assert.Contains(t, reason, "20%")
}

func TestCheckPurgeSafetyBlocksAbsoluteSize(t *testing.T) {
	t.Parallel()

	safe, reason := CheckPurgeSafety(1000, 5, 3*1024*1024*1024)
	assert.False(t, safe)
	assert.Contains(t, reason, "GB")
}

func TestCheckPurgeSafetyAllowsSmallPurge(t *testing.T) {
	t.Parallel()

	safe, _ := CheckPurgeSafety(1000, 5, 1024)
	assert.True(t, safe)
}

func TestCheckPurgeSafetyZeroLocalFilesAlwaysSafe(t *testing.T) {
	t.Parallel()

	safe, _ := CheckPurgeSafety(0, 500, 10*1024*1024*1024)
	assert.True(t, safe)
}

func TestApplySafetyGateForceBypassesBlock(t *testing.T) {
	t.Parallel()

	stats := PurgeStats{ExtraFileCount: 50, ExtraFileSize: 0}
	err := ApplySafetyGate(100, stats, true, nil)
	assert.NoError(t, err)
}

func TestApplySafetyGateBlocksWithoutForce(t *testing.T) {
	t.Parallel()

	stats := PurgeStats{ExtraFileCount: 50, ExtraFileSize: 0}
	err := ApplySafetyGate(100, stats, false, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBigPurgeBlocked)
}

func TestPlanPurgeDisabledDrivePurgesEverything(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	writeFile(t, filepath.Join(base, "Drive", "SetA", "song.mid"), 10)

	settings := &config.Settings{DisabledDrives: []string{"drive-1"}, DeleteVideos: true}
	drives := []PurgeDrive{{FolderID: "drive-1", Name: "Drive", Files: []manifest.File{{Path: "SetA/song.mid", Size: 10}}}}

	files, stats := PlanPurge(drives, base, settings, map[string]bool{}, nil, nil)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join("Drive", "SetA", "song.mid"), files[0].Path)
	assert.Equal(t, 1, stats.ChartCount)
}

func TestPlanPurgeProtectsManifestAndMarkerFiles(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	writeFile(t, filepath.Join(base, "Drive", "SetA", "song.mid"), 10)
	writeFile(t, filepath.Join(base, "Drive", "SetA", "extra.mid"), 20)
	writeFile(t, filepath.Join(base, "Drive", "SetA", "marked.mid"), 30)

	settings := &config.Settings{DeleteVideos: true}
	drives := []PurgeDrive{{
		FolderID: "drive-1",
		Name:     "Drive",
		Files:    []manifest.File{{Path: "SetA/song.mid", Size: 10}},
	}}

	files, stats := PlanPurge(drives, base, settings, map[string]bool{"seta/marked.mid": true}, nil, nil)
	require.Len(t, files, 1)
	assert.Equal(t, 1, stats.ExtraFileCount)
	// Base-relative, exactly as purger.Execute joins against basePath.
	assert.Equal(t, filepath.Join("Drive", "SetA", "extra.mid"), files[0].Path)
}

func TestPlanPurgeProtectsFailedSetlists(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	writeFile(t, filepath.Join(base, "Drive", "BrokenSet", "song.mid"), 10)

	settings := &config.Settings{DeleteVideos: true}
	drives := []PurgeDrive{{FolderID: "drive-1", Name: "Drive", Files: []manifest.File{}}}
	failed := map[string]map[string]bool{"drive-1": {"BrokenSet": true}}

	files, stats := PlanPurge(drives, base, settings, map[string]bool{}, failed, nil)
	assert.Empty(t, files)
	assert.Equal(t, 0, stats.ExtraFileCount)
}

func TestPlanPurgeUnscannedFolderSkippedEntirely(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	writeFile(t, filepath.Join(base, "Drive", "SetA", "song.mid"), 10)

	settings := &config.Settings{DeleteVideos: true}
	drives := []PurgeDrive{{FolderID: "drive-1", Name: "Drive", Files: nil}}

	files, _ := PlanPurge(drives, base, settings, map[string]bool{}, nil, nil)
	assert.Empty(t, files, "unscanned folder must never be purged from")
}

func TestPlanPurgePartialDownloadsAlwaysPurgeable(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	writeFile(t, filepath.Join(base, "Drive", "SetA", "_download_pack.7z"), 500)

	settings := &config.Settings{DeleteVideos: true}
	drives := []PurgeDrive{{FolderID: "drive-1", Name: "Drive", Files: []manifest.File{}}}

	files, stats := PlanPurge(drives, base, settings, map[string]bool{}, nil, nil)
	require.Len(t, files, 1)
	assert.Equal(t, 1, stats.PartialCount)
}

func TestPlanPurgeDeletesVideosWhenEnabled(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	writeFile(t, filepath.Join(base, "Drive", "SetA", "clip.mp4"), 1000)

	settings := &config.Settings{DeleteVideos: true}
	drives := []PurgeDrive{{FolderID: "drive-1", Name: "Drive", Files: []manifest.File{{Path: "SetA/clip.mp4", Size: 1000}}}}

	files, stats := PlanPurge(drives, base, settings, map[string]bool{}, nil, nil)
	require.Len(t, files, 1)
	assert.Equal(t, 1, stats.VideoCount)
}

func TestPlanPurgeDisabledSetlistPurgedSeparatelyFromExtras(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	writeFile(t, filepath.Join(base, "Drive", "Disabled Set", "song.mid"), 10)

	settings := &config.Settings{DisabledSubfolders: map[string][]string{"drive-1": {"Disabled Set"}}, DeleteVideos: true}
	drives := []PurgeDrive{{FolderID: "drive-1", Name: "Drive", Files: []manifest.File{{Path: "Disabled Set/song.mid", Size: 10}}}}

	files, stats := PlanPurge(drives, base, settings, map[string]bool{}, nil, nil)
	require.Len(t, files, 1)
	assert.Equal(t, 1, stats.ChartCount)
	assert.Equal(t, 0, stats.ExtraFileCount)
}
