package markers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dm-sync/chartsync/internal/manifest"
	"github.com/dm-sync/chartsync/internal/syncstate"
)

func TestRebuildFromDiskCreatesOnlyVerifiedMarkers(t *testing.T) {
	t.Parallel()

	store, dir := newTestStore(t)
	base := filepath.Join(dir, "disk")

	writeFile(t, base, "SetA/chart/song.ini", 100)
	writeFile(t, base, "SetA/chart/notes.mid", 200)
	// SetB's chart is missing one file, so its candidate must be skipped.
	writeFile(t, base, "SetB/chart/song.ini", 50)

	candidates := map[string]RebuildCandidate{
		"Misc/SetA/pack.7z": {MD5: "m1", Files: map[string]int64{
			"SetA/chart/song.ini":  100,
			"SetA/chart/notes.mid": 200,
		}},
		"Misc/SetB/pack.7z": {MD5: "m2", Files: map[string]int64{
			"SetB/chart/song.ini":  50,
			"SetB/chart/notes.mid": 75,
		}},
		"Misc/SetC/pack.7z": {MD5: "m3"}, // no file evidence at all
	}

	result, err := store.RebuildFromDisk(base, candidates, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 2, result.Skipped)

	m, err := store.Load("Misc/SetA/pack.7z", "m1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.True(t, store.Verify(m, base))

	m, err = store.Load("Misc/SetB/pack.7z", "m2")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestRebuildFromDiskSkipsExistingMarkers(t *testing.T) {
	t.Parallel()

	store, dir := newTestStore(t)
	base := filepath.Join(dir, "disk")
	writeFile(t, base, "SetA/chart/song.ini", 10)

	files := map[string]int64{"SetA/chart/song.ini": 10}
	require.NoError(t, store.Save("Misc/SetA/pack.7z", "m1", files))

	result, err := store.RebuildFromDisk(base, map[string]RebuildCandidate{
		"Misc/SetA/pack.7z": {MD5: "m1", Files: files},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 1, result.Skipped)
}

func TestCandidatesFromSyncStateLayersFileEvidence(t *testing.T) {
	t.Parallel()

	m := &manifest.Manifest{Folders: []manifest.Folder{{
		FolderID: "d1",
		Name:     "Misc",
		Files: []manifest.File{
			{ID: "1", Path: "SetA/pack.7z", Name: "pack.7z", Size: 1000, MD5: "m1"},
			{ID: "2", Path: "SetB/pack.7z", Name: "pack.7z", Size: 1000, MD5: "changed"},
			{ID: "3", Path: "SetC/doc", Name: "doc", Size: 0, MD5: ""},
		},
	}}}

	sc, err := syncstate.Load(filepath.Join(t.TempDir(), "sync_state.json"))
	require.NoError(t, err)
	sc.AddArchive("Misc/SetA/pack.7z", "m1", 1000, map[string]int64{"SetA/chart/song.ini": 10})
	// Stale entry: the manifest's MD5 moved on, so its file list must not
	// be trusted for the new content.
	sc.AddArchive("Misc/SetB/pack.7z", "old", 1000, map[string]int64{"SetB/chart/song.ini": 20})

	candidates := CandidatesFromSyncState(m, sc)

	require.Contains(t, candidates, "Misc/SetA/pack.7z")
	assert.Equal(t, map[string]int64{"SetA/chart/song.ini": 10}, candidates["Misc/SetA/pack.7z"].Files)

	require.Contains(t, candidates, "Misc/SetB/pack.7z")
	assert.Nil(t, candidates["Misc/SetB/pack.7z"].Files)

	assert.NotContains(t, candidates, "Misc/SetC/doc")
}

func TestMigrateOnceRunsExactlyOnce(t *testing.T) {
	t.Parallel()

	store, dir := newTestStore(t)
	base := filepath.Join(dir, "disk")
	writeFile(t, base, "SetA/chart/song.ini", 10)

	candidates := map[string]RebuildCandidate{
		"Misc/SetA/pack.7z": {MD5: "m1", Files: map[string]int64{"SetA/chart/song.ini": 10}},
	}

	result, ran, err := store.MigrateOnce(base, candidates, nil)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, result.Created)

	_, statErr := os.Stat(filepath.Join(store.dir, migratedSentinel))
	require.NoError(t, statErr)

	// Second call is a no-op even though the candidate would verify again.
	result, ran, err = store.MigrateOnce(base, candidates, nil)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 0, result.Created)
}
