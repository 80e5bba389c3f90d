package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dm-sync/chartsync/internal/markers"
)

func newTestStore(t *testing.T) *markers.Store {
	t.Helper()

	store, err := markers.New(t.TempDir(), nil)
	require.NoError(t, err)

	return store
}

func TestProcessExtractsAndSavesMarker(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	chartFolder := filepath.Join(root, "Drive", "SetA", "SongOne")
	require.NoError(t, os.MkdirAll(chartFolder, 0o755))

	archivePath := filepath.Join(chartFolder, "_download_pack.zip")
	writeTestZip(t, archivePath, map[string]string{
		"notes.chart": "data",
		"song.ogg":    "audio",
	})

	store := newTestStore(t)
	tmpRoot := t.TempDir()

	task := Task{
		DownloadPath:   archivePath,
		ArchiveRelPath: "Drive/SetA/SongOne/pack.zip",
		MD5:            "deadbeef",
	}

	result, err := Process(task, tmpRoot, store, nil)
	require.NoError(t, err)

	assert.Contains(t, result.ExtractedFiles, "SetA/SongOne/notes.chart")
	assert.Contains(t, result.ExtractedFiles, "SetA/SongOne/song.ogg")

	_, err = os.Stat(filepath.Join(chartFolder, "notes.chart"))
	assert.NoError(t, err)

	_, err = os.Stat(archivePath)
	assert.True(t, os.IsNotExist(err), "archive should be deleted after extraction")

	marker, err := store.Load(task.ArchiveRelPath, task.MD5)
	require.NoError(t, err)
	assert.Contains(t, marker.Files, "SetA/SongOne/notes.chart")
}

func TestProcessFlattensRedundantTopLevelFolder(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	chartFolder := filepath.Join(root, "Drive", "SetA", "SongOne")
	require.NoError(t, os.MkdirAll(chartFolder, 0o755))

	archivePath := filepath.Join(chartFolder, "_download_SongOne.zip")
	writeTestZip(t, archivePath, map[string]string{
		"SongOne/notes.chart": "data",
		"SongOne/song.ogg":    "audio",
	})

	store := newTestStore(t)
	tmpRoot := t.TempDir()

	task := Task{
		DownloadPath:   archivePath,
		ArchiveRelPath: "Drive/SetA/SongOne/SongOne.zip",
		MD5:            "cafebabe",
	}

	result, err := Process(task, tmpRoot, store, nil)
	require.NoError(t, err)

	assert.Contains(t, result.ExtractedFiles, "SetA/SongOne/notes.chart")
	assert.NotContains(t, result.ExtractedFiles, "SetA/SongOne/SongOne/notes.chart")

	_, err = os.Stat(filepath.Join(chartFolder, "notes.chart"))
	assert.NoError(t, err)

	_, err = os.Stat(filepath.Join(chartFolder, "SongOne"))
	assert.True(t, os.IsNotExist(err), "inner redundant folder should have been flattened away")
}

func TestProcessDeletesVideosWhenRequested(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	chartFolder := filepath.Join(root, "Drive", "SetA", "SongOne")
	require.NoError(t, os.MkdirAll(chartFolder, 0o755))

	archivePath := filepath.Join(chartFolder, "_download_pack.zip")
	writeTestZip(t, archivePath, map[string]string{
		"notes.chart": "data",
		"preview.mp4": "video",
	})

	store := newTestStore(t)

	task := Task{
		DownloadPath:   archivePath,
		ArchiveRelPath: "Drive/SetA/SongOne/pack.zip",
		MD5:            "f00d",
		DeleteVideos:   true,
	}

	result, err := Process(task, t.TempDir(), store, nil)
	require.NoError(t, err)

	assert.Contains(t, result.ExtractedFiles, "SetA/SongOne/notes.chart")
	assert.NotContains(t, result.ExtractedFiles, "SetA/SongOne/preview.mp4")

	_, err = os.Stat(filepath.Join(chartFolder, "preview.mp4"))
	assert.True(t, os.IsNotExist(err))
}

func TestProcessOverwritesExistingDestinationFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	chartFolder := filepath.Join(root, "Drive", "SetA", "SongOne")
	require.NoError(t, os.MkdirAll(chartFolder, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(chartFolder, "notes.chart"), []byte("stale"), 0o644))

	archivePath := filepath.Join(chartFolder, "_download_pack.zip")
	writeTestZip(t, archivePath, map[string]string{"notes.chart": "fresh"})

	store := newTestStore(t)
	task := Task{
		DownloadPath:   archivePath,
		ArchiveRelPath: "Drive/SetA/SongOne/pack.zip",
		MD5:            "1234",
	}

	_, err := Process(task, t.TempDir(), store, nil)
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(chartFolder, "notes.chart"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(content))
}

func TestIsPathLengthErrorRecognizesMessages(t *testing.T) {
	t.Parallel()

	assert.False(t, IsPathLengthError(nil))
	assert.True(t, IsPathLengthError(&os.PathError{Op: "open", Path: "x", Err: errNameTooLong{}}))
}

type errNameTooLong struct{}

func (errNameTooLong) Error() string { return "file name too long" }
