// Package downloader fans a download plan out across a bounded
// network-concurrency pool and hands completed archives to a separate,
// smaller extraction pool. It never builds the plan (see
// internal/planner) and never talks HTTP directly (see internal/remote);
// its job is scheduling, retry/rate-limit classification, cancellation,
// and archive post-processing.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/dm-sync/chartsync/internal/archive"
	"github.com/dm-sync/chartsync/internal/planner"
	"github.com/dm-sync/chartsync/internal/remote"
)

const (
	// DefaultNetworkConcurrency is how many downloads run in flight at
	// once.
	DefaultNetworkConcurrency = 24
	// ReducedNetworkConcurrency applies when any task in the plan exceeds
	// LargeFileThreshold, to conserve memory.
	ReducedNetworkConcurrency = 8
	// LargeFileThreshold is the cutoff above which a plan is considered
	// memory-heavy.
	LargeFileThreshold = 500 * 1024 * 1024
	// DefaultExtractionConcurrency is the independent extraction pool
	// size: CPU/IO-bound work that must not starve network workers.
	DefaultExtractionConcurrency = 2
	// MaxRetries caps retry attempts.
	MaxRetries = 3
	// progressSizeThreshold and progressElapsedThreshold gate when a task
	// registers with the progress callback.
	progressSizeThreshold    = 512 * 1024
	progressElapsedThreshold = 500 * time.Millisecond
)

// backoffUnit scales the exponential backoff between retries. Tests
// override this to keep retry assertions fast.
var backoffUnit = time.Second

// CancelCheck lets the caller wire an external cancellation source (ESC-key
// monitor, signal handler, UI button) into the downloader without the
// downloader depending on how that source works.
type CancelCheck func() bool

// ProgressFunc is invoked while a task's body streams in, after the
// size/elapsed thresholds are crossed.
type ProgressFunc func(task planner.DownloadTask, bytesDone int64)

// Result is the aggregate outcome of one Run call.
type Result struct {
	Downloaded      int
	Skipped         int
	Errors          int
	RateLimitedIDs  []string
	Cancelled       bool
	BytesDownloaded int64
}

// Downloader executes a download plan.
type Downloader struct {
	store   remote.Store
	tokens  remote.TokenSource
	markers archive.MarkerSaver
	tmpRoot string
	logger  *slog.Logger

	cancelCheck CancelCheck
	onProgress  ProgressFunc
	cancelled   atomic.Bool
}

// New creates a Downloader. tmpRoot is the extraction scratch directory
// (.dm-sync/tmp/extract/); the caller is responsible for purging it at
// startup.
func New(store remote.Store, tokens remote.TokenSource, markers archive.MarkerSaver, tmpRoot string, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	return &Downloader{store: store, tokens: tokens, markers: markers, tmpRoot: tmpRoot, logger: logger}
}

// SetCancelCheck wires the caller-supplied cancellation predicate.
func (d *Downloader) SetCancelCheck(fn CancelCheck) { d.cancelCheck = fn }

// SetProgress wires a progress callback.
func (d *Downloader) SetProgress(fn ProgressFunc) { d.onProgress = fn }

func (d *Downloader) isCancelled() bool {
	if d.cancelled.Load() {
		return true
	}

	if d.cancelCheck != nil && d.cancelCheck() {
		d.cancelled.Store(true)

		return true
	}

	return false
}

// Run executes tasks with bounded network concurrency and an independent
// extraction pool, returning aggregate counts.
func (d *Downloader) Run(ctx context.Context, tasks []planner.DownloadTask) Result {
	networkWorkers := DefaultNetworkConcurrency

	for _, t := range tasks {
		if t.Size > LargeFileThreshold {
			networkWorkers = ReducedNetworkConcurrency

			break
		}
	}

	runID := uuid.NewString()
	d.logger.Info("downloader: run starting",
		slog.String("run_id", runID), slog.Int("tasks", len(tasks)), slog.Int("workers", networkWorkers))

	netSem := semaphore.NewWeighted(int64(networkWorkers))
	extractSem := semaphore.NewWeighted(int64(DefaultExtractionConcurrency))

	var (
		mu     sync.Mutex
		result Result
		wg     sync.WaitGroup
	)

	for _, task := range tasks {
		if d.isCancelled() {
			break
		}

		if err := netSem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)

		go func(task planner.DownloadTask) {
			defer wg.Done()
			defer netSem.Release(1)

			outcome, bytesDone := d.runTask(ctx, task, extractSem)

			mu.Lock()
			defer mu.Unlock()

			switch outcome {
			case outcomeDownloaded:
				result.Downloaded++
				result.BytesDownloaded += bytesDone
			case outcomeSkipped:
				result.Skipped++
			case outcomeRateLimited:
				result.RateLimitedIDs = append(result.RateLimitedIDs, task.FileID)
			case outcomeError:
				result.Errors++
			}
		}(task)
	}

	wg.Wait()

	result.Cancelled = d.isCancelled()

	d.logger.Info("downloader: run finished",
		slog.String("run_id", runID), slog.Int("downloaded", result.Downloaded),
		slog.Int("errors", result.Errors), slog.Bool("cancelled", result.Cancelled))

	if result.Cancelled {
		d.cleanupPartials(tasks)
	}

	return result
}

type outcome int

const (
	outcomeDownloaded outcome = iota
	outcomeSkipped
	outcomeRateLimited
	outcomeError
)

// runTask downloads one task with retry/rate-limit classification, then
// hands archives to the extraction pool.
func (d *Downloader) runTask(ctx context.Context, task planner.DownloadTask, extractSem *semaphore.Weighted) (outcome, int64) {
	if d.isCancelled() {
		return outcomeSkipped, 0
	}

	bytesDone, err := d.downloadWithRetries(ctx, task)
	if err != nil {
		if errors.Is(err, remote.ErrRateLimited) {
			d.logger.Warn("downloader: rate limited", slog.String("file_id", task.FileID))

			return outcomeRateLimited, 0
		}

		d.logger.Error("downloader: task failed",
			slog.String("file_id", task.FileID), slog.String("error", err.Error()))

		_ = os.Remove(task.LocalPath)

		return outcomeError, 0
	}

	if !task.IsArchive {
		return outcomeDownloaded, bytesDone
	}

	if err := extractSem.Acquire(ctx, 1); err != nil {
		return outcomeError, bytesDone
	}
	defer extractSem.Release(1)

	procTask := archive.Task{
		DownloadPath:   task.LocalPath,
		ArchiveRelPath: task.RelPath,
		MD5:            task.MD5,
		DeleteVideos:   task.DeleteVideos,
	}

	if _, err := archive.Process(procTask, d.tmpRoot, d.markers, d.logger); err != nil {
		d.logger.Error("downloader: archive processing failed",
			slog.String("file_id", task.FileID), slog.String("error", err.Error()))

		if archive.IsPathLengthError(err) {
			if saveErr := d.markers.SaveFailed(task.RelPath, task.MD5, err.Error()); saveErr != nil {
				d.logger.Error("downloader: recording failed marker", slog.String("error", saveErr.Error()))
			}
		}

		return outcomeError, bytesDone
	}

	return outcomeDownloaded, bytesDone
}

// downloadWithRetries applies the retry/backoff rules: transient errors
// back off exponentially up to MaxRetries, auth failures switch to the
// acknowledge-abuse URL when a token is available, and rate limits fail
// the task immediately.
func (d *Downloader) downloadWithRetries(ctx context.Context, task planner.DownloadTask) (int64, error) {
	var lastErr error

	useAcknowledgeAbuse := false

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * backoffUnit

			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if d.isCancelled() {
			return 0, fmt.Errorf("downloader: cancelled before attempt %d", attempt)
		}

		n, err := d.downloadOnce(ctx, task, useAcknowledgeAbuse)
		if err == nil {
			return n, nil
		}

		lastErr = err

		switch {
		case errors.Is(err, remote.ErrRateLimited):
			return 0, err // non-retryable this session
		case errors.Is(err, remote.ErrHTMLInterstitial), errors.Is(err, remote.ErrAuthRequired):
			if d.tokens == nil {
				return 0, fmt.Errorf("downloader: sign in required to bypass interstitial: %w", err)
			}

			useAcknowledgeAbuse = true

			continue
		case errors.Is(err, remote.ErrTransient):
			continue
		default:
			return 0, err
		}
	}

	return 0, fmt.Errorf("downloader: exhausted retries: %w", lastErr)
}

func (d *Downloader) downloadOnce(ctx context.Context, task planner.DownloadTask, useAcknowledgeAbuse bool) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(task.LocalPath), 0o755); err != nil {
		return 0, fmt.Errorf("downloader: creating %s: %w", filepath.Dir(task.LocalPath), err)
	}

	f, err := os.Create(task.LocalPath) //nolint:gosec // LocalPath is planner-derived, not user input
	if err != nil {
		return 0, fmt.Errorf("downloader: creating %s: %w", task.LocalPath, err)
	}
	defer f.Close()

	pw := &progressWriter{
		w:        f,
		task:     task,
		onReport: d.onProgress,
	}

	n, err := d.store.Download(ctx, task.FileID, pw, useAcknowledgeAbuse)
	if err != nil {
		return n, err
	}

	if d.onProgress != nil {
		d.onProgress(task, n)
	}

	return n, nil
}

// progressWriter wraps the destination file so streamed writes can trigger
// progress callbacks once the size/elapsed thresholds are crossed.
type progressWriter struct {
	w        io.Writer
	task     planner.DownloadTask
	onReport ProgressFunc

	written  int64
	start    time.Time
	startSet bool
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	if !pw.startSet {
		pw.start = time.Now()
		pw.startSet = true
	}

	n, err := pw.w.Write(p)
	pw.written += int64(n)

	if pw.onReport != nil && pw.task.Size >= progressSizeThreshold && time.Since(pw.start) >= progressElapsedThreshold {
		pw.onReport(pw.task, pw.written)
	}

	return n, err
}

// cleanupPartials removes any not-yet-completed _download_ files after a
// cancelled run.
func (d *Downloader) cleanupPartials(tasks []planner.DownloadTask) {
	for _, task := range tasks {
		if !task.IsArchive {
			continue
		}

		if _, err := os.Stat(task.LocalPath); err == nil {
			_ = os.Remove(task.LocalPath)
		}
	}
}
