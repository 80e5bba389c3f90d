package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dm-sync/chartsync/internal/downloader"
	"github.com/dm-sync/chartsync/internal/manifest"
	"github.com/dm-sync/chartsync/internal/markers"
	"github.com/dm-sync/chartsync/internal/orchestrator"
	"github.com/dm-sync/chartsync/internal/synccheck"
	"github.com/dm-sync/chartsync/internal/syncstate"
)

func newSyncCmd() *cobra.Command {
	var flagManifest string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Download and extract everything the manifest lists that isn't already synced",
		Long: `Run a single sync cycle: for every enabled drive, plan the files that are
missing or stale against the manifest, download them, extract archives in
place, and invalidate the affected stats entries.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, flagManifest)
		},
	}

	cmd.Flags().StringVar(&flagManifest, "manifest", "", "path to the manifest.json to sync against (defaults to the app root's manifest.json)")

	return cmd
}

func runSync(cmd *cobra.Command, manifestPath string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	store, tokens, err := requireRemoteStore(cc)
	if err != nil {
		return err
	}

	if manifestPath == "" {
		manifestPath = cc.Layout.ManifestPath()
	}

	m, err := manifest.Load(manifestPath)
	if err != nil {
		return fmt.Errorf("loading manifest: %w", err)
	}

	migrateSyncState(cc, m)

	checker := synccheck.New(cc.Markers)
	dl := downloader.New(store, tokens, cc.Markers, cc.Layout.ExtractTmpDir(), logger)
	orch := orchestrator.New(checker, dl, cc.Stats, cc.Layout.DownloadDir(), logger)

	cc.serveMetrics(cmd.Context())

	start := time.Now()
	reports := orch.SyncDrives(cmd.Context(), enabledFolders(m, cc), cc.Settings)
	elapsed := time.Since(start)

	for _, r := range reports {
		cc.Metrics.Observe(r.DriveID, cc.Stats.FolderTotal(r.DriveID, nil))
		cc.Metrics.AddRateLimited(len(r.RateLimitedIDs))
	}

	if err := cc.Stats.Save(); err != nil {
		logger.Warn("saving stats cache", "error", err.Error())
	}

	if flagJSON {
		return printSyncReportJSON(reports, elapsed)
	}

	printSyncReportText(reports, elapsed)

	if guidance := orchestrator.RateLimitGuidance(reports); len(guidance) > 0 {
		fmt.Printf("Rate limited on: %v — retry later.\n", guidance)
	}

	for _, r := range reports {
		if r.Err != nil {
			return fmt.Errorf("drive %s: %w", r.DriveName, r.Err)
		}
	}

	return nil
}

// migrateSyncState runs the one-time legacy sync-state-to-markers
// migration, guarded by the markers directory's .migrated sentinel.
// Failures are logged and skipped — a missed migration just means some
// archives re-download, never data loss.
func migrateSyncState(cc *CLIContext, m *manifest.Manifest) {
	sc, err := syncstate.Load(cc.Layout.SyncStatePath())
	if err != nil {
		cc.Logger.Warn("reading legacy sync-state tree", "error", err.Error())

		return
	}

	result, ran, err := cc.Markers.MigrateOnce(cc.Layout.DownloadDir(), markers.CandidatesFromSyncState(m, sc), cc.Logger)
	if err != nil {
		cc.Logger.Warn("legacy sync-state migration", "error", err.Error())

		return
	}

	if ran {
		cc.Logger.Info("migrated legacy sync-state to markers",
			"created", result.Created, "skipped", result.Skipped)
	}
}

// enabledFolders filters manifest folders down to those whose drive is
// not disabled in settings.
func enabledFolders(m *manifest.Manifest, cc *CLIContext) []manifest.Folder {
	var out []manifest.Folder

	for _, f := range m.Folders {
		if cc.Settings != nil && !cc.Settings.IsDriveEnabled(f.FolderID) {
			continue
		}

		out = append(out, f)
	}

	return out
}

func printSyncReportText(reports []orchestrator.FolderReport, elapsed time.Duration) {
	var downloaded, errCount, skipped int

	for _, r := range reports {
		downloaded += r.Downloaded
		errCount += r.Errors
		skipped += r.Skipped

		status := "synced"
		if !r.FullySynced {
			status = "incomplete"
		}

		fmt.Printf("%-24s %-10s downloaded=%-4d skipped=%-4d errors=%-4d\n",
			r.DriveName, status, r.Downloaded, r.Skipped, r.Errors)
	}

	fmt.Printf("Done in %s: %d downloaded, %d skipped, %d errors across %d drives\n",
		elapsed.Round(time.Millisecond), downloaded, skipped, errCount, len(reports))
}

func printSyncReportJSON(reports []orchestrator.FolderReport, elapsed time.Duration) error {
	payload := struct {
		Drives      []orchestrator.FolderReport `json:"drives"`
		ElapsedMs   int64                       `json:"elapsed_ms"`
		RateLimited []string                    `json:"rate_limited,omitempty"`
	}{
		Drives:      reports,
		ElapsedMs:   elapsed.Milliseconds(),
		RateLimited: orchestrator.RateLimitGuidance(reports),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(payload)
}
