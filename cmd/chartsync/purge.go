package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dm-sync/chartsync/internal/manifest"
	"github.com/dm-sync/chartsync/internal/planner"
	"github.com/dm-sync/chartsync/internal/purger"
)

func newPurgeCmd() *cobra.Command {
	var flagForce, flagDryRun bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete local files the manifest no longer lists",
		Long: `Compare the local download directory against the manifest and delete
anything the manifest no longer references — disabled drives/setlists,
orphaned extras, partial downloads, and (when configured) videos. Blocked
by a safety gate unless --force is given when the orphaned extras alone
would remove more than 15% of local files or 2 GiB.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPurge(cmd, flagForce, flagDryRun)
		},
	}

	cmd.Flags().BoolVar(&flagForce, "force", false, "bypass the big-purge safety gate")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "print what would be purged without deleting anything")

	return cmd
}

func runPurge(cmd *cobra.Command, force, dryRun bool) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	m, err := manifest.Load(cc.Layout.ManifestPath())
	if err != nil {
		return fmt.Errorf("loading manifest: %w", err)
	}

	markerFiles, err := cc.Markers.GetAllFiles()
	if err != nil {
		return fmt.Errorf("listing marker files: %w", err)
	}

	drives := make([]planner.PurgeDrive, 0, len(m.Folders))
	for _, f := range m.Folders {
		drives = append(drives, planner.PurgeDrive{FolderID: f.FolderID, Name: f.Name, Files: f.Files})
	}

	basePath := cc.Layout.DownloadDir()
	failedSetlists := map[string]map[string]bool{} // populated by the background scanner in a long-running process

	files, purgeStats := planner.PlanPurge(drives, basePath, cc.Settings, markerFiles, failedSetlists, logger)

	localCount := countLocalFiles(basePath)
	if err := planner.ApplySafetyGate(localCount, purgeStats, force, logger); err != nil {
		return err
	}

	fmt.Printf("Purge plan: %d file(s), %d byte(s)\n", purgeStats.TotalFiles(), purgeStats.TotalSize())

	if dryRun {
		for _, f := range files {
			fmt.Printf("  %s (%d bytes)\n", f.Path, f.Size)
		}

		return nil
	}

	result := purger.Execute(files, basePath, logger)

	fmt.Printf("Purged %d file(s), %d byte(s), removed %d empty dir(s), %d error(s)\n",
		result.FilesDeleted, result.BytesDeleted, result.DirsRemoved, len(result.Errors))

	for _, e := range result.Errors {
		logger.Warn("purge error", "error", e.Error())
	}

	return nil
}

func countLocalFiles(basePath string) int {
	count := 0

	_ = filepath.Walk(basePath, func(_ string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil //nolint:nilerr // best-effort count; unreadable entries simply don't contribute
		}

		count++

		return nil
	})

	return count
}
