package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dm-sync/chartsync/internal/manifest"
	"github.com/dm-sync/chartsync/internal/scanner"
)

func newScanCmd() *cobra.Command {
	var flagWatch bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Discover setlists across every configured drive and rebuild the manifest",
		Long: `Discover lists every drive's setlists, scans each one for its current
file listing, and writes the result to manifest.json. With --watch, also
follows settings.json for setlist enable/disable toggles after the initial
scan completes, reprioritizing in-flight work without a restart.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, flagWatch)
		},
	}

	cmd.Flags().BoolVar(&flagWatch, "watch", false, "keep watching settings.json for toggles after the scan completes")

	return cmd
}

func runScan(cmd *cobra.Command, watch bool) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	store, _, err := requireRemoteStore(cc)
	if err != nil {
		return err
	}

	var events []scanner.Event

	sc := scanner.New(store, cc.Stats, func(e scanner.Event) { events = append(events, e) }, logger)

	ctx := cmd.Context()

	if err := sc.Discover(ctx, cc.Drives.Drives, cc.Settings); err != nil {
		return fmt.Errorf("discovering setlists: %w", err)
	}

	if err := sc.Run(ctx); err != nil {
		return fmt.Errorf("scanning: %w", err)
	}

	m := buildManifest(sc, cc)

	if err := manifest.Save(cc.Layout.ManifestPath(), m); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	if err := cc.Stats.Save(); err != nil {
		logger.Warn("saving stats cache", "error", err.Error())
	}

	for _, e := range events {
		if e.Type == scanner.EventFailed {
			logger.Warn("setlist scan failed", "drive", e.DriveID, "setlist", e.Setlist, "error", e.Err)
		}
	}

	fmt.Printf("Scanned %d drive(s) into %s\n", len(cc.Drives.Drives), cc.Layout.ManifestPath())

	if !watch {
		return nil
	}

	logger.Info("scan: watching settings.json for toggles", "path", cc.Layout.SettingsPath())

	cc.serveMetrics(ctx)

	return sc.WatchSettingsFile(ctx, cc.Layout.SettingsPath())
}

// buildManifest assembles a manifest.Manifest from the scanner's
// per-drive file lists, one Folder per configured drive.
func buildManifest(sc *scanner.Scanner, cc *CLIContext) *manifest.Manifest {
	m := &manifest.Manifest{}

	for _, d := range cc.Drives.Drives {
		files := sc.Files(d.FolderID)

		var totalSize int64
		for _, f := range files {
			totalSize += f.Size
		}

		m.Folders = append(m.Folders, manifest.Folder{
			FolderID:   d.FolderID,
			Name:       d.Name,
			Files:      files,
			IsCustom:   d.IsCustom,
			ChartCount: len(files),
			TotalSize:  totalSize,
		})
	}

	return m
}
