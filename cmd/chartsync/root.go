package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dm-sync/chartsync/internal/config"
	"github.com/dm-sync/chartsync/internal/fdlimit"
	"github.com/dm-sync/chartsync/internal/markers"
	"github.com/dm-sync/chartsync/internal/stats"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagAppRoot     string
	flagDrives      string
	flagJSON        bool
	flagVerbose     bool
	flagQuiet       bool
	flagMetricsAddr string
)

// CLIContext bundles everything a subcommand's RunE needs once startup
// has resolved the app root, loaded config, and raised fd limits. Built
// once in PersistentPreRunE and reused by every subcommand.
type CLIContext struct {
	Layout   config.Layout
	Drives   *config.DrivesConfig
	Settings *config.Settings
	Markers  *markers.Store
	Stats    *stats.Cache
	Metrics  *stats.Metrics
	Logger   *slog.Logger
}

// serveMetrics starts the /metrics endpoint in the background when
// --metrics-addr was given; a no-op otherwise. Long-running commands
// (sync, scan --watch) call this once their context is available.
func (cc *CLIContext) serveMetrics(ctx context.Context) {
	if flagMetricsAddr == "" {
		return
	}

	go func() {
		if err := cc.Metrics.Serve(ctx, flagMetricsAddr); err != nil {
			cc.Logger.Warn("metrics server stopped", slog.String("error", err.Error()))
		}
	}()
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)

	return cc
}

func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — every command must run through the root's PersistentPreRunE")
	}

	return cc
}

// newRootCmd builds the fully-assembled root command with every
// subcommand registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "chartsync",
		Short:         "Synchronize a local chart library against a remote drive collection",
		Long:          "chartsync mirrors a remote content-addressed collection of music-game charts to a local directory: planning downloads, extracting archives, and purging files the remote no longer lists.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupCLIContext(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagAppRoot, "root", ".", "application root directory (holds .dm-sync/ and Sync Charts/)")
	cmd.PersistentFlags().StringVar(&flagDrives, "drives", "drives.toml", "path to the drives.toml configuration")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show debug-level logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational logging")
	cmd.PersistentFlags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address for the duration of the command (e.g. :9275)")

	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newPurgeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newRebuildMarkersCmd())

	return cmd
}

// setupCLIContext resolves the app-root layout, migrates any legacy
// layout, loads both configuration files, raises the process fd limit,
// and opens the markers and stats stores — everything every subcommand
// needs before its RunE starts doing real work.
func setupCLIContext(cmd *cobra.Command) error {
	logger := buildLogger()

	layout := config.Layout{AppRoot: flagAppRoot}
	if err := layout.EnsureDataDir(); err != nil {
		return fmt.Errorf("preparing data directory: %w", err)
	}

	if migrated, err := layout.MigrateLegacyLayout(logger); err != nil {
		return fmt.Errorf("migrating legacy layout: %w", err)
	} else if len(migrated) > 0 {
		logger.Info("migrated legacy files", slog.Any("files", migrated))
	}

	if err := layout.CleanTmpDir(); err != nil {
		return fmt.Errorf("cleaning tmp directory: %w", err)
	}

	if _, err := fdlimit.Raise(fdlimit.DefaultWant, logger); err != nil {
		logger.Warn("could not raise file descriptor limit", slog.String("error", err.Error()))
	}

	drivesCfg, err := config.LoadDrivesConfig(flagDrives)
	if err != nil {
		return fmt.Errorf("loading drives config: %w", err)
	}

	settings, err := config.LoadSettings(layout.SettingsPath())
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	markerStore, err := markers.New(layout.MarkersDir(), logger)
	if err != nil {
		return fmt.Errorf("opening marker store: %w", err)
	}

	statsCache, err := stats.Load(layout.StatsCachePath(), logger)
	if err != nil {
		return fmt.Errorf("loading stats cache: %w", err)
	}

	cc := &CLIContext{
		Layout:   layout,
		Drives:   drivesCfg,
		Settings: settings,
		Markers:  markerStore,
		Stats:    statsCache,
		Metrics:  stats.NewMetrics(""),
		Logger:   logger,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger constructs the process logger from the verbosity flags;
// --verbose and --quiet are mutually exclusive (enforced by cobra).
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
