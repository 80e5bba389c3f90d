// Package config implements the engine's two on-disk configuration
// surfaces: DrivesConfig (admin-authored, read-only to the engine, TOML)
// and Settings (user/UI-authored, JSON with a fixed wire schema). It also
// carries the one-time legacy-layout migration performed on startup.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// DrivesConfig lists the drives the engine is willing to sync, bundled
// with the application rather than user-edited. Decoded in a single pass:
// the [global] table and the [[drive]] array of tables.
type DrivesConfig struct {
	Global GlobalDriveDefaults `toml:"global"`
	Drives []Drive             `toml:"drive"`
}

// GlobalDriveDefaults are defaults every Drive inherits unless overridden.
type GlobalDriveDefaults struct {
	DeleteVideos bool   `toml:"delete_videos"`
	DeltaMode    string `toml:"delta_mode"`
}

// Drive describes one cloud drive entry bundled with the application.
type Drive struct {
	FolderID string `toml:"folder_id"`
	Name     string `toml:"name"`
	IsCustom bool   `toml:"is_custom"`
}

// LoadDrivesConfig reads and parses a drives.toml document.
func LoadDrivesConfig(path string) (*DrivesConfig, error) {
	var cfg DrivesConfig

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing drives config %s: %w", path, err)
	}

	if cfg.Global.DeltaMode == "" {
		cfg.Global.DeltaMode = "size"
	}

	return &cfg, nil
}

// WriteDrivesConfig serializes cfg as TOML to path — used by tests and by
// the admin-side tooling that maintains this file; the sync engine itself
// only ever reads it.
func WriteDrivesConfig(path string, cfg *DrivesConfig) error {
	f, err := os.Create(path) //nolint:gosec // operator-controlled destination
	if err != nil {
		return fmt.Errorf("config: creating %s: %w", path, err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("config: encoding drives config: %w", err)
	}

	return nil
}
