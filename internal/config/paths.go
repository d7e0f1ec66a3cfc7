package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

const appName = "pimsync"

// DefaultConfigPath returns $XDG_CONFIG_HOME/pimsync/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.yaml")
}

// DefaultStateDir returns $XDG_STATE_HOME/pimsync.
func DefaultStateDir() string {
	return filepath.Join(xdg.StateHome, appName)
}
