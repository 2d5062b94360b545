// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

// Package xdg provides XDG Base Directory paths for Alexandria.
package xdg

import (
	"os"
	"path/filepath"
)

const appName = "alexandria"

// ConfigDir returns the XDG config directory for alexandria.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	return dir("XDG_CONFIG_HOME", ".config")
}

// DataDir returns the XDG data directory for alexandria.
// Checks XDG_DATA_HOME first, falls back to ~/.local/share.
func DataDir() string {
	return dir("XDG_DATA_HOME", ".local", "share")
}

// ConfigFile is the default configuration file path.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "alexandria.yaml")
}

// PluginsDir is the default directory scanned for plugins.
func PluginsDir() string {
	return filepath.Join(DataDir(), "plugins")
}

func dir(env string, fallback ...string) string {
	base := os.Getenv(env)
	if base == "" {
		base = filepath.Join(append([]string{os.Getenv("HOME")}, fallback...)...)
	}
	return filepath.Join(base, appName)
}
