// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package xdg

import "testing"

func TestConfigDir_EnvVar(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got, want := ConfigDir(), "/custom/config/alexandria"; got != want {
		t.Errorf("ConfigDir() = %q, want %q", got, want)
	}
}

func TestConfigDir_Default(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/home/testuser")
	if got, want := ConfigDir(), "/home/testuser/.config/alexandria"; got != want {
		t.Errorf("ConfigDir() = %q, want %q", got, want)
	}
}

func TestDataDir_EnvVar(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got, want := DataDir(), "/custom/data/alexandria"; got != want {
		t.Errorf("DataDir() = %q, want %q", got, want)
	}
}

func TestDataDir_Default(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("HOME", "/home/testuser")
	if got, want := DataDir(), "/home/testuser/.local/share/alexandria"; got != want {
		t.Errorf("DataDir() = %q, want %q", got, want)
	}
}

func TestDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	t.Setenv("XDG_DATA_HOME", "/data")
	if got, want := ConfigFile(), "/cfg/alexandria/alexandria.yaml"; got != want {
		t.Errorf("ConfigFile() = %q, want %q", got, want)
	}
	if got, want := PluginsDir(), "/data/alexandria/plugins"; got != want {
		t.Errorf("PluginsDir() = %q, want %q", got, want)
	}
}
