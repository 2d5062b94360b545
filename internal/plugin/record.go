// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package plugin

import (
	"context"
	"time"

	pluginpkg "github.com/PolycarpusTack/Alexandria-sub004/pkg/plugin"
)

// PluginInfo is a committed, read-only view of one registered plugin.
type PluginInfo struct {
	Manifest    *Manifest
	State       State
	Path        string
	ActivatedAt time.Time
	LastError   string
	// Loaded reports whether a plugin instance is held for this plugin.
	Loaded bool
	// Generation increases with every committed transition.
	Generation uint64
}

// ID returns the plugin id.
func (i PluginInfo) ID() string { return i.Manifest.ID }

// record is the registry's mutable entry for one plugin. Only the registry
// mutation path touches it, always under Registry.mu.
type record struct {
	manifest    *Manifest
	path        string
	state       State
	instance    pluginpkg.Plugin
	host        *hostAPI
	installed   bool // OnInstall ran for instance
	activatedAt time.Time
	lastErr     error
	generation  uint64
}

func (r *record) info() PluginInfo {
	info := PluginInfo{
		Manifest:    r.manifest.Clone(),
		State:       r.state,
		Path:        r.path,
		ActivatedAt: r.activatedAt,
		Loaded:      r.instance != nil,
		Generation:  r.generation,
	}
	if r.lastErr != nil {
		info.LastError = r.lastErr.Error()
	}
	return info
}

// Transition is one committed lifecycle change, as written to a Journal.
type Transition struct {
	PluginID  string
	Version   string
	Operation Operation
	From      State
	To        State
	Error     string
	At        time.Time
}

// Journal records committed transitions. The registry never reads it back.
type Journal interface {
	Append(ctx context.Context, t Transition) error
}
