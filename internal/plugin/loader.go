// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package plugin

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/samber/oops"

	pluginpkg "github.com/PolycarpusTack/Alexandria-sub004/pkg/plugin"
)

// Loader builds plugin instances for one runtime. dir is the plugin's
// discovery directory (empty for programmatically registered plugins).
//
// An instance that also implements io.Closer is closed when the registry
// discards it.
type Loader interface {
	Load(ctx context.Context, m *Manifest, dir string, host pluginpkg.HostAPI) (pluginpkg.Plugin, error)
}

// BuiltinLoader loads plugins compiled into the host. A manifest selects a
// constructor with main: "builtin:<name>".
type BuiltinLoader struct {
	mu    sync.RWMutex
	ctors map[string]pluginpkg.Constructor
}

// NewBuiltinLoader creates an empty builtin loader.
func NewBuiltinLoader() *BuiltinLoader {
	return &BuiltinLoader{ctors: make(map[string]pluginpkg.Constructor)}
}

// Register makes ctor available under name, replacing any previous one.
func (l *BuiltinLoader) Register(name string, ctor pluginpkg.Constructor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ctors[name] = ctor
}

// Names returns the registered constructor names, sorted.
func (l *BuiltinLoader) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.ctors))
	for name := range l.ctors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load implements Loader.
func (l *BuiltinLoader) Load(_ context.Context, m *Manifest, _ string, host pluginpkg.HostAPI) (pluginpkg.Plugin, error) {
	name := m.BuiltinName()

	l.mu.RLock()
	ctor, ok := l.ctors[name]
	l.mu.RUnlock()
	if !ok {
		return nil, oops.In("plugin").
			With("constructor", name).
			Hint("register the constructor with BuiltinLoader.Register").
			Errorf("no builtin plugin named %q", name)
	}

	p, err := ctor(host)
	if err != nil {
		return nil, oops.In("plugin").With("constructor", name).Wrap(err)
	}
	if p == nil {
		return nil, oops.In("plugin").With("constructor", name).Errorf("constructor returned a nil plugin")
	}
	return p, nil
}

// closeInstance releases p if it holds resources.
func closeInstance(p pluginpkg.Plugin) error {
	if c, ok := p.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var _ Loader = (*BuiltinLoader)(nil)
