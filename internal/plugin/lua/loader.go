// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package lua

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/samber/oops"

	plugins "github.com/PolycarpusTack/Alexandria-sub004/internal/plugin"
	pluginpkg "github.com/PolycarpusTack/Alexandria-sub004/pkg/plugin"
)

var _ plugins.Loader = (*Loader)(nil)

// maxScriptSize bounds the entry script read from disk.
const maxScriptSize = 4 << 20

// Loader loads plugins whose main entry is a Lua script inside the plugin
// directory. Each plugin gets its own sandboxed state, kept for the life of
// the instance.
type Loader struct {
	factory *StateFactory
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithStateFactory overrides the sandbox used for new states.
func WithStateFactory(f *StateFactory) LoaderOption {
	return func(l *Loader) {
		if f != nil {
			l.factory = f
		}
	}
}

// NewLoader creates a Lua loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{factory: NewStateFactory()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads m.Main from dir, runs its top-level chunk and returns the
// instance. The host API is not yet active while the chunk runs; scripts
// call it from their hooks.
func (l *Loader) Load(ctx context.Context, m *plugins.Manifest, dir string, host pluginpkg.HostAPI) (pluginpkg.Plugin, error) {
	errb := oops.In("lua").With("plugin_id", m.ID).With("entry", m.Main)

	code, err := readScript(dir, m.Main)
	if err != nil {
		return nil, errb.With("dir", dir).Hint("failed to read entry script").Wrap(err)
	}

	L, err := l.factory.NewState(ctx)
	if err != nil {
		return nil, errb.Hint("failed to create Lua state").Wrap(err)
	}

	chunk, err := L.Load(bytes.NewReader(code), m.Main)
	if err != nil {
		L.Close()
		return nil, errb.Hint("syntax error").Wrap(err)
	}

	p := &Plugin{
		id:    m.ID,
		host:  host,
		state: L,
		subs:  make(map[string]pluginpkg.Subscription),
	}
	p.bindHost(L)

	p.mu.Lock()
	_, err = p.callLocked(ctx, chunk, m.Main, 0, nil)
	p.mu.Unlock()
	if err != nil {
		_ = p.Close()
		return nil, errb.Hint("entry script failed").Wrap(err)
	}
	return p, nil
}

// readScript reads name from dir without following paths out of it.
func readScript(dir, name string) ([]byte, error) {
	if dir == "" {
		return nil, oops.Errorf("lua plugins must be loaded from a directory")
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	defer func() { _ = root.Close() }()

	f, err := root.Open(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	code, err := io.ReadAll(io.LimitReader(f, maxScriptSize+1))
	if err != nil {
		return nil, err
	}
	if len(code) > maxScriptSize {
		return nil, oops.With("limit", maxScriptSize).Errorf("script %s is too large", name)
	}
	return code, nil
}
