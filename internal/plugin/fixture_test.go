// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package plugin_test

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PolycarpusTack/Alexandria-sub004/internal/eventbus"
	plugins "github.com/PolycarpusTack/Alexandria-sub004/internal/plugin"
	"github.com/PolycarpusTack/Alexandria-sub004/internal/route"
	pluginpkg "github.com/PolycarpusTack/Alexandria-sub004/pkg/plugin"
)

type hookFunc func(ctx context.Context, host pluginpkg.HostAPI) error

// fakePlugin records hook calls and runs optional per-hook behavior.
type fakePlugin struct {
	host pluginpkg.HostAPI

	mu       sync.Mutex
	calls    map[plugins.Hook]int
	hooks    map[plugins.Hook]hookFunc
	handlers map[string]pluginpkg.Handler
	routes   map[string]http.Handler

	closed atomic.Bool
}

func newFakePlugin(host pluginpkg.HostAPI) *fakePlugin {
	return &fakePlugin{
		host:     host,
		calls:    make(map[plugins.Hook]int),
		hooks:    make(map[plugins.Hook]hookFunc),
		handlers: make(map[string]pluginpkg.Handler),
		routes:   make(map[string]http.Handler),
	}
}

func (p *fakePlugin) run(ctx context.Context, hook plugins.Hook) error {
	p.mu.Lock()
	p.calls[hook]++
	fn := p.hooks[hook]
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, p.host)
	}
	return nil
}

func (p *fakePlugin) OnInstall(ctx context.Context) error    { return p.run(ctx, plugins.HookInstall) }
func (p *fakePlugin) OnActivate(ctx context.Context) error   { return p.run(ctx, plugins.HookActivate) }
func (p *fakePlugin) OnDeactivate(ctx context.Context) error { return p.run(ctx, plugins.HookDeactivate) }
func (p *fakePlugin) OnUninstall(ctx context.Context) error  { return p.run(ctx, plugins.HookUninstall) }

func (p *fakePlugin) EventHandler(name string) (pluginpkg.Handler, bool) {
	h, ok := p.handlers[name]
	return h, ok
}

func (p *fakePlugin) RouteHandler(name string) (http.Handler, bool) {
	h, ok := p.routes[name]
	return h, ok
}

func (p *fakePlugin) Close() error {
	p.closed.Store(true)
	return nil
}

func (p *fakePlugin) count(hook plugins.Hook) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[hook]
}

// fixture is a registry wired to builtin fake plugins.
type fixture struct {
	reg    *plugins.Registry
	bus    *eventbus.Bus
	routes *route.Table
	loader *plugins.BuiltinLoader

	mu        sync.Mutex
	instances map[string][]*fakePlugin
}

func newFixture(t *testing.T, opts ...plugins.RegistryOption) *fixture {
	t.Helper()

	f := &fixture{
		bus:       eventbus.New(eventbus.WithLogger(slog.New(slog.DiscardHandler))),
		routes:    route.NewTable(),
		loader:    plugins.NewBuiltinLoader(),
		instances: make(map[string][]*fakePlugin),
	}
	base := []plugins.RegistryOption{
		plugins.WithLoader(plugins.RuntimeBuiltin, f.loader),
		plugins.WithRouteTable(f.routes),
		plugins.WithLogger(slog.New(slog.DiscardHandler)),
	}
	f.reg = plugins.NewRegistry(f.bus, append(base, opts...)...)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.reg.Close(ctx)
	})
	return f
}

// define registers a builtin constructor for id. setup customizes every
// instance the constructor builds.
func (f *fixture) define(id string, setup func(p *fakePlugin)) {
	f.loader.Register(id, func(host pluginpkg.HostAPI) (pluginpkg.Plugin, error) {
		p := newFakePlugin(host)
		if setup != nil {
			setup(p)
		}
		f.mu.Lock()
		f.instances[id] = append(f.instances[id], p)
		f.mu.Unlock()
		return p, nil
	})
}

// last returns the most recently constructed instance of id.
func (f *fixture) last(id string) *fakePlugin {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.instances[id]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (f *fixture) built(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.instances[id])
}

func (f *fixture) register(t *testing.T, m *plugins.Manifest) {
	t.Helper()
	require.NoError(t, f.reg.Register(context.Background(), m, ""))
}

func (f *fixture) state(t *testing.T, id string) plugins.State {
	t.Helper()
	info, ok := f.reg.Get(id)
	require.True(t, ok, "plugin %s not registered", id)
	return info.State
}

func newManifest(id, version string, deps map[string]string) *plugins.Manifest {
	return &plugins.Manifest{
		ID:           id,
		Name:         id,
		Version:      version,
		Main:         "builtin:" + id,
		Dependencies: deps,
	}
}
