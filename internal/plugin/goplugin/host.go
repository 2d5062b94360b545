// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

// Package goplugin loads binary plugins: executables that serve
// pluginsdk.Plugin over HashiCorp go-plugin's net/rpc transport.
package goplugin

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"

	plugins "github.com/PolycarpusTack/Alexandria-sub004/internal/plugin"
	pluginpkg "github.com/PolycarpusTack/Alexandria-sub004/pkg/plugin"
	"github.com/PolycarpusTack/Alexandria-sub004/pkg/pluginsdk"
)

// HandshakeConfig is shared with pluginsdk so host and plugins cannot drift.
var HandshakeConfig = pluginsdk.HandshakeConfig

var _ plugins.Loader = (*Loader)(nil)

// PluginClient wraps the go-plugin client for testability.
type PluginClient interface {
	// Client starts the process if needed and returns its RPC protocol.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the plugin process.
	Kill()
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	NewClient(execPath string) PluginClient
}

// DefaultClientFactory creates real go-plugin clients.
type DefaultClientFactory struct{}

// NewClient creates a go-plugin client for the executable.
func (DefaultClientFactory) NewClient(execPath string) PluginClient {
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig:  HandshakeConfig,
		Plugins:          pluginsdk.PluginMap(nil),
		Cmd:              exec.Command(execPath), // #nosec G204 -- execPath is confined to the plugin directory
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolNetRPC},
	})
}

// Loader starts binary plugins. main in the manifest is the executable's
// path relative to the plugin directory.
type Loader struct {
	factory ClientFactory
}

// NewLoader creates a loader using real go-plugin clients.
func NewLoader() *Loader {
	return &Loader{factory: DefaultClientFactory{}}
}

// NewLoaderWithFactory creates a loader with a custom client factory.
// Panics if factory is nil.
func NewLoaderWithFactory(factory ClientFactory) *Loader {
	if factory == nil {
		panic("goplugin: factory cannot be nil")
	}
	return &Loader{factory: factory}
}

// Load starts the executable, dispenses the plugin and asks it which
// handlers it serves. The process is killed if any step fails.
func (l *Loader) Load(ctx context.Context, m *plugins.Manifest, dir string, host pluginpkg.HostAPI) (pluginpkg.Plugin, error) {
	errb := oops.In("goplugin").With("plugin_id", m.ID).With("main", m.Main)

	execPath, err := executable(dir, m.Main)
	if err != nil {
		return nil, errb.Wrap(err)
	}

	client := l.factory.NewClient(execPath)

	proto, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, errb.Wrapf(err, "failed to connect to plugin %s", m.ID)
	}

	raw, err := proto.Dispense(pluginsdk.PluginName)
	if err != nil {
		client.Kill()
		return nil, errb.Wrapf(err, "failed to dispense plugin %s", m.ID)
	}

	remote, ok := raw.(pluginsdk.Plugin)
	if !ok {
		client.Kill()
		return nil, errb.Errorf("plugin %s does not implement pluginsdk.Plugin", m.ID)
	}

	handlers, err := remote.Handlers(ctx)
	if err != nil {
		client.Kill()
		return nil, errb.Wrapf(err, "failed to list handlers of plugin %s", m.ID)
	}

	return newPlugin(m.ID, remote, client, host, handlers), nil
}

// executable resolves main inside dir and checks that it exists.
func executable(dir, main string) (string, error) {
	if dir == "" {
		return "", oops.Errorf("binary plugins must be loaded from a directory")
	}
	if !filepath.IsLocal(main) {
		return "", oops.With("dir", dir).Errorf("executable %q is outside the plugin directory", main)
	}

	path := filepath.Join(dir, main)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", oops.With("path", path).Wrapf(err, "plugin executable not found")
		}
		return "", oops.With("path", path).Wrapf(err, "cannot access plugin executable")
	}
	if info.IsDir() {
		return "", oops.With("path", path).Errorf("plugin executable %s is a directory", path)
	}
	return path, nil
}
