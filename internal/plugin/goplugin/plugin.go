// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package goplugin

import (
	"context"
	"errors"
	"io"
	"net/http"
	"slices"

	"github.com/samber/oops"

	pluginpkg "github.com/PolycarpusTack/Alexandria-sub004/pkg/plugin"
	"github.com/PolycarpusTack/Alexandria-sub004/pkg/pluginsdk"
)

const maxRequestBody = 1 << 20

// Plugin is the host-side instance of a running binary plugin.
type Plugin struct {
	id       string
	remote   pluginsdk.Plugin
	client   PluginClient
	host     pluginpkg.HostAPI
	handlers pluginsdk.Handlers
}

var (
	_ pluginpkg.Plugin        = (*Plugin)(nil)
	_ pluginpkg.EventHandlers = (*Plugin)(nil)
	_ pluginpkg.RouteHandlers = (*Plugin)(nil)
	_ io.Closer               = (*Plugin)(nil)
)

func newPlugin(id string, remote pluginsdk.Plugin, client PluginClient, host pluginpkg.HostAPI, handlers pluginsdk.Handlers) *Plugin {
	return &Plugin{id: id, remote: remote, client: client, host: host, handlers: handlers}
}

func (p *Plugin) OnInstall(ctx context.Context) error    { return p.remote.OnInstall(ctx) }
func (p *Plugin) OnActivate(ctx context.Context) error   { return p.remote.OnActivate(ctx) }
func (p *Plugin) OnDeactivate(ctx context.Context) error { return p.remote.OnDeactivate(ctx) }
func (p *Plugin) OnUninstall(ctx context.Context) error  { return p.remote.OnUninstall(ctx) }

// EventHandler forwards events to the plugin process and publishes the
// events it emits through the plugin's host API.
func (p *Plugin) EventHandler(name string) (pluginpkg.Handler, bool) {
	if !slices.Contains(p.handlers.Events, name) {
		return nil, false
	}
	return func(ctx context.Context, event pluginpkg.Event) error {
		emits, err := p.remote.HandleEvent(ctx, name, event)
		if err != nil {
			return err
		}
		var errs []error
		for _, emit := range emits {
			if _, err := p.host.Events().PublishAsync(ctx, emit.Topic, emit.Payload); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return oops.In("goplugin").With("plugin_id", p.id).With("handler", name).
				Wrapf(errors.Join(errs...), "failed to publish %d of %d emitted events", len(errs), len(emits))
		}
		return nil
	}, true
}

// RouteHandler forwards HTTP requests to the plugin process.
func (p *Plugin) RouteHandler(name string) (http.Handler, bool) {
	if !slices.Contains(p.handlers.Routes, name) {
		return nil, false
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		resp, err := p.remote.HandleRequest(r.Context(), name, &pluginsdk.Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
			Body:   body,
		})
		if err != nil {
			p.host.Log(pluginpkg.LevelError, "route handler failed", map[string]any{"handler": name, "error": err.Error()})
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
			return
		}

		for k, values := range resp.Header {
			for _, v := range values {
				w.Header().Add(k, v)
			}
		}
		status := resp.Status
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write(resp.Body)
	}), true
}

// Close kills the plugin process.
func (p *Plugin) Close() error {
	p.client.Kill()
	return nil
}
