// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

// Package pluginsdk provides the SDK for building Alexandria binary plugins.
//
// Binary plugins run as separate processes and talk to the host over
// HashiCorp go-plugin's net/rpc transport. A plugin implements Plugin
// (usually by embedding Base) and calls Serve from main.
//
// Example usage:
//
//	package main
//
//	import (
//		"context"
//
//		"github.com/PolycarpusTack/Alexandria-sub004/pkg/plugin"
//		"github.com/PolycarpusTack/Alexandria-sub004/pkg/pluginsdk"
//	)
//
//	type Echo struct{ pluginsdk.Base }
//
//	func (Echo) Handlers(context.Context) (pluginsdk.Handlers, error) {
//		return pluginsdk.Handlers{Events: []string{"echo"}}, nil
//	}
//
//	func (Echo) HandleEvent(_ context.Context, _ string, e plugin.Event) ([]pluginsdk.Emit, error) {
//		return []pluginsdk.Emit{{Topic: e.Topic + ".echoed", Payload: e.Payload}}, nil
//	}
//
//	func main() {
//		pluginsdk.Serve(&pluginsdk.ServeConfig{Plugin: Echo{}})
//	}
package pluginsdk

import (
	"context"
	"net/http"

	hashiplug "github.com/hashicorp/go-plugin"

	pluginpkg "github.com/PolycarpusTack/Alexandria-sub004/pkg/plugin"
)

// PluginName is the name the host dispenses from a binary plugin.
const PluginName = "lifecycle"

// HandshakeConfig is the go-plugin handshake configuration.
// Both host and plugins must use the same values.
var HandshakeConfig = hashiplug.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "ALEXANDRIA_PLUGIN",
	MagicCookieValue: "alexandria-v1",
}

// Emit is an event a plugin asks the host to publish on its behalf. The
// host checks the plugin's publish permission for each topic.
type Emit struct {
	Topic   string
	Payload []byte
}

// Request is an HTTP request forwarded to a plugin route handler.
type Request struct {
	Method string
	Path   string
	Query  map[string][]string
	Header map[string][]string
	Body   []byte
}

// Response is a plugin's answer to a Request. A zero Status means 200.
type Response struct {
	Status int
	Header map[string][]string
	Body   []byte
}

// Handlers lists the handler names a plugin serves. Manifest
// eventSubscriptions and apiEndpoints must refer to these names.
type Handlers struct {
	Events []string
	Routes []string
}

// Plugin is implemented by binary plugins.
type Plugin interface {
	pluginpkg.Plugin

	// Handlers reports the handler names the plugin serves.
	Handlers(ctx context.Context) (Handlers, error)
	// HandleEvent processes an event delivered to the named handler and
	// returns any events to publish in response.
	HandleEvent(ctx context.Context, handler string, event pluginpkg.Event) ([]Emit, error)
	// HandleRequest serves an HTTP request routed to the named handler.
	HandleRequest(ctx context.Context, handler string, req *Request) (*Response, error)
}

// Base implements Plugin with no handlers. Embed it and override what the
// plugin needs.
type Base struct {
	pluginpkg.Base
}

func (Base) Handlers(context.Context) (Handlers, error) { return Handlers{}, nil }

func (Base) HandleEvent(context.Context, string, pluginpkg.Event) ([]Emit, error) { return nil, nil }

func (Base) HandleRequest(context.Context, string, *Request) (*Response, error) {
	return &Response{Status: http.StatusNotFound}, nil
}

var _ Plugin = Base{}

// ServeConfig configures the plugin server.
type ServeConfig struct {
	// Plugin is the implementation to serve. Required; Serve panics if nil.
	Plugin Plugin
}

// PluginMap returns the go-plugin plugin set for impl. The host passes a
// nil impl.
func PluginMap(impl Plugin) map[string]hashiplug.Plugin {
	return map[string]hashiplug.Plugin{
		PluginName: &RPCPlugin{Impl: impl},
	}
}

// Serve starts the plugin server. This should be called from main().
// It blocks and never returns under normal operation.
func Serve(config *ServeConfig) {
	if config == nil {
		panic("pluginsdk: config cannot be nil")
	}
	if config.Plugin == nil {
		panic("pluginsdk: config.Plugin cannot be nil")
	}
	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins:         PluginMap(config.Plugin),
	})
}
