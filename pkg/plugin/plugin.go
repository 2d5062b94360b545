// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package plugin

import (
	"context"
	"net/http"
)

// Plugin is the fixed capability set every plugin instance implements.
// Each hook may block; the host bounds it with a timeout and treats a
// returned error or panic as a hook failure.
type Plugin interface {
	// OnInstall runs once, on the first activation of a loaded instance.
	OnInstall(ctx context.Context) error
	// OnActivate runs on every activation, after OnInstall.
	OnActivate(ctx context.Context) error
	// OnDeactivate runs when the plugin is deactivated. Failures are logged
	// and cleanup proceeds regardless.
	OnDeactivate(ctx context.Context) error
	// OnUninstall runs before the plugin is removed from the registry.
	OnUninstall(ctx context.Context) error
}

// Constructor builds a plugin instance bound to its host API.
type Constructor func(host HostAPI) (Plugin, error)

// EventHandlers is implemented by plugins whose manifest declares
// eventSubscriptions. Handler names come from the manifest.
type EventHandlers interface {
	EventHandler(name string) (Handler, bool)
}

// RouteHandlers is implemented by plugins whose manifest declares
// apiEndpoints.
type RouteHandlers interface {
	RouteHandler(name string) (http.Handler, bool)
}

// LogLevel is the severity passed to HostAPI.Log.
type LogLevel string

// Log levels accepted by HostAPI.Log. Unknown levels log at info.
const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// HostAPI is injected into each plugin at activation. Every call is scoped
// to the plugin's id and gated by the permissions its manifest declares.
type HostAPI interface {
	// PluginID returns the id of the plugin this API is bound to.
	PluginID() string
	// Log writes a structured log line attributed to the plugin.
	Log(level LogLevel, message string, fields map[string]any)
	// Events returns the plugin's view of the event bus.
	Events() Events
	// RegisterRoute adds an HTTP route owned by the plugin. Routes are
	// removed when the plugin is deactivated.
	RegisterRoute(method, path string, handler http.Handler) error
	// Service looks up a named host service. Requires the
	// "services.<name>" permission.
	Service(name string) (any, error)
}

// Events is the plugin-scoped bus API.
type Events interface {
	// Publish delivers payload to every subscriber of topic and waits for
	// the report. Requires "events.publish.<topic>".
	Publish(ctx context.Context, topic string, payload []byte) (Report, error)
	// PublishAsync enqueues the event and returns immediately. The report
	// is sent on the returned channel once delivery completes.
	PublishAsync(ctx context.Context, topic string, payload []byte) (<-chan Report, error)
	// Subscribe registers handler for topic. Requires
	// "events.subscribe.<topic>".
	Subscribe(topic string, handler Handler) (Subscription, error)
}

// Subscription is the handle returned by Subscribe.
type Subscription interface {
	ID() string
	Topic() string
	// Unsubscribe removes the subscription. Calling it more than once is a
	// no-op.
	Unsubscribe()
}

// Base implements Plugin with no-op hooks. Embed it to implement only the
// hooks a plugin needs.
type Base struct{}

func (Base) OnInstall(context.Context) error    { return nil }
func (Base) OnActivate(context.Context) error   { return nil }
func (Base) OnDeactivate(context.Context) error { return nil }
func (Base) OnUninstall(context.Context) error  { return nil }
