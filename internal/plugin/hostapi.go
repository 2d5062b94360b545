// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package plugin

import (
	"context"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"

	"github.com/samber/oops"

	"github.com/PolycarpusTack/Alexandria-sub004/internal/eventbus"
	"github.com/PolycarpusTack/Alexandria-sub004/internal/plugin/capability"
	pluginpkg "github.com/PolycarpusTack/Alexandria-sub004/pkg/plugin"
)

// Capability strings checked by the host API against manifest permissions.
const (
	capPublishPrefix   = "events.publish."
	capSubscribePrefix = "events.subscribe."
	capRegisterRoute   = "routes.register"
	capServicePrefix   = "services."
)

// RouteTable receives the routes plugins register.
type RouteTable interface {
	Register(owner, method, path string, handler http.Handler) error
	RemoveOwner(owner string) int
}

// ServiceLocator resolves host services by name.
type ServiceLocator interface {
	Lookup(name string) (any, bool)
}

// Services is a fixed set of named services.
type Services map[string]any

// Lookup implements ServiceLocator.
func (s Services) Lookup(name string) (any, bool) {
	svc, ok := s[name]
	return svc, ok
}

// hostAPI is the pluginpkg.HostAPI handed to one plugin. Bus and route
// calls are refused while the plugin is not active; the enabled flag is
// flipped under mu so a subscription cannot slip in after deactivation has
// cleared the plugin's subscriptions.
type hostAPI struct {
	id       string
	bus      *eventbus.Bus
	routes   RouteTable
	enforcer *capability.Enforcer
	services ServiceLocator
	logger   *slog.Logger

	mu      sync.RWMutex
	enabled bool
}

var _ pluginpkg.HostAPI = (*hostAPI)(nil)

func newHostAPI(id string, bus *eventbus.Bus, routes RouteTable, enforcer *capability.Enforcer, services ServiceLocator, logger *slog.Logger) *hostAPI {
	return &hostAPI{
		id:       id,
		bus:      bus,
		routes:   routes,
		enforcer: enforcer,
		services: services,
		logger:   logger.With("plugin", id),
	}
}

func (h *hostAPI) enable() {
	h.mu.Lock()
	h.enabled = true
	h.mu.Unlock()
}

func (h *hostAPI) disable() {
	h.mu.Lock()
	h.enabled = false
	h.mu.Unlock()
}

// guard runs fn while the plugin is active and holds perm. The read
// lock is held across fn, so registrations made by fn cannot outlive a
// concurrent deactivation.
func (h *hostAPI) guard(perm string, fn func() error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if err := h.allowed(perm); err != nil {
		return err
	}
	return fn()
}

// check is guard without holding the lock across the call. Publishing
// leaves nothing behind to clean up, and a synchronous publish may wait on
// handlers that themselves drive a deactivation.
func (h *hostAPI) check(perm string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.allowed(perm)
}

func (h *hostAPI) allowed(perm string) error {
	if !h.enabled {
		return oops.In("plugin").
			Code(CodeRegistryState).
			With("plugin_id", h.id).
			With("capability", perm).
			Errorf("plugin %s is not active", h.id)
	}
	return h.enforcer.Require(h.id, perm)
}

func (h *hostAPI) PluginID() string { return h.id }

func (h *hostAPI) Log(level pluginpkg.LogLevel, message string, fields map[string]any) {
	var lvl slog.Level
	switch level {
	case pluginpkg.LevelDebug:
		lvl = slog.LevelDebug
	case pluginpkg.LevelWarn:
		lvl = slog.LevelWarn
	case pluginpkg.LevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	attrs := make([]any, 0, len(fields)*2)
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		attrs = append(attrs, k, fields[k])
	}
	h.logger.Log(context.Background(), lvl, message, attrs...)
}

func (h *hostAPI) Events() pluginpkg.Events { return hostEvents{h} }

func (h *hostAPI) RegisterRoute(method, path string, handler http.Handler) error {
	return h.guard(capRegisterRoute, func() error {
		return h.routes.Register(h.id, method, path, handler)
	})
}

func (h *hostAPI) Service(name string) (any, error) {
	var svc any
	err := h.guard(capServicePrefix+name, func() error {
		found, ok := h.services.Lookup(name)
		if !ok {
			return oops.In("plugin").
				Code(CodeServiceNotFound).
				With("plugin_id", h.id).
				With("service", name).
				Errorf("no service named %q", name)
		}
		svc = found
		return nil
	})
	return svc, err
}

// hostEvents is the plugin-scoped view of the bus.
type hostEvents struct {
	h *hostAPI
}

func (e hostEvents) Publish(ctx context.Context, topic string, payload []byte) (pluginpkg.Report, error) {
	if err := e.h.check(capPublishPrefix + topic); err != nil {
		return pluginpkg.Report{Topic: topic}, err
	}
	return e.h.bus.Publish(ctx, topic, payload, eventbus.WithPublisher(e.h.id))
}

func (e hostEvents) PublishAsync(ctx context.Context, topic string, payload []byte) (<-chan pluginpkg.Report, error) {
	if err := e.h.check(capPublishPrefix + topic); err != nil {
		return nil, err
	}
	return e.h.bus.PublishAsync(ctx, topic, payload, eventbus.WithPublisher(e.h.id))
}

func (e hostEvents) Subscribe(topic string, handler pluginpkg.Handler) (pluginpkg.Subscription, error) {
	var sub pluginpkg.Subscription
	err := e.h.guard(capSubscribePrefix+topic, func() error {
		s, err := e.h.bus.Subscribe(topic, e.h.id, handler)
		if err != nil {
			return err
		}
		sub = s
		return nil
	})
	return sub, err
}
