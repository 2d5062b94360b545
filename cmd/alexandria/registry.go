// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package main

import (
	"log/slog"

	"github.com/PolycarpusTack/Alexandria-sub004/internal/config"
	"github.com/PolycarpusTack/Alexandria-sub004/internal/eventbus"
	plugins "github.com/PolycarpusTack/Alexandria-sub004/internal/plugin"
	"github.com/PolycarpusTack/Alexandria-sub004/internal/plugin/goplugin"
	"github.com/PolycarpusTack/Alexandria-sub004/internal/plugin/lua"
	"github.com/PolycarpusTack/Alexandria-sub004/internal/route"
)

// newRegistry builds a registry with every runtime loader. journal may be
// nil.
func newRegistry(cfg *config.Config, logger *slog.Logger, routes *route.Table, journal plugins.Journal) (*plugins.Registry, error) {
	platform, err := cfg.Platform()
	if err != nil {
		return nil, err
	}

	bus := eventbus.New(
		eventbus.WithHandlerTimeout(cfg.HandlerTimeout),
		eventbus.WithLogger(logger),
	)

	opts := []plugins.RegistryOption{
		plugins.WithLoader(plugins.RuntimeLua, lua.NewLoader()),
		plugins.WithLoader(plugins.RuntimeBinary, goplugin.NewLoader()),
		plugins.WithPlatformVersion(platform),
		plugins.WithHookTimeout(cfg.HookTimeout),
		plugins.WithLogger(logger),
	}
	if routes != nil {
		opts = append(opts, plugins.WithRouteTable(routes))
	}
	if journal != nil {
		opts = append(opts, plugins.WithJournal(journal))
	}
	return plugins.NewRegistry(bus, opts...), nil
}
