// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package main

import (
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/PolycarpusTack/Alexandria-sub004/internal/config"
	"github.com/PolycarpusTack/Alexandria-sub004/internal/logging"
)

// NewRootCmd creates the root command for the Alexandria CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alexandria",
		Short: "Alexandria - plugin registry and event bus",
		Long: `Alexandria discovers plugins, resolves their dependencies, drives
them through their lifecycle and connects them over an in-process
publish/subscribe event bus. Plugins are Lua scripts or Go binaries.`,
		SilenceUsage: true,
	}

	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewPluginsCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewHistoryCmd())

	return cmd
}

// loadConfig resolves and validates the configuration for cmd, then
// installs the default logger it describes.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, oops.With("operation", "validate configuration").Wrap(err)
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.SetDefault(logging.Options{
		Service: "alexandria",
		Version: version,
		Format:  cfg.LogFormat,
		Level:   level,
		Writer:  cmd.ErrOrStderr(),
	})
	return cfg, logger, nil
}
