// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	plugins "github.com/PolycarpusTack/Alexandria-sub004/internal/plugin"
)

// CodeInvalidPlugins is returned when validate finds rejected plugins.
const CodeInvalidPlugins = "INVALID_PLUGINS"

// NewPluginsCmd creates the plugins subcommand.
func NewPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect the plugins under plugins-dir",
	}
	cmd.AddCommand(newPluginsListCmd())
	cmd.AddCommand(newPluginsValidateCmd())
	cmd.AddCommand(newPluginsOrderCmd())
	return cmd
}

// discover loads the configuration and registers every plugin found in
// plugins-dir with a registry that is never activated.
func discover(cmd *cobra.Command) (*plugins.Registry, plugins.DiscoveryResult, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, plugins.DiscoveryResult{}, err
	}
	registry, err := newRegistry(cfg, logger, nil, nil)
	if err != nil {
		return nil, plugins.DiscoveryResult{}, err
	}
	result, err := registry.Discover(cmd.Context(), cfg.PluginsDir)
	if err != nil {
		return nil, plugins.DiscoveryResult{}, oops.With("plugins_dir", cfg.PluginsDir).Wrap(err)
	}
	return registry, result, nil
}

func newPluginsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List discovered plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, _, err := discover(cmd)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tVERSION\tRUNTIME\tDEPENDENCIES\tPATH")
			for _, info := range registry.List() {
				m := info.Manifest
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.Version, m.ResolvedRuntime(), formatDeps(m.Dependencies), info.Path)
			}
			return w.Flush()
		},
	}
}

func formatDeps(deps map[string]string) string {
	if len(deps) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(deps))
	for _, id := range slices.Sorted(maps.Keys(deps)) {
		parts = append(parts, id+" "+deps[id])
	}
	return strings.Join(parts, ", ")
}

func newPluginsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate every manifest under plugins-dir",
		Long: `Validate every manifest under plugins-dir against the manifest schema,
the platform version and each other. Exits non-zero if any plugin is
rejected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, result, err := discover(cmd)
			if err != nil {
				return err
			}

			for _, info := range result.Discovered {
				cmd.Printf("ok      %s (%s)\n", info.ID(), info.Path)
			}
			for _, rej := range result.Rejected {
				cmd.Printf("invalid %s: %v\n", rej.Path, rej.Err)
			}
			if n := len(result.Rejected); n > 0 {
				return oops.Code(CodeInvalidPlugins).With("rejected", n).Errorf("%d plugin(s) rejected", n)
			}
			return nil
		},
	}
}

func newPluginsOrderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "order",
		Short: "Print the dependency order plugins are activated in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, _, err := discover(cmd)
			if err != nil {
				return err
			}
			order, err := registry.Order()
			if err != nil {
				return err
			}
			for i, id := range order {
				cmd.Printf("%d. %s\n", i+1, id)
			}
			return nil
		},
	}
}
