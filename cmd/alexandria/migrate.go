// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/PolycarpusTack/Alexandria-sub004/internal/store"
)

// CodeConfigInvalid is returned when a command needs configuration that is
// missing.
const CodeConfigInvalid = "CONFIG_INVALID"

// migrator is the part of *store.Migrator the migrate commands use.
type migrator interface {
	Up() error
	Down() error
	Force(version int) error
	Status() ([]store.Migration, bool, error)
	Close() error
}

// newMigrator is replaced in tests.
var newMigrator = func(url string) (migrator, error) {
	return store.NewMigrator(url)
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the transition journal schema",
		Long:  `Apply, revert and inspect the migrations of the transition journal database.`,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m migrator, _ []string) error {
			if err := m.Up(); err != nil {
				return err
			}
			cmd.Println("Migrations applied")
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Revert all migrations, dropping the journal",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m migrator, _ []string) error {
			if err := m.Down(); err != nil {
				return err
			}
			cmd.Println("Migrations reverted")
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show which migrations are applied",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m migrator, _ []string) error {
			status, dirty, err := m.Status()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
			for _, mig := range status {
				fmt.Fprintf(w, "%d\t%s\t%t\n", mig.Version, mig.Name, mig.Applied)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if dirty {
				cmd.Println("WARNING: database is dirty; fix the failed migration and run 'migrate force'")
			}
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied without running it",
		Args:  cobra.ExactArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m migrator, args []string) error {
			v, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			if err := m.Force(v); err != nil {
				return err
			}
			cmd.Printf("Forced version %d\n", v)
			return nil
		}),
	})
	return cmd
}

func withMigrator(run func(*cobra.Command, migrator, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return oops.Code(CodeConfigInvalid).Errorf("database-url or DATABASE_URL is required")
		}

		m, err := newMigrator(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := m.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}()
		return run(cmd, m, args)
	}
}

func parseForceVersion(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, oops.Code(store.CodeInvalidVersion).With("input", s).Errorf("version must be a non-negative integer, got %q", s)
	}
	return v, nil
}
