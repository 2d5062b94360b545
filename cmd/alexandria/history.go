// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	plugins "github.com/PolycarpusTack/Alexandria-sub004/internal/plugin"
	"github.com/PolycarpusTack/Alexandria-sub004/internal/store"
)

// historyReader is the part of *store.Journal the history command uses.
type historyReader interface {
	History(ctx context.Context, q store.HistoryQuery) ([]plugins.Transition, error)
}

// openHistory is replaced in tests.
var openHistory = func(ctx context.Context, url string) (historyReader, func(), error) {
	pool, err := store.Open(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	return store.NewJournal(pool), pool.Close, nil
}

// NewHistoryCmd creates the history subcommand.
func NewHistoryCmd() *cobra.Command {
	var (
		limit  int
		before string
	)

	cmd := &cobra.Command{
		Use:   "history [PLUGIN_ID]",
		Short: "Show recorded lifecycle transitions",
		Long: `Show lifecycle transitions recorded in the transition journal, newest
first. Without PLUGIN_ID every plugin is shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return oops.Code(CodeConfigInvalid).Errorf("database-url or DATABASE_URL is required")
			}

			q := store.HistoryQuery{Limit: limit}
			if len(args) == 1 {
				q.PluginID = args[0]
			}
			if before != "" {
				q.Before, err = time.Parse(time.RFC3339, before)
				if err != nil {
					return oops.Code(CodeConfigInvalid).With("before", before).Wrapf(err, "--before must be an RFC 3339 timestamp")
				}
			}

			journal, closeFn, err := openHistory(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer closeFn()

			entries, err := journal.History(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printHistory(cmd, entries)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", store.DefaultHistoryLimit, "maximum number of entries")
	cmd.Flags().StringVar(&before, "before", "", "only entries before this RFC 3339 timestamp")
	return cmd
}

func printHistory(cmd *cobra.Command, entries []plugins.Transition) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AT\tPLUGIN\tVERSION\tOPERATION\tFROM\tTO\tERROR")
	for _, t := range entries {
		errText := t.Error
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.At.Format(time.RFC3339), t.PluginID, t.Version, t.Operation, t.From, t.To, errText)
	}
	return w.Flush()
}
