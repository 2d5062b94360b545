// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package store

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	plugins "github.com/PolycarpusTack/Alexandria-sub004/internal/plugin"
)

var _ plugins.Journal = (*Journal)(nil)

// DefaultHistoryLimit caps History when no limit is given.
const DefaultHistoryLimit = 100

// Journal appends registry transitions to the plugin_transitions table.
// It is an audit trail; the registry does not restore state from it.
type Journal struct {
	pool    poolIface
	backoff func() retry.Backoff
}

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// WithBackoff sets the retry policy for transient write failures. f is
// called once per Append since backoffs are stateful.
func WithBackoff(f func() retry.Backoff) JournalOption {
	return func(j *Journal) {
		if f != nil {
			j.backoff = f
		}
	}
}

// NewJournal creates a journal writing through pool.
func NewJournal(pool poolIface, opts ...JournalOption) *Journal {
	j := &Journal{pool: pool, backoff: DefaultBackoff}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

const insertTransition = `INSERT INTO plugin_transitions
	(id, plugin_id, version, operation, from_state, to_state, error, at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// Append records t. Transient failures are retried with the same row id,
// so a retry after a write that did land is a no-op.
func (j *Journal) Append(ctx context.Context, t plugins.Transition) error {
	id := ulid.Make().String()

	var errText any
	if t.Error != "" {
		errText = t.Error
	}

	err := retry.Do(ctx, j.backoff(), func(ctx context.Context) error {
		_, err := j.pool.Exec(ctx, insertTransition,
			id, t.PluginID, t.Version, string(t.Operation), string(t.From), string(t.To), errText, t.At.UTC())
		switch {
		case err == nil, uniqueViolation(err):
			return nil
		case transient(err):
			return retry.RetryableError(err)
		default:
			return err
		}
	})
	if err != nil {
		return oops.In("store").
			Code(CodeAppendFailed).
			With("plugin_id", t.PluginID).
			With("operation", string(t.Operation)).
			Wrapf(err, "append transition")
	}
	return nil
}

// HistoryQuery selects journal entries.
type HistoryQuery struct {
	// PluginID restricts the result to one plugin. Empty means all plugins.
	PluginID string
	// Before excludes entries at or after this time when non-zero.
	Before time.Time
	// Limit caps the number of entries. Zero means DefaultHistoryLimit.
	Limit int
}

const selectHistory = `SELECT plugin_id, version, operation, from_state, to_state, COALESCE(error, ''), at
	FROM plugin_transitions
	WHERE ($1 = '' OR plugin_id = $1) AND ($2::timestamptz IS NULL OR at < $2)
	ORDER BY at DESC, id DESC
	LIMIT $3`

// History returns journal entries, newest first.
func (j *Journal) History(ctx context.Context, q HistoryQuery) ([]plugins.Transition, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	var before any
	if !q.Before.IsZero() {
		before = q.Before.UTC()
	}

	errb := oops.In("store").Code(CodeQueryFailed).With("plugin_id", q.PluginID)

	rows, err := j.pool.Query(ctx, selectHistory, q.PluginID, before, limit)
	if err != nil {
		return nil, errb.Wrapf(err, "query transitions")
	}
	defer rows.Close()

	var out []plugins.Transition
	for rows.Next() {
		var (
			t        plugins.Transition
			op, from string
			to       string
		)
		if err := rows.Scan(&t.PluginID, &t.Version, &op, &from, &to, &t.Error, &t.At); err != nil {
			return nil, errb.Wrapf(err, "scan transition row")
		}
		t.Operation = plugins.Operation(op)
		t.From = plugins.State(from)
		t.To = plugins.State(to)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errb.Wrapf(err, "iterate transitions")
	}
	return out, nil
}
