// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	plugins "github.com/PolycarpusTack/Alexandria-sub004/internal/plugin"
	"github.com/PolycarpusTack/Alexandria-sub004/pkg/errutil"
)

func fastBackoff() retry.Backoff {
	return retry.WithMaxRetries(2, retry.NewConstant(time.Millisecond))
}

func sampleTransition() plugins.Transition {
	return plugins.Transition{
		PluginID:  "alpha",
		Version:   "1.0.0",
		Operation: plugins.OpActivate,
		From:      plugins.StateInstalled,
		To:        plugins.StateActive,
		At:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestJournal_Append(t *testing.T) {
	tr := sampleTransition()

	tests := []struct {
		name      string
		tr        plugins.Transition
		setupMock func(mock pgxmock.PgxPoolIface)
		wantCode  string
	}{
		{
			name: "successful insert",
			tr:   tr,
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO plugin_transitions`).
					WithArgs(pgxmock.AnyArg(), "alpha", "1.0.0", "activate", "INSTALLED", "ACTIVE", nil, tr.At).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
		},
		{
			name: "error text is stored",
			tr: func() plugins.Transition {
				failed := tr
				failed.To = plugins.StateFailed
				failed.Error = "hook timed out"
				return failed
			}(),
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO plugin_transitions`).
					WithArgs(pgxmock.AnyArg(), "alpha", "1.0.0", "activate", "INSTALLED", "FAILED", "hook timed out", tr.At).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
		},
		{
			name: "transient error is retried",
			tr:   tr,
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO plugin_transitions`).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.SerializationFailure})
				mock.ExpectExec(`INSERT INTO plugin_transitions`).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
		},
		{
			name: "duplicate row from an earlier attempt is success",
			tr:   tr,
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO plugin_transitions`).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
			},
		},
		{
			name: "permanent error is not retried",
			tr:   tr,
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO plugin_transitions`).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.UndefinedTable, Message: "relation does not exist"})
			},
			wantCode: CodeAppendFailed,
		},
		{
			name: "retries exhausted",
			tr:   tr,
			setupMock: func(mock pgxmock.PgxPoolIface) {
				for range 3 {
					mock.ExpectExec(`INSERT INTO plugin_transitions`).
						WillReturnError(&pgconn.PgError{Code: pgerrcode.AdminShutdown})
				}
			},
			wantCode: CodeAppendFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			tt.setupMock(mock)

			j := NewJournal(mock, WithBackoff(fastBackoff))
			err = j.Append(context.Background(), tt.tr)
			if tt.wantCode != "" {
				errutil.AssertErrorCode(t, err, tt.wantCode)
				errutil.AssertErrorContext(t, err, "plugin_id", "alpha")
				errutil.AssertErrorDomain(t, err, "store")
			} else {
				require.NoError(t, err)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestJournal_History(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	columns := []string{"plugin_id", "version", "operation", "from_state", "to_state", "error", "at"}

	t.Run("rows are mapped newest first", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		rows := pgxmock.NewRows(columns).
			AddRow("alpha", "1.0.0", "deactivate", "ACTIVE", "DEACTIVATED", "", at.Add(time.Minute)).
			AddRow("alpha", "1.0.0", "activate", "INSTALLED", "FAILED", "boom", at)
		mock.ExpectQuery(`SELECT plugin_id, version, operation`).
			WithArgs("alpha", nil, 10).
			WillReturnRows(rows)

		got, err := NewJournal(mock).History(context.Background(), HistoryQuery{PluginID: "alpha", Limit: 10})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, plugins.Transition{
			PluginID:  "alpha",
			Version:   "1.0.0",
			Operation: plugins.OpActivate,
			From:      plugins.StateInstalled,
			To:        plugins.StateFailed,
			Error:     "boom",
			At:        at,
		}, got[1])
		assert.Equal(t, plugins.OpDeactivate, got[0].Operation)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("defaults and before filter", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT plugin_id, version, operation`).
			WithArgs("", at, DefaultHistoryLimit).
			WillReturnRows(pgxmock.NewRows(columns))

		got, err := NewJournal(mock).History(context.Background(), HistoryQuery{Before: at})
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT plugin_id, version, operation`).
			WillReturnError(errors.New("connection refused"))

		_, err = NewJournal(mock).History(context.Background(), HistoryQuery{PluginID: "alpha"})
		errutil.AssertErrorCode(t, err, CodeQueryFailed)
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization failure", &pgconn.PgError{Code: pgerrcode.SerializationFailure}, true},
		{"deadlock", &pgconn.PgError{Code: pgerrcode.DeadlockDetected}, true},
		{"connection failure", &pgconn.PgError{Code: pgerrcode.ConnectionFailure}, true},
		{"admin shutdown", &pgconn.PgError{Code: pgerrcode.AdminShutdown}, true},
		{"too many connections", &pgconn.PgError{Code: pgerrcode.TooManyConnections}, true},
		{"unique violation", &pgconn.PgError{Code: pgerrcode.UniqueViolation}, false},
		{"syntax error", &pgconn.PgError{Code: pgerrcode.SyntaxError}, false},
		{"context canceled", context.Canceled, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, transient(tt.err))
		})
	}
}
