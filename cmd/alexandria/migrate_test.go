// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/PolycarpusTack/Alexandria-sub004/internal/store"
	"github.com/PolycarpusTack/Alexandria-sub004/pkg/errutil"
)

type mockMigrator struct {
	mock.Mock
}

func (m *mockMigrator) Up() error {
	return m.Called().Error(0)
}

func (m *mockMigrator) Down() error {
	return m.Called().Error(0)
}

func (m *mockMigrator) Force(version int) error {
	return m.Called(version).Error(0)
}

func (m *mockMigrator) Status() ([]store.Migration, bool, error) {
	args := m.Called()
	status, _ := args.Get(0).([]store.Migration)
	return status, args.Bool(1), args.Error(2)
}

func (m *mockMigrator) Close() error {
	return m.Called().Error(0)
}

// useMigrator swaps newMigrator for the duration of the test.
func useMigrator(t *testing.T, m migrator) *string {
	t.Helper()
	var gotURL string
	orig := newMigrator
	newMigrator = func(url string) (migrator, error) {
		gotURL = url
		return m, nil
	}
	t.Cleanup(func() { newMigrator = orig })
	return &gotURL
}

func TestMigrate_RequiresDatabaseURL(t *testing.T) {
	isolate(t)
	for _, sub := range []string{"up", "down", "status"} {
		_, err := execute(t, "migrate", sub)
		errutil.AssertErrorCode(t, err, CodeConfigInvalid)
	}
}

func TestMigrate_Up(t *testing.T) {
	isolate(t)
	m := &mockMigrator{}
	m.On("Up").Return(nil)
	m.On("Close").Return(nil)
	gotURL := useMigrator(t, m)

	out, err := execute(t, "migrate", "up", "--database-url", "postgres://u@h/db")
	require.NoError(t, err)
	assert.Contains(t, out, "Migrations applied")
	assert.Equal(t, "postgres://u@h/db", *gotURL)
	m.AssertExpectations(t)
}

func TestMigrate_DownFailureStillCloses(t *testing.T) {
	isolate(t)
	t.Setenv("DATABASE_URL", "postgres://env@h/db")
	m := &mockMigrator{}
	m.On("Down").Return(errors.New("locked"))
	m.On("Close").Return(nil)
	gotURL := useMigrator(t, m)

	_, err := execute(t, "migrate", "down")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")
	assert.Equal(t, "postgres://env@h/db", *gotURL)
	m.AssertExpectations(t)
}

func TestMigrate_Status(t *testing.T) {
	isolate(t)
	m := &mockMigrator{}
	m.On("Status").Return([]store.Migration{
		{Version: 1, Name: "000001_plugin_transitions", Applied: true},
		{Version: 2, Name: "000002_plugin_transitions_operation_check"},
	}, true, nil)
	m.On("Close").Return(nil)
	useMigrator(t, m)

	out, err := execute(t, "migrate", "status", "--database-url", "postgres://u@h/db")
	require.NoError(t, err)
	assert.Regexp(t, `1\s+000001_plugin_transitions\s+true`, out)
	assert.Regexp(t, `2\s+000002_plugin_transitions_operation_check\s+false`, out)
	assert.Contains(t, out, "dirty")
}

func TestMigrate_Force(t *testing.T) {
	isolate(t)
	m := &mockMigrator{}
	m.On("Force", 2).Return(nil)
	m.On("Close").Return(nil)
	useMigrator(t, m)

	out, err := execute(t, "migrate", "force", "2", "--database-url", "postgres://u@h/db")
	require.NoError(t, err)
	assert.Contains(t, out, "Forced version 2")
	m.AssertExpectations(t)
}

func TestMigrate_CloseErrorIsReported(t *testing.T) {
	isolate(t)
	m := &mockMigrator{}
	m.On("Up").Return(nil)
	m.On("Close").Return(errors.New("close failed"))
	useMigrator(t, m)

	_, err := execute(t, "migrate", "up", "--database-url", "postgres://u@h/db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close failed")
}

func TestParseForceVersion(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"3", 3, false},
		{"0", 0, false},
		{"abc", 0, true},
		{"1.5", 0, true},
		{"-1", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseForceVersion(tt.input)
			if tt.wantErr {
				errutil.AssertErrorCode(t, err, store.CodeInvalidVersion)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
