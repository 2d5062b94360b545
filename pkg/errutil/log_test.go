// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package errutil_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PolycarpusTack/Alexandria-sub004/pkg/errutil"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("TEST_ERROR").
		In("registry").
		Hint("try again").
		With("plugin_id", "alpha").
		Errorf("something failed")

	errutil.LogError(logger, "operation failed", err)

	entry := decode(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "operation failed", entry["msg"])
	assert.Equal(t, "TEST_ERROR", entry["code"])
	assert.Equal(t, "registry", entry["domain"])
	assert.Equal(t, "try again", entry["hint"])
	assert.Contains(t, entry["context"], "plugin_id")
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogError(logger, "operation failed", errors.New("standard error"))

	entry := decode(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Contains(t, entry["error"], "standard error")
	assert.NotContains(t, entry, "code")
}

func TestLogWarn_UsesWarnLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogWarn(logger, "hook failed", oops.Code("HOOK").Errorf("boom"))

	entry := decode(t, &buf)
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "HOOK", entry["code"])
}
