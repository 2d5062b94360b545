// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// asOops fails the test unless err is a non-nil oops error.
func asOops(t *testing.T, err error) oops.OopsError {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	return oopsErr
}

// AssertErrorCode asserts that err carries code. oops reports the code of
// the deepest wrapped error that set one.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	assert.Equal(t, code, asOops(t, err).Code(), "error: %v", err)
}

// AssertErrorContext asserts that err carries key with value in its context.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	ctx := asOops(t, err).Context()
	if assert.Contains(t, ctx, key) {
		assert.Equal(t, value, ctx[key])
	}
}

// AssertErrorDomain asserts that err was raised in the named package domain
// (the oops.In value), e.g. "registry" or "store".
func AssertErrorDomain(t *testing.T, err error, domain string) {
	t.Helper()
	assert.Equal(t, domain, asOops(t, err).Domain())
}
