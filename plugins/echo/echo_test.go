// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package main

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pluginpkg "github.com/PolycarpusTack/Alexandria-sub004/pkg/plugin"
	"github.com/PolycarpusTack/Alexandria-sub004/pkg/pluginsdk"
)

var _ pluginsdk.Plugin = (*Echo)(nil)

func TestEcho_HandleEvent(t *testing.T) {
	ctx := context.Background()
	e := &Echo{}

	_, err := e.HandleEvent(ctx, handleEcho, pluginpkg.Event{Topic: "echo.request", Payload: []byte("hi")})
	require.Error(t, err, "inactive plugin must not echo")

	require.NoError(t, e.OnActivate(ctx))
	emits, err := e.HandleEvent(ctx, handleEcho, pluginpkg.Event{Topic: "echo.request", Payload: []byte("hi")})
	require.NoError(t, err)
	assert.Equal(t, []pluginsdk.Emit{{Topic: ReplyTopic, Payload: []byte("hi")}}, emits)
	assert.Equal(t, int64(1), e.echoed.Load())

	_, err = e.HandleEvent(ctx, "other", pluginpkg.Event{})
	assert.Error(t, err)

	require.NoError(t, e.OnDeactivate(ctx))
	_, err = e.HandleEvent(ctx, handleEcho, pluginpkg.Event{})
	assert.Error(t, err)
}

func TestEcho_HandleRequest(t *testing.T) {
	ctx := context.Background()
	e := &Echo{}

	resp, err := e.HandleRequest(ctx, handleHTTP, &pluginsdk.Request{
		Method: http.MethodPost,
		Header: map[string][]string{"Content-Type": {"text/plain"}},
		Body:   []byte("ping"),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, []byte("ping"), resp.Body)
	assert.Equal(t, []string{"text/plain"}, resp.Header["Content-Type"])

	resp, err = e.HandleRequest(ctx, handleHTTP, &pluginsdk.Request{Method: http.MethodGet})
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.Status)

	resp, err = e.HandleRequest(ctx, "missing", &pluginsdk.Request{Method: http.MethodPost})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)
}

func TestEcho_Handlers(t *testing.T) {
	h, err := (&Echo{}).Handlers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"echo"}, h.Events)
	assert.Equal(t, []string{"http_echo"}, h.Routes)
}
