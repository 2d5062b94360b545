// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package main

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/samber/oops"

	pluginpkg "github.com/PolycarpusTack/Alexandria-sub004/pkg/plugin"
	"github.com/PolycarpusTack/Alexandria-sub004/pkg/pluginsdk"
)

// Handler names referenced by plugin.yaml.
const (
	handleEcho = "echo"
	handleHTTP = "http_echo"
)

// ReplyTopic is where echoed events are published.
const ReplyTopic = "echo.reply"

// Echo is the echo plugin.
type Echo struct {
	pluginsdk.Base

	active atomic.Bool
	echoed atomic.Int64
}

func (e *Echo) OnActivate(context.Context) error {
	e.active.Store(true)
	return nil
}

func (e *Echo) OnDeactivate(context.Context) error {
	e.active.Store(false)
	return nil
}

func (e *Echo) Handlers(context.Context) (pluginsdk.Handlers, error) {
	return pluginsdk.Handlers{
		Events: []string{handleEcho},
		Routes: []string{handleHTTP},
	}, nil
}

func (e *Echo) HandleEvent(_ context.Context, handler string, event pluginpkg.Event) ([]pluginsdk.Emit, error) {
	if handler != handleEcho {
		return nil, oops.In("echo").With("handler", handler).Errorf("unknown handler %q", handler)
	}
	if !e.active.Load() {
		return nil, oops.In("echo").Errorf("echo is not active")
	}
	e.echoed.Add(1)
	return []pluginsdk.Emit{{Topic: ReplyTopic, Payload: event.Payload}}, nil
}

func (e *Echo) HandleRequest(_ context.Context, handler string, req *pluginsdk.Request) (*pluginsdk.Response, error) {
	if handler != handleHTTP {
		return &pluginsdk.Response{Status: http.StatusNotFound}, nil
	}
	if req.Method != http.MethodPost {
		return &pluginsdk.Response{Status: http.StatusMethodNotAllowed}, nil
	}

	contentType := "application/octet-stream"
	if ct := req.Header["Content-Type"]; len(ct) > 0 {
		contentType = ct[0]
	}
	return &pluginsdk.Response{
		Status: http.StatusOK,
		Header: map[string][]string{"Content-Type": {contentType}},
		Body:   req.Body,
	}, nil
}
