// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package lua

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	pluginpkg "github.com/PolycarpusTack/Alexandria-sub004/pkg/plugin"
)

// Global function names the script may define for lifecycle hooks.
const (
	fnOnInstall    = "on_install"
	fnOnActivate   = "on_activate"
	fnOnDeactivate = "on_deactivate"
	fnOnUninstall  = "on_uninstall"
)

// maxRequestBody bounds the request body handed to a Lua route handler.
const maxRequestBody = 1 << 20

// Plugin is one loaded Lua script. gopher-lua states are not safe for
// concurrent use, so every call into the script holds mu.
type Plugin struct {
	id   string
	host pluginpkg.HostAPI

	mu     sync.Mutex
	state  *lua.LState
	subs   map[string]pluginpkg.Subscription
	closed bool
}

var (
	_ pluginpkg.Plugin        = (*Plugin)(nil)
	_ pluginpkg.EventHandlers = (*Plugin)(nil)
	_ pluginpkg.RouteHandlers = (*Plugin)(nil)
	_ io.Closer               = (*Plugin)(nil)
)

func (p *Plugin) OnInstall(ctx context.Context) error    { return p.hook(ctx, fnOnInstall) }
func (p *Plugin) OnActivate(ctx context.Context) error   { return p.hook(ctx, fnOnActivate) }
func (p *Plugin) OnDeactivate(ctx context.Context) error { return p.hook(ctx, fnOnDeactivate) }
func (p *Plugin) OnUninstall(ctx context.Context) error  { return p.hook(ctx, fnOnUninstall) }

// hook calls the named global if the script defines it. A script error
// becomes the hook's error.
func (p *Plugin) hook(ctx context.Context, name string) error {
	_, err := p.call(ctx, name, 0)
	return err
}

// call invokes a global function and returns its results. A missing
// function is not an error and returns no values.
func (p *Plugin) call(ctx context.Context, name string, nret int, args ...func(*lua.LState) lua.LValue) ([]lua.LValue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, p.errClosed(name)
	}
	fn, ok := p.state.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return nil, nil
	}
	return p.callLocked(ctx, fn, name, nret, args)
}

// callFn invokes fn, which was captured from the script earlier.
func (p *Plugin) callFn(ctx context.Context, fn *lua.LFunction, label string, nret int, args ...func(*lua.LState) lua.LValue) ([]lua.LValue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, p.errClosed(label)
	}
	return p.callLocked(ctx, fn, label, nret, args)
}

func (p *Plugin) callLocked(ctx context.Context, fn *lua.LFunction, label string, nret int, args []func(*lua.LState) lua.LValue) ([]lua.LValue, error) {
	L := p.state
	L.SetContext(ctx)
	defer L.RemoveContext()

	values := make([]lua.LValue, len(args))
	for i, build := range args {
		values[i] = build(L)
	}

	if err := L.CallByParam(lua.P{Fn: fn, NRet: nret, Protect: true}, values...); err != nil {
		return nil, oops.In("lua").With("plugin_id", p.id).With("function", label).Wrap(err)
	}

	ret := make([]lua.LValue, nret)
	for i := range nret {
		ret[i] = L.Get(-nret + i)
	}
	L.Pop(nret)
	return ret, nil
}

func (p *Plugin) errClosed(label string) error {
	return oops.In("lua").With("plugin_id", p.id).With("function", label).Errorf("plugin %s is closed", p.id)
}

// global returns the script's global function name.
func (p *Plugin) global(name string) (*lua.LFunction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, false
	}
	fn, ok := p.state.GetGlobal(name).(*lua.LFunction)
	return fn, ok
}

// EventHandler returns a bus handler calling the global function name with
// an event table. The function may return nil, or false plus a message to
// report a failure.
func (p *Plugin) EventHandler(name string) (pluginpkg.Handler, bool) {
	fn, ok := p.global(name)
	if !ok {
		return nil, false
	}
	return p.eventHandler(fn, name), true
}

func (p *Plugin) eventHandler(fn *lua.LFunction, label string) pluginpkg.Handler {
	return func(ctx context.Context, event pluginpkg.Event) error {
		ret, err := p.callFn(ctx, fn, label, 2, func(L *lua.LState) lua.LValue { return eventTable(L, event) })
		if err != nil {
			return err
		}
		return resultError(p.id, label, ret)
	}
}

// RouteHandler returns an http.Handler calling the global function name
// with a request table. The function returns status, body and an optional
// headers table.
func (p *Plugin) RouteHandler(name string) (http.Handler, bool) {
	fn, ok := p.global(name)
	if !ok {
		return nil, false
	}
	return p.routeHandler(fn, name), true
}

func (p *Plugin) routeHandler(fn *lua.LFunction, label string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		ret, err := p.callFn(r.Context(), fn, label, 3, func(L *lua.LState) lua.LValue { return requestTable(L, r, body) })
		if err != nil {
			p.host.Log(pluginpkg.LevelError, "route handler failed", map[string]any{"handler": label, "error": err.Error()})
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		writeResponse(w, ret)
	})
}

// Close releases the Lua state. Later calls fail.
func (p *Plugin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.subs = nil
		p.state.Close()
	}
	return nil
}

func resultError(id, name string, ret []lua.LValue) error {
	if len(ret) == 0 {
		return nil
	}
	if ret[0] == lua.LFalse {
		msg := "handler returned false"
		if len(ret) > 1 && ret[1] != lua.LNil {
			msg = ret[1].String()
		}
		return oops.In("lua").With("plugin_id", id).With("function", name).New(msg)
	}
	return nil
}

func eventTable(L *lua.LState, event pluginpkg.Event) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "id", lua.LString(event.ID))
	L.SetField(t, "topic", lua.LString(event.Topic))
	L.SetField(t, "payload", lua.LString(event.Payload))
	L.SetField(t, "publisher", lua.LString(event.Publisher))
	L.SetField(t, "published_at", lua.LNumber(event.PublishedAt.UnixMilli()))
	if data, ok := decodeJSON(L, event.Payload); ok {
		L.SetField(t, "data", data)
	}
	return t
}

func requestTable(L *lua.LState, r *http.Request, body []byte) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "method", lua.LString(r.Method))
	L.SetField(t, "path", lua.LString(r.URL.Path))
	L.SetField(t, "body", lua.LString(body))

	query := L.NewTable()
	for k, v := range r.URL.Query() {
		L.SetField(query, k, lua.LString(strings.Join(v, ",")))
	}
	L.SetField(t, "query", query)

	headers := L.NewTable()
	for k := range r.Header {
		L.SetField(headers, strings.ToLower(k), lua.LString(r.Header.Get(k)))
	}
	L.SetField(t, "headers", headers)
	return t
}

func writeResponse(w http.ResponseWriter, ret []lua.LValue) {
	for len(ret) < 3 {
		ret = append(ret, lua.LNil)
	}

	status := http.StatusOK
	if n, ok := ret[0].(lua.LNumber); ok {
		status = int(n)
		// WriteHeader panics outside 1xx-5xx.
		if status < 100 || status > 599 {
			status = http.StatusInternalServerError
		}
	}

	if headers, ok := ret[2].(*lua.LTable); ok {
		headers.ForEach(func(k, v lua.LValue) {
			w.Header().Set(k.String(), v.String())
		})
	}

	body := ""
	switch v := ret[1].(type) {
	case lua.LString:
		body = string(v)
	case *lua.LTable:
		encoded, err := encodeJSON(v)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}
		body = string(encoded)
	}

	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
