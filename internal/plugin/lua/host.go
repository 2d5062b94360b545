// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package lua

import (
	"context"

	"github.com/oklog/ulid/v2"
	lua "github.com/yuin/gopher-lua"

	pluginpkg "github.com/PolycarpusTack/Alexandria-sub004/pkg/plugin"
)

// hostGlobal is the table scripts use to reach the host API.
const hostGlobal = "host"

// bindHost installs the host table. Bound functions run while the calling
// script holds p.mu, so they must never call back into p.call.
//
//	host.id
//	host.log(level, message [, fields])
//	host.publish(topic, payload)           -> true | nil, err
//	host.subscribe(topic, handler)         -> id | nil, err
//	host.unsubscribe(id)                   -> bool
//	host.register_route(method, path, handler) -> true | nil, err
//	host.new_id()                          -> ULID string
//
// handler is a function or the name of a global function. publish never
// waits for delivery; a synchronous publish from inside a handler could
// wait on this same script.
func (p *Plugin) bindHost(L *lua.LState) {
	t := L.NewTable()
	L.SetField(t, "id", lua.LString(p.id))
	L.SetFuncs(t, map[string]lua.LGFunction{
		"log":            p.luaLog,
		"publish":        p.luaPublish,
		"subscribe":      p.luaSubscribe,
		"unsubscribe":    p.luaUnsubscribe,
		"register_route": p.luaRegisterRoute,
		"new_id":         luaNewID,
	})
	L.SetGlobal(hostGlobal, t)
}

func luaNewID(L *lua.LState) int {
	L.Push(lua.LString(ulid.Make().String()))
	return 1
}

func (p *Plugin) luaLog(L *lua.LState) int {
	level := pluginpkg.LogLevel(L.CheckString(1))
	message := L.CheckString(2)
	fields := fieldsFromLua(L.OptTable(3, nil))
	p.host.Log(level, message, fields)
	return 0
}

func (p *Plugin) luaPublish(L *lua.LState) int {
	topic := L.CheckString(1)

	var payload []byte
	switch v := L.Get(2).(type) {
	case *lua.LNilType:
	case lua.LString:
		payload = []byte(v)
	case *lua.LTable:
		encoded, err := encodeJSON(v)
		if err != nil {
			return fail(L, err)
		}
		payload = encoded
	default:
		L.ArgError(2, "payload must be a string or table")
		return 0
	}

	if _, err := p.host.Events().PublishAsync(luaContext(L), topic, payload); err != nil {
		return fail(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

func (p *Plugin) luaSubscribe(L *lua.LState) int {
	topic := L.CheckString(1)
	fn, label := handlerArg(L, 2)

	sub, err := p.host.Events().Subscribe(topic, p.eventHandler(fn, label))
	if err != nil {
		return fail(L, err)
	}
	p.subs[sub.ID()] = sub
	L.Push(lua.LString(sub.ID()))
	return 1
}

func (p *Plugin) luaUnsubscribe(L *lua.LState) int {
	id := L.CheckString(1)
	sub, ok := p.subs[id]
	if ok {
		sub.Unsubscribe()
		delete(p.subs, id)
	}
	L.Push(lua.LBool(ok))
	return 1
}

func (p *Plugin) luaRegisterRoute(L *lua.LState) int {
	method := L.CheckString(1)
	path := L.CheckString(2)
	fn, label := handlerArg(L, 3)

	if err := p.host.RegisterRoute(method, path, p.routeHandler(fn, label)); err != nil {
		return fail(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

// handlerArg reads a function argument given inline or by global name.
func handlerArg(L *lua.LState, n int) (*lua.LFunction, string) {
	switch v := L.Get(n).(type) {
	case *lua.LFunction:
		return v, "anonymous"
	case lua.LString:
		if fn, ok := L.GetGlobal(string(v)).(*lua.LFunction); ok {
			return fn, string(v)
		}
		L.ArgError(n, "no global function named "+string(v))
	default:
		L.ArgError(n, "handler must be a function or a global function name")
	}
	return nil, ""
}

// fail returns the Lua convention for a recoverable error: nil, message.
func fail(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}

func luaContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
