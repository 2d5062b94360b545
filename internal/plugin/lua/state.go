// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

// Package lua runs plugins written in Lua inside a sandboxed gopher-lua
// state.
package lua

import (
	"context"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

type safeLibrary struct {
	name string
	fn   lua.LGFunction
}

// defaultSafeLibraries are opened in every state.
// Blocked: os, io, debug, package, channel, coroutine.
func defaultSafeLibraries() []safeLibrary {
	return []safeLibrary{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
}

// Base library functions that reach the filesystem or compile arbitrary
// chunks.
var unsafeBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load", "require", "module"}

// Default VM limits.
const (
	DefaultCallStackSize   = 256
	DefaultRegistryMaxSize = 256 * 1024
)

// StateFactory creates sandboxed Lua states.
type StateFactory struct {
	libraries       []safeLibrary
	callStackSize   int
	registryMaxSize int
}

// StateOption configures a StateFactory.
type StateOption func(*StateFactory)

// WithCallStackSize bounds Lua call depth.
func WithCallStackSize(n int) StateOption {
	return func(f *StateFactory) {
		if n > 0 {
			f.callStackSize = n
		}
	}
}

// WithRegistryMaxSize bounds the Lua value stack.
func WithRegistryMaxSize(n int) StateOption {
	return func(f *StateFactory) {
		if n > 0 {
			f.registryMaxSize = n
		}
	}
}

// NewStateFactory creates a state factory with the default limits.
func NewStateFactory(opts ...StateOption) *StateFactory {
	f := &StateFactory{
		libraries:       defaultSafeLibraries(),
		callStackSize:   DefaultCallStackSize,
		registryMaxSize: DefaultRegistryMaxSize,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewState creates a fresh Lua state with only the safe libraries loaded.
// The state is bound to ctx while the libraries open; callers set their own
// context for later calls.
func (f *StateFactory) NewState(ctx context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       f.callStackSize,
		RegistrySize:        min(1024*20, f.registryMaxSize),
		RegistryMaxSize:     f.registryMaxSize,
		IncludeGoStackTrace: false,
	})
	L.SetContext(ctx)
	defer L.RemoveContext()

	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, oops.In("lua").With("library", lib.name).Wrapf(err, "failed to open library %s", lib.name)
		}
	}

	for _, fn := range unsafeBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}

	return L, nil
}
