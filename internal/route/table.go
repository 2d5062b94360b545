// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

// Package route holds the HTTP routes plugins register through the host API.
//
// Routes are kept in a table keyed by method and path and served through a
// chi router that is rebuilt on every change and swapped in atomically, so
// requests never observe a half-applied registration or removal.
package route

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"
)

// Error codes returned by the table.
const (
	CodeRouteConflict = "ROUTE_CONFLICT"
	CodeInvalidRoute  = "INVALID_ROUTE"
)

// Route is one registered endpoint.
type Route struct {
	Owner   string
	Method  string
	Path    string
	handler http.Handler
}

func (r Route) key() string { return r.Method + " " + r.Path }

// Table is a route table safe for concurrent use.
type Table struct {
	mu     sync.Mutex
	routes []Route
	router atomic.Pointer[chi.Mux]
}

// NewTable creates an empty route table.
func NewTable() *Table {
	t := &Table{}
	mux, _ := build(nil)
	t.router.Store(mux)
	return t
}

// Register adds a route owned by owner. Registering a method and path that
// is already taken, by any owner, fails with ROUTE_CONFLICT.
func (t *Table) Register(owner, method, path string, handler http.Handler) error {
	method = strings.ToUpper(method)
	if handler == nil || !strings.HasPrefix(path, "/") || method == "" {
		return oops.In("route").
			Code(CodeInvalidRoute).
			With("owner", owner).
			With("method", method).
			With("path", path).
			Errorf("invalid route %s %s", method, path)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	r := Route{Owner: owner, Method: method, Path: path, handler: handler}
	for _, existing := range t.routes {
		if existing.key() == r.key() {
			return oops.In("route").
				Code(CodeRouteConflict).
				With("owner", owner).
				With("existing_owner", existing.Owner).
				Errorf("route %s is already registered by %s", r.key(), displayOwner(existing.Owner))
		}
	}

	next := append(slices.Clone(t.routes), r)
	mux, err := build(next)
	if err != nil {
		return oops.In("route").Code(CodeRouteConflict).With("owner", owner).Wrap(err)
	}
	t.routes = next
	t.router.Store(mux)
	return nil
}

// RemoveOwner drops every route owned by owner and returns how many were
// removed.
func (t *Table) RemoveOwner(owner string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := slices.DeleteFunc(slices.Clone(t.routes), func(r Route) bool { return r.Owner == owner })
	removed := len(t.routes) - len(kept)
	if removed == 0 {
		return 0
	}
	// Removing routes cannot introduce a conflict.
	mux, _ := build(kept)
	t.routes = kept
	t.router.Store(mux)
	return removed
}

// Routes returns the registered routes in registration order.
func (t *Table) Routes() []Route {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.routes)
}

// ServeHTTP dispatches to the current router.
func (t *Table) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	t.router.Load().ServeHTTP(w, req)
}

// build creates a router for routes. chi panics on patterns it cannot
// merge; that is reported as an error.
func build(routes []Route) (mux *chi.Mux, err error) {
	defer func() {
		if r := recover(); r != nil {
			mux, err = nil, fmt.Errorf("route pattern rejected: %v", r)
		}
	}()

	mux = chi.NewRouter()
	mux.Use(middleware.Recoverer)
	for _, r := range routes {
		mux.Method(r.Method, r.Path, r.handler)
	}
	return mux, nil
}

func displayOwner(owner string) string {
	if owner == "" {
		return "the host"
	}
	return owner
}
