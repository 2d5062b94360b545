// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

// Package capability grants plugins the permissions their manifests declare
// and checks host API calls against them.
//
// Permissions are glob patterns using '.' as the segment separator:
//   - '*' matches a single segment (does not cross '.')
//   - '**' matches zero or more segments (crosses '.')
//
// Examples:
//   - "events.publish.*" matches "events.publish.ready" but NOT "events.publish.user.created"
//   - "events.publish.**" matches both
//   - "**" matches any capability
package capability

import (
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Error codes returned by the enforcer.
const (
	CodeInvalidPattern   = "INVALID_PERMISSION"
	CodePermissionDenied = "PERMISSION_DENIED"
)

// compiledGrant holds a pattern and its compiled glob.
type compiledGrant struct {
	pattern string
	glob    glob.Glob
}

// Compile parses a permission pattern. It is used both when grants are set
// and when manifests are validated, so a manifest that validates can always
// be granted.
func Compile(pattern string) (glob.Glob, error) {
	if pattern == "" {
		return nil, oops.In("capability").Code(CodeInvalidPattern).Errorf("permission pattern cannot be empty")
	}
	g, err := glob.Compile(pattern, '.')
	if err != nil {
		return nil, oops.In("capability").Code(CodeInvalidPattern).With("pattern", pattern).Wrap(err)
	}
	return g, nil
}

// Enforcer checks plugin permissions at runtime.
//
// Enforcer is safe for concurrent use. The zero value is ready to use.
type Enforcer struct {
	mu     sync.RWMutex
	grants map[string][]compiledGrant // plugin id -> compiled grants
}

// NewEnforcer creates a capability enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{
		grants: make(map[string][]compiledGrant),
	}
}

// SetGrants replaces the permissions granted to a plugin. Either every
// pattern compiles and the grants are replaced, or nothing changes.
func (e *Enforcer) SetGrants(pluginID string, patterns []string) error {
	if pluginID == "" {
		return oops.In("capability").Code(CodeInvalidPattern).Errorf("plugin id cannot be empty")
	}

	compiled := make([]compiledGrant, len(patterns))
	for i, pattern := range patterns {
		g, err := Compile(pattern)
		if err != nil {
			return oops.In("capability").With("plugin_id", pluginID).With("index", i).Wrap(err)
		}
		compiled[i] = compiledGrant{pattern: pattern, glob: g}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.grants == nil {
		e.grants = make(map[string][]compiledGrant)
	}
	e.grants[pluginID] = compiled
	return nil
}

// RemoveGrants drops every permission of a plugin. Safe for unknown ids.
func (e *Enforcer) RemoveGrants(pluginID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.grants, pluginID)
}

// Grants returns a copy of the patterns granted to a plugin, or nil when
// the plugin holds no grants.
func (e *Enforcer) Grants(pluginID string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	grants, ok := e.grants[pluginID]
	if !ok {
		return nil
	}
	patterns := make([]string, len(grants))
	for i, g := range grants {
		patterns[i] = g.pattern
	}
	return patterns
}

// Check reports whether the plugin holds capability. Unknown plugins and
// empty capabilities are denied.
func (e *Enforcer) Check(pluginID, capability string) bool {
	if capability == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, grant := range e.grants[pluginID] {
		if grant.glob.Match(capability) {
			return true
		}
	}
	return false
}

// Require is Check returning a PERMISSION_DENIED error on denial.
func (e *Enforcer) Require(pluginID, capability string) error {
	if e.Check(pluginID, capability) {
		return nil
	}
	return oops.In("capability").
		Code(CodePermissionDenied).
		With("plugin_id", pluginID).
		With("capability", capability).
		Hint("declare a matching pattern under permissions in plugin.yaml").
		Errorf("plugin %s lacks permission %s", pluginID, capability)
}
