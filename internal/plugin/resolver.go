// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package plugin

import (
	"fmt"
	"maps"
	"slices"

	"github.com/Masterminds/semver/v3"
)

// The resolver functions below are pure: they read the manifests and the
// registry snapshot they are given and nothing else.

// CheckInstallable verifies that every dependency of m is installed
// (INSTALLED, ACTIVE or DEACTIVATED) among known.
func CheckInstallable(m *Manifest, known map[string]PluginInfo) error {
	reasons := make(map[string]string)
	for dep := range m.Dependencies {
		info, ok := known[dep]
		switch {
		case !ok:
			reasons[dep] = "not registered"
		case !info.State.Installed():
			reasons[dep] = fmt.Sprintf("state is %s", info.State)
		}
	}
	if len(reasons) > 0 {
		return errUnresolved(m.ID, reasons)
	}
	return nil
}

// CheckActivatable verifies that every dependency of m is ACTIVE and that
// its version satisfies the declared range. The error names exactly the
// unmet dependencies.
func CheckActivatable(m *Manifest, known map[string]PluginInfo) error {
	reasons := make(map[string]string)
	for dep, rng := range m.Dependencies {
		if reason := unmet(dep, rng, known); reason != "" {
			reasons[dep] = reason
		}
	}
	if len(reasons) > 0 {
		return errUnresolved(m.ID, reasons)
	}
	return nil
}

func unmet(dep, rng string, known map[string]PluginInfo) string {
	info, ok := known[dep]
	if !ok {
		return "not registered"
	}
	if info.State != StateActive {
		return fmt.Sprintf("state is %s, want %s", info.State, StateActive)
	}
	constraint, err := semver.NewConstraint(rng)
	if err != nil {
		return fmt.Sprintf("invalid range %q", rng)
	}
	v := info.Manifest.SemVer()
	if v == nil || !constraint.Check(v) {
		return fmt.Sprintf("version %s does not satisfy %s", info.Manifest.Version, rng)
	}
	return ""
}

// Dependents returns the ids of ACTIVE plugins that declare id as a
// dependency, sorted.
func Dependents(id string, known map[string]PluginInfo) []string {
	var out []string
	for other, info := range known {
		if other == id || info.State != StateActive {
			continue
		}
		if _, ok := info.Manifest.Dependencies[id]; ok {
			out = append(out, other)
		}
	}
	slices.Sort(out)
	return out
}

// CheckUpdate verifies that every ACTIVE dependent of id still accepts
// version. Dependents whose range rejects it are reported as unresolved.
func CheckUpdate(id string, version *semver.Version, known map[string]PluginInfo) error {
	reasons := make(map[string]string)
	for _, dep := range Dependents(id, known) {
		rng := known[dep].Manifest.Dependencies[id]
		constraint, err := semver.NewConstraint(rng)
		if err != nil || !constraint.Check(version) {
			reasons[dep] = fmt.Sprintf("requires %s %s, update is %s", id, rng, version)
		}
	}
	if len(reasons) > 0 {
		return errUnresolved(id, reasons)
	}
	return nil
}

// graph is the dependency graph over one manifest set. Edges to ids outside
// the set are dropped.
type graph struct {
	deps       map[string][]string // id -> in-set dependencies, sorted
	dependents map[string][]string // id -> in-set dependents, sorted
}

func buildGraph(manifests []*Manifest) graph {
	g := graph{
		deps:       make(map[string][]string, len(manifests)),
		dependents: make(map[string][]string, len(manifests)),
	}
	for _, m := range manifests {
		g.deps[m.ID] = nil
	}
	for _, m := range manifests {
		for _, dep := range slices.Sorted(maps.Keys(m.Dependencies)) {
			if _, ok := g.deps[dep]; !ok {
				continue
			}
			g.deps[m.ID] = append(g.deps[m.ID], dep)
			g.dependents[dep] = append(g.dependents[dep], m.ID)
		}
	}
	for id := range g.dependents {
		slices.Sort(g.dependents[id])
	}
	return g
}

// kahn orders the graph with ready nodes taken in ascending id order. Nodes
// that never become ready (cycle members and everything depending on them)
// are returned sorted as blocked.
func (g graph) kahn() (order, blocked []string) {
	indegree := make(map[string]int, len(g.deps))
	var ready []string
	for id, deps := range g.deps {
		indegree[id] = len(deps)
		if len(deps) == 0 {
			ready = append(ready, id)
		}
	}
	slices.Sort(ready)

	order = make([]string, 0, len(g.deps))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, next := range g.dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				pos, _ := slices.BinarySearch(ready, next)
				ready = slices.Insert(ready, pos, next)
			}
		}
	}

	for id, n := range indegree {
		if n > 0 {
			blocked = append(blocked, id)
		}
	}
	slices.Sort(blocked)
	return order, blocked
}

// findCycle walks dependency edges among blocked nodes, starting from the
// smallest id and always taking the smallest blocked dependency, until a
// node repeats. Every blocked node has a blocked dependency, so the walk
// always closes a cycle.
func (g graph) findCycle(blocked []string) []string {
	inBlocked := make(map[string]bool, len(blocked))
	for _, id := range blocked {
		inBlocked[id] = true
	}

	seen := make(map[string]int)
	var path []string
	cur := blocked[0]
	for {
		if at, ok := seen[cur]; ok {
			return path[at:]
		}
		seen[cur] = len(path)
		path = append(path, cur)

		next := ""
		for _, dep := range g.deps[cur] {
			if inBlocked[dep] {
				next = dep
				break
			}
		}
		if next == "" {
			return path
		}
		cur = next
	}
}

// TopologicalOrder returns an activation order for manifests in which every
// dependency precedes its dependents. Ties are broken by ascending id.
// Dependencies on ids outside the set are ignored. A cycle yields a
// CyclicDependencyError naming its members in graph order and no order.
func TopologicalOrder(manifests []*Manifest) ([]string, error) {
	g := buildGraph(manifests)
	order, blocked := g.kahn()
	if len(blocked) > 0 {
		return nil, errCycle(g.findCycle(blocked))
	}
	return order, nil
}

// PartialOrder is TopologicalOrder that does not fail: it returns the
// orderable ids and, separately, the ids blocked by a cycle.
func PartialOrder(manifests []*Manifest) (order, blocked []string) {
	return buildGraph(manifests).kahn()
}
