// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package plugin

// State is a plugin's lifecycle state.
type State string

// Lifecycle states.
const (
	StateDiscovered  State = "DISCOVERED"
	StateInstalled   State = "INSTALLED"
	StateActive      State = "ACTIVE"
	StateDeactivated State = "DEACTIVATED"
	StateFailed      State = "FAILED"
	StateUninstalled State = "UNINSTALLED"
)

// States lists every state in lifecycle order.
var States = []State{
	StateDiscovered, StateInstalled, StateActive,
	StateDeactivated, StateFailed, StateUninstalled,
}

// Operation is a lifecycle transition requested of the registry.
type Operation string

// Lifecycle operations.
const (
	OpDiscover   Operation = "discover"
	OpInstall    Operation = "install"
	OpActivate   Operation = "activate"
	OpDeactivate Operation = "deactivate"
	OpUninstall  Operation = "uninstall"
	OpUpdate     Operation = "update"
)

// transitions lists the operations permitted from each state. Activation
// may also end in FAILED, and update of an ACTIVE plugin re-runs
// activation; those outcomes are decided by the registry, not the table.
var transitions = map[State]map[Operation]State{
	StateDiscovered: {
		OpInstall: StateInstalled,
	},
	StateInstalled: {
		OpActivate:  StateActive,
		OpUninstall: StateUninstalled,
		OpUpdate:    StateInstalled,
	},
	StateActive: {
		OpDeactivate: StateDeactivated,
		OpUpdate:     StateActive,
	},
	StateDeactivated: {
		OpActivate:   StateActive,
		OpDeactivate: StateDeactivated,
		OpUninstall:  StateUninstalled,
		OpUpdate:     StateInstalled,
	},
	StateFailed: {
		OpUninstall: StateUninstalled,
		OpUpdate:    StateInstalled,
	},
}

// Next returns the state op leads to from s, or false when op is not
// permitted in s.
func (s State) Next(op Operation) (State, bool) {
	next, ok := transitions[s][op]
	return next, ok
}

// Installed reports whether a plugin in state s counts as installed for
// dependency resolution.
func (s State) Installed() bool {
	switch s {
	case StateInstalled, StateActive, StateDeactivated:
		return true
	default:
		return false
	}
}

// checkTransition returns a RegistryStateError when op is not permitted.
func checkTransition(id string, from State, op Operation) (State, error) {
	next, ok := from.Next(op)
	if !ok {
		return from, errState(id, from, op)
	}
	return next, nil
}
