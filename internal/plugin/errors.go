// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package plugin

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/oops"

	"github.com/PolycarpusTack/Alexandria-sub004/internal/plugin/capability"
)

// Error codes for registry failures.
const (
	CodeValidationFailed       = "VALIDATION_FAILED"
	CodeDuplicatePlugin        = "DUPLICATE_PLUGIN"
	CodeUnresolvedDependencies = "UNRESOLVED_DEPENDENCIES"
	CodeCyclicDependency       = "CYCLIC_DEPENDENCY"
	CodeLifecycleHookFailed    = "LIFECYCLE_HOOK_FAILED"
	CodeRegistryState          = "REGISTRY_STATE"
	CodePluginBusy             = "PLUGIN_BUSY"
	CodePluginNotFound         = "PLUGIN_NOT_FOUND"
	CodePermissionDenied       = capability.CodePermissionDenied
	CodeLoadFailed             = "LOAD_FAILED"
	CodeServiceNotFound        = "SERVICE_NOT_FOUND"
	CodeHandlerNotFound        = "HANDLER_NOT_FOUND"
)

// Sentinels for errors.Is checks.
var (
	ErrPluginBusy     = errors.New("plugin busy")
	ErrPluginNotFound = errors.New("plugin not found")
)

// FieldError is one failed manifest check.
type FieldError struct {
	Field   string
	Message string
}

func (f FieldError) String() string {
	return f.Field + ": " + f.Message
}

// ValidationError lists every failed check of one manifest.
type ValidationError struct {
	PluginID string
	Fields   []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	id := e.PluginID
	if id == "" {
		id = "<unknown>"
	}
	return fmt.Sprintf("manifest %s is invalid: %s", id, strings.Join(parts, "; "))
}

// UnresolvedDependencyError names the dependencies that blocked an install
// or activation. Reasons is keyed by dependency id.
type UnresolvedDependencyError struct {
	PluginID string
	Missing  []string
	Reasons  map[string]string
}

func (e *UnresolvedDependencyError) Error() string {
	parts := make([]string, len(e.Missing))
	for i, id := range e.Missing {
		parts[i] = id + " (" + e.Reasons[id] + ")"
	}
	return fmt.Sprintf("plugin %s has unresolved dependencies: %s", e.PluginID, strings.Join(parts, ", "))
}

// CyclicDependencyError names the plugins forming a dependency cycle, in
// graph order. The first id is repeated at the end of Cycle's string form.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	path := append(append([]string{}, e.Cycle...), e.Cycle[0])
	return "dependency cycle: " + strings.Join(path, " -> ")
}

func errValidation(id string, fields []FieldError) error {
	return oops.In("plugin").
		Code(CodeValidationFailed).
		With("plugin_id", id).
		With("fields", len(fields)).
		Wrap(&ValidationError{PluginID: id, Fields: fields})
}

func errDuplicate(id, existingPath string) error {
	return oops.In("plugin").
		Code(CodeDuplicatePlugin).
		With("plugin_id", id).
		With("existing_path", existingPath).
		Errorf("plugin %s is already registered", id)
}

func errUnresolved(id string, reasons map[string]string) error {
	missing := make([]string, 0, len(reasons))
	for dep := range reasons {
		missing = append(missing, dep)
	}
	sort.Strings(missing)
	return oops.In("plugin").
		Code(CodeUnresolvedDependencies).
		With("plugin_id", id).
		With("missing", missing).
		Wrap(&UnresolvedDependencyError{PluginID: id, Missing: missing, Reasons: reasons})
}

func errCycle(cycle []string) error {
	return oops.In("plugin").
		Code(CodeCyclicDependency).
		With("cycle", cycle).
		Wrap(&CyclicDependencyError{Cycle: cycle})
}

// wrapOwn wraps cause under b. oops reports the innermost code, so a cause
// that is itself an oops error is folded into the message instead.
func wrapOwn(b oops.OopsErrorBuilder, cause error, format string, args ...any) error {
	if _, ok := oops.AsOops(cause); ok {
		return b.Errorf(format+": %v", append(args, cause)...)
	}
	return b.Wrapf(cause, format, args...)
}

func errHook(id string, hook Hook, cause error) error {
	b := oops.In("plugin").
		Code(CodeLifecycleHookFailed).
		With("plugin_id", id).
		With("hook", string(hook))
	return wrapOwn(b, cause, "%s hook of plugin %s failed", hook, id)
}

func errLoad(id string, runtime Runtime, cause error) error {
	b := oops.In("plugin").
		Code(CodeLoadFailed).
		With("plugin_id", id).
		With("runtime", string(runtime))
	return wrapOwn(b, cause, "loading plugin %s", id)
}

func errState(id string, state State, op Operation) error {
	return oops.In("plugin").
		Code(CodeRegistryState).
		With("plugin_id", id).
		With("state", string(state)).
		With("operation", string(op)).
		Errorf("cannot %s plugin %s in state %s", op, id, state)
}

func errDependents(id string, op Operation, dependents []string) error {
	return oops.In("plugin").
		Code(CodeRegistryState).
		With("plugin_id", id).
		With("operation", string(op)).
		With("dependents", dependents).
		Hint("deactivate the dependent plugins first").
		Errorf("cannot %s plugin %s: active plugins depend on it: %s", op, id, strings.Join(dependents, ", "))
}

func errMissingHandler(id, kind, name string) error {
	return oops.In("plugin").
		Code(CodeHandlerNotFound).
		With("plugin_id", id).
		With("kind", kind).
		With("handler", name).
		Errorf("plugin %s does not provide %s handler %q", id, kind, name)
}

func errBusy(id string) error {
	return oops.In("plugin").
		Code(CodePluginBusy).
		With("plugin_id", id).
		Wrapf(ErrPluginBusy, "plugin %s has a transition in flight", id)
}

func errNotFound(id string) error {
	return oops.In("plugin").
		Code(CodePluginNotFound).
		With("plugin_id", id).
		Wrapf(ErrPluginNotFound, "plugin %s", id)
}

// IsCode reports whether err is an oops error carrying code.
func IsCode(err error, code string) bool {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	return oopsErr.Code() == code
}
