// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package plugin

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	pluginpkg "github.com/PolycarpusTack/Alexandria-sub004/pkg/plugin"
)

// Hook names one of the four lifecycle hooks.
type Hook string

// Lifecycle hooks.
const (
	HookInstall    Hook = "OnInstall"
	HookActivate   Hook = "OnActivate"
	HookDeactivate Hook = "OnDeactivate"
	HookUninstall  Hook = "OnUninstall"
)

// DefaultHookTimeout bounds a single lifecycle hook.
const DefaultHookTimeout = 10 * time.Second

// ErrHookTimeout is the cause of a LIFECYCLE_HOOK_FAILED error when the
// hook outlived its timeout. A hook abandoned because the caller's context
// ended carries that context's cause instead.
var ErrHookTimeout = errors.New("hook timed out")

var tracer = otel.Tracer("github.com/PolycarpusTack/Alexandria-sub004/internal/plugin")

func hookFunc(p pluginpkg.Plugin, hook Hook) func(context.Context) error {
	switch hook {
	case HookInstall:
		return p.OnInstall
	case HookActivate:
		return p.OnActivate
	case HookDeactivate:
		return p.OnDeactivate
	default:
		return p.OnUninstall
	}
}

// runHook calls one hook of p. A returned error, a panic, a hook still
// running when timeout expires, or the caller's context ending first all
// become a LIFECYCLE_HOOK_FAILED error. An abandoned hook keeps running in
// the background; its result is dropped.
func runHook(ctx context.Context, timeout time.Duration, id string, p pluginpkg.Plugin, hook Hook) error {
	ctx, span := tracer.Start(ctx, "plugin.hook")
	defer span.End()
	span.SetAttributes(
		attribute.String("plugin.id", id),
		attribute.String("plugin.hook", string(hook)),
	)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, timeout, ErrHookTimeout)
		defer cancel()
	}

	fn := hookFunc(p, hook)
	done := make(chan error, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v\n%s", r, debug.Stack())
			}
		}()
		done <- fn(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		cause := context.Cause(ctx)
		if errors.Is(cause, ErrHookTimeout) {
			err = fmt.Errorf("hook did not return within %s: %w", timeout, cause)
		} else {
			err = fmt.Errorf("hook abandoned, caller gave up: %w", cause)
		}
	}
	observeHook(hook, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errHook(id, hook, err)
	}
	return nil
}
