// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package plugin

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/PolycarpusTack/Alexandria-sub004/internal/eventbus"
	"github.com/PolycarpusTack/Alexandria-sub004/internal/plugin/capability"
	"github.com/PolycarpusTack/Alexandria-sub004/internal/route"
	"github.com/PolycarpusTack/Alexandria-sub004/pkg/errutil"
	pluginpkg "github.com/PolycarpusTack/Alexandria-sub004/pkg/plugin"
)

// Registry owns the plugin table and drives plugins through their
// lifecycle.
//
// Mutations are serialized by a single mutex held for the whole
// transition, hooks included. Reads are served from a copy-on-write
// snapshot that only ever holds committed state.
type Registry struct {
	mu      sync.Mutex // serializes mutations
	records map[string]*record

	snapshot atomic.Pointer[map[string]PluginInfo]

	flightMu sync.Mutex
	inflight map[string]int // id -> transitions requested and not yet returned

	bus         *eventbus.Bus
	routes      RouteTable
	enforcer    *capability.Enforcer
	services    ServiceLocator
	loaders     map[Runtime]Loader
	journal     Journal
	platform    *semver.Version
	hookTimeout time.Duration
	logger      *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLoader sets the loader for a runtime.
func WithLoader(rt Runtime, l Loader) RegistryOption {
	return func(r *Registry) {
		r.loaders[rt] = l
	}
}

// WithRouteTable sets the table plugin routes are registered in.
func WithRouteTable(t RouteTable) RegistryOption {
	return func(r *Registry) {
		if t != nil {
			r.routes = t
		}
	}
}

// WithEnforcer sets the capability enforcer holding plugin grants.
func WithEnforcer(e *capability.Enforcer) RegistryOption {
	return func(r *Registry) {
		if e != nil {
			r.enforcer = e
		}
	}
}

// WithServices sets the services plugins may look up.
func WithServices(s ServiceLocator) RegistryOption {
	return func(r *Registry) {
		if s != nil {
			r.services = s
		}
	}
}

// WithJournal records every committed transition in j.
func WithJournal(j Journal) RegistryOption {
	return func(r *Registry) {
		r.journal = j
	}
}

// WithPlatformVersion enables the minPlatformVersion gate.
func WithPlatformVersion(v *semver.Version) RegistryOption {
	return func(r *Registry) {
		r.platform = v
	}
}

// WithHookTimeout bounds each lifecycle hook. Zero disables the bound.
func WithHookTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.hookTimeout = d
	}
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates a registry that wires plugins to bus. The registry
// does not own bus until Close is called.
func NewRegistry(bus *eventbus.Bus, opts ...RegistryOption) *Registry {
	if bus == nil {
		bus = eventbus.New()
	}
	r := &Registry{
		records:     make(map[string]*record),
		inflight:    make(map[string]int),
		bus:         bus,
		routes:      route.NewTable(),
		enforcer:    capability.NewEnforcer(),
		services:    Services{},
		loaders:     map[Runtime]Loader{RuntimeBuiltin: NewBuiltinLoader()},
		hookTimeout: DefaultHookTimeout,
		logger:      slog.Default(),
	}
	empty := map[string]PluginInfo{}
	r.snapshot.Store(&empty)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bus returns the event bus plugins are wired to.
func (r *Registry) Bus() *eventbus.Bus { return r.bus }

// txn collects the transitions committed by one mutation.
type txn struct {
	reg     *Registry
	entries []Transition
}

// commit publishes rec's current state to readers and queues a journal
// entry. cause is the error that drove the transition, if any.
func (tx *txn) commit(rec *record, op Operation, from State, cause error) {
	rec.generation++
	t := Transition{
		PluginID:  rec.manifest.ID,
		Version:   rec.manifest.Version,
		Operation: op,
		From:      from,
		To:        rec.state,
		At:        time.Now().UTC(),
	}
	if cause != nil {
		t.Error = cause.Error()
	}
	tx.entries = append(tx.entries, t)

	next := maps.Clone(*tx.reg.snapshot.Load())
	if rec.state == StateUninstalled {
		delete(next, rec.manifest.ID)
	} else {
		next[rec.manifest.ID] = rec.info()
	}
	tx.reg.snapshot.Store(&next)
	observeStates(next)

	tx.reg.logger.Info("plugin transition",
		"plugin_id", t.PluginID,
		"version", t.Version,
		"operation", string(op),
		"from", string(from),
		"to", string(t.To))
}

func (r *Registry) enter(id string) {
	r.flightMu.Lock()
	r.inflight[id]++
	r.flightMu.Unlock()
}

func (r *Registry) leave(id string) {
	r.flightMu.Lock()
	if r.inflight[id]--; r.inflight[id] <= 0 {
		delete(r.inflight, id)
	}
	r.flightMu.Unlock()
}

func (r *Registry) busy(id string) bool {
	r.flightMu.Lock()
	defer r.flightMu.Unlock()
	return r.inflight[id] > 0
}

// mutate runs fn under the registry mutex and writes the transitions it
// committed to the journal once the mutex is released.
func (r *Registry) mutate(ctx context.Context, id string, op Operation, fn func(context.Context, *txn) error) error {
	ctx, span := tracer.Start(ctx, "plugin."+string(op),
		trace.WithAttributes(attribute.String("plugin.id", id)))
	defer span.End()

	r.enter(id)
	defer r.leave(id)

	tx := &txn{reg: r}
	r.mu.Lock()
	err := fn(ctx, tx)
	r.mu.Unlock()

	observeTransition(op, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	r.writeJournal(ctx, tx.entries)
	return err
}

func (r *Registry) writeJournal(ctx context.Context, entries []Transition) {
	if r.journal == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, t := range entries {
		if err := r.journal.Append(ctx, t); err != nil {
			errutil.LogError(r.logger, "journal append failed", err)
		}
	}
}

// known returns the committed snapshot. Callers must not modify it.
func (r *Registry) known() map[string]PluginInfo {
	return *r.snapshot.Load()
}

func (r *Registry) lookup(id string) (*record, error) {
	rec, ok := r.records[id]
	if !ok {
		return nil, errNotFound(id)
	}
	return rec, nil
}

// Register adds a validated manifest as a DISCOVERED plugin. path is the
// directory it was found in, or empty.
func (r *Registry) Register(ctx context.Context, m *Manifest, path string) error {
	if m == nil {
		return errValidation("", []FieldError{{Field: "manifest", Message: "is required"}})
	}
	if err := m.Validate(r.platform); err != nil {
		return err
	}
	return r.mutate(ctx, m.ID, OpDiscover, func(_ context.Context, tx *txn) error {
		if existing, ok := r.records[m.ID]; ok {
			return errDuplicate(m.ID, existing.path)
		}
		rec := &record{manifest: m.Clone(), path: path, state: StateDiscovered}
		r.records[m.ID] = rec
		tx.commit(rec, OpDiscover, "", nil)
		return nil
	})
}

// Install moves a DISCOVERED plugin to INSTALLED once its dependencies are
// installed. On failure nothing changes.
func (r *Registry) Install(ctx context.Context, id string) error {
	return r.mutate(ctx, id, OpInstall, func(_ context.Context, tx *txn) error {
		rec, err := r.lookup(id)
		if err != nil {
			return err
		}
		return r.install(tx, rec)
	})
}

func (r *Registry) install(tx *txn, rec *record) error {
	id := rec.manifest.ID
	next, err := checkTransition(id, rec.state, OpInstall)
	if err != nil {
		return err
	}
	if err := CheckInstallable(rec.manifest, r.known()); err != nil {
		return err
	}
	from := rec.state
	rec.state = next
	tx.commit(rec, OpInstall, from, nil)
	return nil
}

// Activate brings a plugin to ACTIVE. A DISCOVERED plugin is installed
// first. Every dependency must be ACTIVE at a satisfying version. If
// loading, a hook or wiring fails, everything registered during the
// attempt is removed, the instance is discarded and the plugin is FAILED.
func (r *Registry) Activate(ctx context.Context, id string) error {
	return r.mutate(ctx, id, OpActivate, func(ctx context.Context, tx *txn) error {
		rec, err := r.lookup(id)
		if err != nil {
			return err
		}
		if rec.state != StateDiscovered {
			if _, err := checkTransition(id, rec.state, OpActivate); err != nil {
				return err
			}
		}
		// Checked before the implicit install so a refused activation
		// leaves a DISCOVERED plugin DISCOVERED.
		if err := CheckActivatable(rec.manifest, r.known()); err != nil {
			return err
		}
		if rec.state == StateDiscovered {
			if err := r.install(tx, rec); err != nil {
				return err
			}
		}
		return r.activate(ctx, tx, rec, OpActivate)
	})
}

// activate runs the activation sequence and commits ACTIVE or FAILED.
func (r *Registry) activate(ctx context.Context, tx *txn, rec *record, op Operation) error {
	from := rec.state
	if err := r.bringUp(ctx, rec); err != nil {
		r.teardown(rec, true)
		rec.state = StateFailed
		rec.lastErr = err
		tx.commit(rec, op, from, err)
		errutil.LogError(r.logger, "plugin activation failed", err)
		return err
	}
	rec.state = StateActive
	rec.activatedAt = time.Now().UTC()
	rec.lastErr = nil
	tx.commit(rec, op, from, nil)
	return nil
}

func (r *Registry) bringUp(ctx context.Context, rec *record) error {
	id := rec.manifest.ID

	if rec.instance == nil {
		rt := rec.manifest.ResolvedRuntime()
		loader, ok := r.loaders[rt]
		if !ok {
			return errLoad(id, rt, fmt.Errorf("no loader for runtime %q", rt))
		}
		host := newHostAPI(id, r.bus, r.routes, r.enforcer, r.services, r.logger)
		inst, err := loader.Load(ctx, rec.manifest, rec.path, host)
		if err != nil {
			return errLoad(id, rt, err)
		}
		rec.instance, rec.host, rec.installed = inst, host, false
	}

	if err := r.enforcer.SetGrants(id, rec.manifest.Permissions); err != nil {
		return err
	}
	rec.host.enable()

	if !rec.installed {
		if err := runHook(ctx, r.hookTimeout, id, rec.instance, HookInstall); err != nil {
			return err
		}
		rec.installed = true
	}
	if err := runHook(ctx, r.hookTimeout, id, rec.instance, HookActivate); err != nil {
		return err
	}
	return r.wire(rec)
}

// wire registers the subscriptions and endpoints the manifest declares.
func (r *Registry) wire(rec *record) error {
	id := rec.manifest.ID

	for _, s := range rec.manifest.EventSubscriptions {
		var h pluginpkg.Handler
		handlers, ok := rec.instance.(pluginpkg.EventHandlers)
		if ok {
			h, ok = handlers.EventHandler(s.Handler)
		}
		if !ok || h == nil {
			return errMissingHandler(id, "event", s.Handler)
		}
		if _, err := r.bus.Subscribe(s.Topic, id, h); err != nil {
			return err
		}
	}

	for _, ep := range rec.manifest.APIEndpoints {
		var h http.Handler
		handlers, ok := rec.instance.(pluginpkg.RouteHandlers)
		if ok {
			h, ok = handlers.RouteHandler(ep.Handler)
		}
		if !ok || h == nil {
			return errMissingHandler(id, "route", ep.Handler)
		}
		if err := r.routes.Register(id, ep.Method, ep.Path, h); err != nil {
			return err
		}
	}
	return nil
}

// teardown removes everything the plugin registered. With discard the
// instance is closed and dropped as well.
func (r *Registry) teardown(rec *record, discard bool) {
	id := rec.manifest.ID
	if rec.host != nil {
		rec.host.disable()
	}
	r.bus.RemoveOwner(id)
	r.routes.RemoveOwner(id)
	r.enforcer.RemoveGrants(id)

	if !discard || rec.instance == nil {
		return
	}
	if err := closeInstance(rec.instance); err != nil {
		errutil.LogWarn(r.logger.With("plugin_id", id), "closing plugin instance failed", err)
	}
	rec.instance, rec.host, rec.installed = nil, nil, false
}

// Deactivate moves an ACTIVE plugin to DEACTIVATED. The OnDeactivate hook
// is best effort: its failure is logged and the plugin's subscriptions,
// routes and grants are removed regardless. Deactivating a DEACTIVATED
// plugin does nothing.
func (r *Registry) Deactivate(ctx context.Context, id string) error {
	return r.mutate(ctx, id, OpDeactivate, func(ctx context.Context, tx *txn) error {
		rec, err := r.lookup(id)
		if err != nil {
			return err
		}
		next, err := checkTransition(id, rec.state, OpDeactivate)
		if err != nil {
			return err
		}
		if rec.state == StateDeactivated {
			return nil
		}
		if deps := Dependents(id, r.known()); len(deps) > 0 {
			r.logger.Warn("deactivating plugin with active dependents",
				"plugin_id", id, "dependents", deps)
		}
		r.deactivate(ctx, rec)
		from := rec.state
		rec.state = next
		tx.commit(rec, OpDeactivate, from, nil)
		return nil
	})
}

func (r *Registry) deactivate(ctx context.Context, rec *record) {
	if err := runHook(ctx, r.hookTimeout, rec.manifest.ID, rec.instance, HookDeactivate); err != nil {
		errutil.LogWarn(r.logger, "deactivate hook failed, cleanup continues", err)
	}
	r.teardown(rec, false)
}

// Uninstall removes an INSTALLED, DEACTIVATED or FAILED plugin. It is
// refused while ACTIVE plugins depend on it, and fails fast with
// PLUGIN_BUSY while another transition of the plugin is in flight or
// commits before the uninstall acquires the registry.
func (r *Registry) Uninstall(ctx context.Context, id string) error {
	info, ok := r.Get(id)
	if !ok {
		return errNotFound(id)
	}
	if r.busy(id) {
		return errBusy(id)
	}
	generation := info.Generation

	return r.mutate(ctx, id, OpUninstall, func(ctx context.Context, tx *txn) error {
		rec, err := r.lookup(id)
		if err != nil {
			return err
		}
		if rec.generation != generation {
			return errBusy(id)
		}
		if deps := Dependents(id, r.known()); len(deps) > 0 {
			return errDependents(id, OpUninstall, deps)
		}
		next, err := checkTransition(id, rec.state, OpUninstall)
		if err != nil {
			return err
		}
		if rec.instance != nil {
			if err := runHook(ctx, r.hookTimeout, id, rec.instance, HookUninstall); err != nil {
				errutil.LogWarn(r.logger, "uninstall hook failed, removing plugin anyway", err)
			}
		}
		r.teardown(rec, true)
		delete(r.records, id)

		from := rec.state
		rec.state = next
		tx.commit(rec, OpUninstall, from, nil)
		return nil
	})
}

// Update replaces a plugin's manifest and discards its instance. An ACTIVE
// plugin is deactivated and re-activated with the new manifest; if that
// fails it is left FAILED and the previous version is not restored. Other
// updatable states end in INSTALLED. Updates that would break the range an
// ACTIVE dependent declares are refused without changes.
func (r *Registry) Update(ctx context.Context, id string, m *Manifest, path string) error {
	if m == nil {
		return errValidation(id, []FieldError{{Field: "manifest", Message: "is required"}})
	}
	if m.ID != id {
		return errValidation(id, []FieldError{{Field: "id", Message: fmt.Sprintf("%q does not match plugin %q", m.ID, id)}})
	}
	if err := m.Validate(r.platform); err != nil {
		return err
	}

	return r.mutate(ctx, id, OpUpdate, func(ctx context.Context, tx *txn) error {
		rec, err := r.lookup(id)
		if err != nil {
			return err
		}
		next, err := checkTransition(id, rec.state, OpUpdate)
		if err != nil {
			return err
		}

		known := r.known()
		if err := CheckUpdate(id, m.SemVer(), known); err != nil {
			return err
		}
		wasActive := rec.state == StateActive
		if wasActive {
			err = CheckActivatable(m, known)
		} else {
			err = CheckInstallable(m, known)
		}
		if err != nil {
			return err
		}

		if wasActive {
			r.deactivate(ctx, rec)
		}
		r.teardown(rec, true)
		rec.manifest = m.Clone()
		if path != "" {
			rec.path = path
		}

		if wasActive {
			return r.activate(ctx, tx, rec, OpUpdate)
		}
		from := rec.state
		rec.state = next
		rec.lastErr = nil
		tx.commit(rec, OpUpdate, from, nil)
		return nil
	})
}

// Get returns the committed view of one plugin.
func (r *Registry) Get(id string) (PluginInfo, bool) {
	info, ok := r.known()[id]
	return info, ok
}

// List returns every registered plugin sorted by id.
func (r *Registry) List() []PluginInfo {
	snap := r.known()
	out := make([]PluginInfo, 0, len(snap))
	for _, id := range slices.Sorted(maps.Keys(snap)) {
		out = append(out, snap[id])
	}
	return out
}

// Active returns the ACTIVE plugins in activation order.
func (r *Registry) Active() []PluginInfo {
	var out []PluginInfo
	for _, info := range r.known() {
		if info.State == StateActive {
			out = append(out, info)
		}
	}
	slices.SortFunc(out, func(a, b PluginInfo) int {
		if c := a.ActivatedAt.Compare(b.ActivatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID(), b.ID())
	})
	return out
}

// Order returns the topological order of every registered plugin.
func (r *Registry) Order() ([]string, error) {
	return TopologicalOrder(manifests(r.List()))
}

func manifests(infos []PluginInfo) []*Manifest {
	out := make([]*Manifest, len(infos))
	for i, info := range infos {
		out[i] = info.Manifest
	}
	return out
}

// BootstrapResult summarizes a Bootstrap run.
type BootstrapResult struct {
	Activated []string
	Failed    map[string]error
	// Blocked lists plugins skipped because they sit on, or depend on, a
	// dependency cycle. Cycle describes the cycle.
	Blocked []string
	Cycle   error
}

// Bootstrap installs and activates every DISCOVERED, INSTALLED or
// DEACTIVATED plugin in dependency order. A failing plugin does not stop
// the others; plugins on a dependency cycle are skipped.
func (r *Registry) Bootstrap(ctx context.Context) BootstrapResult {
	var candidates []PluginInfo
	for _, info := range r.List() {
		switch info.State {
		case StateDiscovered, StateInstalled, StateDeactivated:
			candidates = append(candidates, info)
		}
	}

	result := BootstrapResult{Failed: make(map[string]error)}
	ms := manifests(candidates)
	order, blocked := PartialOrder(ms)
	if len(blocked) > 0 {
		_, result.Cycle = TopologicalOrder(ms)
		result.Blocked = blocked
		errutil.LogError(r.logger, "skipping plugins on a dependency cycle", result.Cycle)
	}

	for _, id := range order {
		if err := r.Activate(ctx, id); err != nil {
			result.Failed[id] = err
			continue
		}
		result.Activated = append(result.Activated, id)
	}
	return result
}

// Close deactivates every ACTIVE plugin, dependents before their
// dependencies, then closes the bus.
func (r *Registry) Close(ctx context.Context) error {
	order, _ := PartialOrder(manifests(r.Active()))
	slices.Reverse(order)
	for _, id := range order {
		if err := r.Deactivate(ctx, id); err != nil {
			errutil.LogError(r.logger, "deactivate on shutdown failed", err)
		}
	}
	return r.bus.Close(ctx)
}
