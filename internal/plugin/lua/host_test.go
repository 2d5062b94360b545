// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package lua_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	plugins "github.com/PolycarpusTack/Alexandria-sub004/internal/plugin"
	pluginlua "github.com/PolycarpusTack/Alexandria-sub004/internal/plugin/lua"
	pluginpkg "github.com/PolycarpusTack/Alexandria-sub004/pkg/plugin"
)

type logEntry struct {
	level   pluginpkg.LogLevel
	message string
	fields  map[string]any
}

type published struct {
	topic   string
	payload string
}

// fakeHost records every host API call made by a script.
type fakeHost struct {
	mu        sync.Mutex
	logs      []logEntry
	published []published
	handlers  map[string]pluginpkg.Handler
	routes    map[string]http.Handler
	denyAll   bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		handlers: make(map[string]pluginpkg.Handler),
		routes:   make(map[string]http.Handler),
	}
}

func (h *fakeHost) PluginID() string { return "script" }

func (h *fakeHost) Log(level pluginpkg.LogLevel, message string, fields map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logs = append(h.logs, logEntry{level, message, fields})
}

func (h *fakeHost) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.logs))
	for _, l := range h.logs {
		out = append(out, l.message)
	}
	return out
}

func (h *fakeHost) Events() pluginpkg.Events { return fakeEvents{h} }

func (h *fakeHost) RegisterRoute(method, path string, handler http.Handler) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.routes[method+" "+path] = handler
	return nil
}

func (h *fakeHost) Service(string) (any, error) { return nil, assert.AnError }

type fakeEvents struct{ h *fakeHost }

func (e fakeEvents) Publish(ctx context.Context, topic string, payload []byte) (pluginpkg.Report, error) {
	ch, err := e.PublishAsync(ctx, topic, payload)
	if err != nil {
		return pluginpkg.Report{}, err
	}
	return <-ch, nil
}

func (e fakeEvents) PublishAsync(_ context.Context, topic string, payload []byte) (<-chan pluginpkg.Report, error) {
	e.h.mu.Lock()
	defer e.h.mu.Unlock()
	if e.h.denyAll {
		return nil, assert.AnError
	}
	e.h.published = append(e.h.published, published{topic, string(payload)})
	ch := make(chan pluginpkg.Report, 1)
	ch <- pluginpkg.Report{Topic: topic}
	close(ch)
	return ch, nil
}

func (e fakeEvents) Subscribe(topic string, handler pluginpkg.Handler) (pluginpkg.Subscription, error) {
	e.h.mu.Lock()
	defer e.h.mu.Unlock()
	if e.h.denyAll {
		return nil, assert.AnError
	}
	e.h.handlers[topic] = handler
	return &fakeSub{id: "sub-" + topic, topic: topic, h: e.h}, nil
}

type fakeSub struct {
	id, topic string
	h         *fakeHost
}

func (s *fakeSub) ID() string    { return s.id }
func (s *fakeSub) Topic() string { return s.topic }
func (s *fakeSub) Unsubscribe() {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	delete(s.h.handlers, s.topic)
}

func writeScript(t *testing.T, code string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"), []byte(code), 0o600))
	return dir
}

func load(t *testing.T, host pluginpkg.HostAPI, code string) *pluginlua.Plugin {
	t.Helper()
	dir := writeScript(t, code)
	m := &plugins.Manifest{ID: "script", Name: "Script", Version: "1.0.0", Main: "main.lua"}
	p, err := pluginlua.NewLoader().Load(context.Background(), m, dir, host)
	require.NoError(t, err)
	lp, ok := p.(*pluginlua.Plugin)
	require.True(t, ok)
	t.Cleanup(func() { _ = lp.Close() })
	return lp
}

func TestPlugin_HooksCallGlobals(t *testing.T) {
	host := newFakeHost()
	p := load(t, host, `
function on_install() host.log("info", "install") end
function on_activate() host.log("info", "activate") end
function on_deactivate() host.log("info", "deactivate") end
function on_uninstall() host.log("info", "uninstall") end
`)
	ctx := context.Background()
	require.NoError(t, p.OnInstall(ctx))
	require.NoError(t, p.OnActivate(ctx))
	require.NoError(t, p.OnDeactivate(ctx))
	require.NoError(t, p.OnUninstall(ctx))

	assert.Equal(t, []string{"install", "activate", "deactivate", "uninstall"}, host.messages())
}

func TestPlugin_MissingHooksAreNoops(t *testing.T) {
	p := load(t, newFakeHost(), `x = 1`)
	assert.NoError(t, p.OnInstall(context.Background()))
	assert.NoError(t, p.OnUninstall(context.Background()))
}

func TestPlugin_HookErrorPropagates(t *testing.T) {
	p := load(t, newFakeHost(), `function on_activate() error("not today") end`)
	err := p.OnActivate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not today")
}

func TestPlugin_HookHonoursContext(t *testing.T) {
	p := load(t, newFakeHost(), `function on_activate() while true do end end`)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.Error(t, p.OnActivate(ctx))
}

func TestPlugin_LogFields(t *testing.T) {
	host := newFakeHost()
	p := load(t, host, `function on_activate() host.log("warn", "hello", {count = 2, tags = {"a", "b"}}) end`)
	require.NoError(t, p.OnActivate(context.Background()))

	require.Len(t, host.logs, 1)
	entry := host.logs[0]
	assert.Equal(t, pluginpkg.LevelWarn, entry.level)
	assert.Equal(t, map[string]any{"count": int64(2), "tags": []any{"a", "b"}}, entry.fields)
}

func TestPlugin_Publish(t *testing.T) {
	host := newFakeHost()
	p := load(t, host, `
function on_activate()
  assert(host.publish("a.text", "plain"))
  assert(host.publish("a.json", {n = 1}))
end
`)
	require.NoError(t, p.OnActivate(context.Background()))
	assert.Equal(t, []published{{"a.text", "plain"}, {"a.json", `{"n":1}`}}, host.published)
}

func TestPlugin_PublishErrorIsReturnedToScript(t *testing.T) {
	host := newFakeHost()
	host.denyAll = true
	p := load(t, host, `
function on_activate()
  local ok, err = host.publish("a.b", "x")
  if ok then error("expected failure") end
  host.log("info", err)
end
`)
	require.NoError(t, p.OnActivate(context.Background()))
	assert.Equal(t, []string{assert.AnError.Error()}, host.messages())
}

func TestPlugin_SubscribeAndUnsubscribe(t *testing.T) {
	host := newFakeHost()
	p := load(t, host, `
function on_activate()
  sub = host.subscribe("user.created", function(event)
    host.log("info", "created " .. event.data.name)
  end)
end
function on_deactivate()
  host.unsubscribe(sub)
end
`)
	ctx := context.Background()
	require.NoError(t, p.OnActivate(ctx))

	handler, ok := host.handlers["user.created"]
	require.True(t, ok)
	require.NoError(t, handler(ctx, pluginpkg.Event{Topic: "user.created", Payload: []byte(`{"name":"ada"}`)}))
	assert.Equal(t, []string{"created ada"}, host.messages())

	require.NoError(t, p.OnDeactivate(ctx))
	assert.Empty(t, host.handlers)
}

func TestPlugin_EventHandler(t *testing.T) {
	p := load(t, newFakeHost(), `
function ok_handler(event) seen = event.topic end
function failing(event) return false, "rejected " .. event.payload end
`)

	_, ok := p.EventHandler("missing")
	assert.False(t, ok)

	handler, ok := p.EventHandler("ok_handler")
	require.True(t, ok)
	assert.NoError(t, handler(context.Background(), pluginpkg.Event{Topic: "t"}))

	handler, ok = p.EventHandler("failing")
	require.True(t, ok)
	err := handler(context.Background(), pluginpkg.Event{Topic: "t", Payload: []byte("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected x")
}

func TestPlugin_RouteHandler(t *testing.T) {
	p := load(t, newFakeHost(), `
function as_json(req)
  return 201, {method = req.method, name = req.query.name}
end
function as_text(req)
  return 202, "got " .. req.body, {["Content-Type"] = "text/plain", ["X-Script"] = host.id}
end
function broken(req) error("kaput") end
function zero(req) return 0, "zero" end
function huge(req) return 1000, "huge" end
`)

	t.Run("table body is encoded as JSON", func(t *testing.T) {
		h, ok := p.RouteHandler("as_json")
		require.True(t, ok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x?name=ada", nil))
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"method":"GET","name":"ada"}`, rec.Body.String())
	})

	t.Run("string body with headers", func(t *testing.T) {
		h, ok := p.RouteHandler("as_text")
		require.True(t, ok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("ping")))
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "got ping", rec.Body.String())
		assert.Equal(t, "script", rec.Header().Get("X-Script"))
	})

	t.Run("script error is a 500", func(t *testing.T) {
		h, ok := p.RouteHandler("broken")
		require.True(t, ok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	for _, name := range []string{"zero", "huge"} {
		t.Run("status out of range is a 500: "+name, func(t *testing.T) {
			h, ok := p.RouteHandler(name)
			require.True(t, ok)
			rec := httptest.NewRecorder()
			require.NotPanics(t, func() {
				h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
			})
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Equal(t, name, rec.Body.String())
		})
	}

	_, ok := p.RouteHandler("missing")
	assert.False(t, ok)
}

func TestPlugin_RegisterRoute(t *testing.T) {
	host := newFakeHost()
	p := load(t, host, `
function ping(req) return 200, "pong" end
function on_activate() assert(host.register_route("GET", "/ping", "ping")) end
`)
	require.NoError(t, p.OnActivate(context.Background()))

	h, ok := host.routes["GET /ping"]
	require.True(t, ok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, "pong", rec.Body.String())
}

func TestPlugin_ClosedRejectsCalls(t *testing.T) {
	p := load(t, newFakeHost(), `function on_activate() end`)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	assert.Error(t, p.OnActivate(context.Background()))
	_, ok := p.EventHandler("on_activate")
	assert.False(t, ok)
}

func TestPlugin_NewID(t *testing.T) {
	host := newFakeHost()
	p := load(t, host, `
function on_activate()
  host.log("info", host.new_id())
  host.log("info", host.new_id())
end
`)
	require.NoError(t, p.OnActivate(context.Background()))

	ids := host.messages()
	require.Len(t, ids, 2)
	for _, id := range ids {
		_, err := ulid.Parse(id)
		assert.NoError(t, err, id)
	}
	assert.NotEqual(t, ids[0], ids[1])
}
