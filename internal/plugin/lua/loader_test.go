// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package lua_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PolycarpusTack/Alexandria-sub004/internal/eventbus"
	plugins "github.com/PolycarpusTack/Alexandria-sub004/internal/plugin"
	pluginlua "github.com/PolycarpusTack/Alexandria-sub004/internal/plugin/lua"
	"github.com/PolycarpusTack/Alexandria-sub004/internal/route"
	pluginpkg "github.com/PolycarpusTack/Alexandria-sub004/pkg/plugin"
)

func TestLoader_Errors(t *testing.T) {
	tests := []struct {
		name string
		main string
		code string
		want string
	}{
		{"syntax error", "main.lua", `function (`, ""},
		{"runtime error in chunk", "main.lua", `error("boom")`, "boom"},
		{"missing entry", "other.lua", `x = 1`, ""},
		{"entry escapes directory", "../main.lua", `x = 1`, ""},
		{"sandboxed library", "main.lua", `os.exit(1)`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeScript(t, tt.code)
			m := &plugins.Manifest{ID: "script", Name: "Script", Version: "1.0.0", Main: tt.main}

			p, err := pluginlua.NewLoader().Load(context.Background(), m, dir, newFakeHost())
			require.Error(t, err)
			assert.Nil(t, p)
			if tt.want != "" {
				assert.Contains(t, err.Error(), tt.want)
			}
		})
	}
}

func TestLoader_RequiresDirectory(t *testing.T) {
	m := &plugins.Manifest{ID: "script", Name: "Script", Version: "1.0.0", Main: "main.lua"}
	_, err := pluginlua.NewLoader().Load(context.Background(), m, "", newFakeHost())
	assert.Error(t, err)
}

func TestLoader_TopLevelChunkRunsOnce(t *testing.T) {
	host := newFakeHost()
	load(t, host, `host.log("debug", "loaded")`)
	assert.Equal(t, []string{"loaded"}, host.messages())
}

const greeterManifest = `id: greeter
name: Greeter
version: 1.0.0
main: main.lua
permissions:
  - events.subscribe.greet.*
  - events.publish.greet.*
eventSubscriptions:
  - topic: greet.request
    handler: on_greet
apiEndpoints:
  - method: GET
    path: /greet
    handler: http_greet
`

const greeterScript = `
function on_greet(event)
  host.publish("greet.reply", { message = "hello, " .. event.data.name })
end

function http_greet(req)
  return 200, "hello, " .. (req.query.name or "world"), { ["Content-Type"] = "text/plain" }
end
`

func TestLuaPlugin_ThroughRegistry(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "greeter")
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte(greeterManifest), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"), []byte(greeterScript), 0o600))

	ctx := context.Background()
	bus := eventbus.New()
	routes := route.NewTable()
	reg := plugins.NewRegistry(bus,
		plugins.WithLoader(plugins.RuntimeLua, pluginlua.NewLoader()),
		plugins.WithRouteTable(routes),
		plugins.WithLogger(slog.New(slog.DiscardHandler)),
	)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	result, err := reg.Discover(ctx, root)
	require.NoError(t, err)
	require.Empty(t, result.Rejected)
	require.Len(t, result.Discovered, 1)

	require.NoError(t, reg.Activate(ctx, "greeter"))
	info, ok := reg.Get("greeter")
	require.True(t, ok)
	assert.Equal(t, plugins.StateActive, info.State)

	replies := make(chan pluginpkg.Event, 1)
	_, err = bus.Subscribe("greet.reply", "", func(_ context.Context, e pluginpkg.Event) error {
		replies <- e
		return nil
	})
	require.NoError(t, err)

	report, err := bus.Publish(ctx, "greet.request", []byte(`{"name":"ada"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Delivered)
	assert.False(t, report.Failed())

	select {
	case e := <-replies:
		assert.Equal(t, "greeter", e.Publisher)
		var body map[string]string
		require.NoError(t, json.Unmarshal(e.Payload, &body))
		assert.Equal(t, "hello, ada", body["message"])
	case <-time.After(2 * time.Second):
		t.Fatal("no reply published")
	}

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/greet?name=bob", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello, bob", rec.Body.String())

	require.NoError(t, reg.Deactivate(ctx, "greeter"))
	assert.Zero(t, bus.Subscribers("greet.request"))

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/greet", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
