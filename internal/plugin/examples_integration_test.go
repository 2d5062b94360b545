// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

//go:build integration

package plugin_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/PolycarpusTack/Alexandria-sub004/internal/eventbus"
	plugins "github.com/PolycarpusTack/Alexandria-sub004/internal/plugin"
	"github.com/PolycarpusTack/Alexandria-sub004/internal/plugin/goplugin"
	pluginlua "github.com/PolycarpusTack/Alexandria-sub004/internal/plugin/lua"
	"github.com/PolycarpusTack/Alexandria-sub004/internal/route"
	pluginpkg "github.com/PolycarpusTack/Alexandria-sub004/pkg/plugin"
)

var _ = Describe("Bundled example plugins", func() {
	var (
		ctx    context.Context
		bus    *eventbus.Bus
		routes *route.Table
		reg    *plugins.Registry
	)

	BeforeEach(func() {
		ctx = context.Background()
		bus = eventbus.New()
		routes = route.NewTable()
		reg = plugins.NewRegistry(bus,
			plugins.WithLoader(plugins.RuntimeLua, pluginlua.NewLoader()),
			plugins.WithLoader(plugins.RuntimeBinary, goplugin.NewLoader()),
			plugins.WithRouteTable(routes),
			plugins.WithLogger(slog.New(slog.DiscardHandler)),
		)
		DeferCleanup(func() { _ = reg.Close(context.Background()) })

		result, err := reg.Discover(ctx, filepath.Join("..", "..", "plugins"))
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Rejected).To(BeEmpty())
	})

	It("discovers every bundled manifest", func() {
		ids := make([]string, 0)
		for _, info := range reg.List() {
			ids = append(ids, info.ID())
			Expect(info.State).To(Equal(plugins.StateDiscovered))
		}
		Expect(ids).To(ConsistOf("echo", "greeter"))
	})

	It("runs the greeter end to end", func() {
		Expect(reg.Activate(ctx, "greeter")).To(Succeed())

		replies := make(chan pluginpkg.Event, 1)
		_, err := bus.Subscribe("greet.reply", "", func(_ context.Context, e pluginpkg.Event) error {
			replies <- e
			return nil
		})
		Expect(err).NotTo(HaveOccurred())

		report, err := bus.Publish(ctx, "greet.request", []byte(`{"name":"ada"}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Failed()).To(BeFalse())

		var reply pluginpkg.Event
		Eventually(replies).Should(Receive(&reply))
		var body map[string]any
		Expect(json.Unmarshal(reply.Payload, &body)).To(Succeed())
		Expect(body).To(HaveKeyWithValue("message", "hello, ada"))

		By("reporting a handler failure for a nameless request")
		report, err = bus.Publish(ctx, "greet.request", []byte(`{}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Failed()).To(BeTrue())

		By("serving its route")
		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/greet?name=bob", nil))
		Expect(rec.Code).To(Equal(http.StatusOK))
		data, err := io.ReadAll(rec.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring(`"hello, bob"`))

		By("dropping subscriptions and routes on deactivation")
		Expect(reg.Deactivate(ctx, "greeter")).To(Succeed())
		Expect(bus.Subscribers("greet.request")).To(BeZero())
		rec = httptest.NewRecorder()
		routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/greet", nil))
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("fails the echo plugin cleanly when its binary is not built", func() {
		err := reg.Activate(ctx, "echo")
		Expect(err).To(HaveOccurred())

		info, ok := reg.Get("echo")
		Expect(ok).To(BeTrue())
		Expect(info.State).To(Equal(plugins.StateFailed))
		Expect(info.LastError).NotTo(BeEmpty())
		Expect(routes.Routes()).To(BeEmpty())
	})
})
