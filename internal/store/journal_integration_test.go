// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	plugins "github.com/PolycarpusTack/Alexandria-sub004/internal/plugin"
	"github.com/PolycarpusTack/Alexandria-sub004/internal/store"
)

var _ = Describe("Journal", func() {
	var (
		ctx     context.Context
		journal *store.Journal
		base    time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		journal = store.NewJournal(pool)
		base = time.Now().UTC().Truncate(time.Millisecond)

		_, err := pool.Exec(ctx, "TRUNCATE plugin_transitions")
		Expect(err).NotTo(HaveOccurred())
	})

	It("returns appended transitions newest first", func() {
		steps := []plugins.Transition{
			{PluginID: "alpha", Version: "1.0.0", Operation: plugins.OpInstall, From: plugins.StateDiscovered, To: plugins.StateInstalled, At: base},
			{PluginID: "alpha", Version: "1.0.0", Operation: plugins.OpActivate, From: plugins.StateInstalled, To: plugins.StateActive, At: base.Add(time.Second)},
			{PluginID: "beta", Version: "0.2.0", Operation: plugins.OpInstall, From: plugins.StateDiscovered, To: plugins.StateFailed, Error: "hook failed", At: base.Add(2 * time.Second)},
		}
		for _, tr := range steps {
			Expect(journal.Append(ctx, tr)).To(Succeed())
		}

		alpha, err := journal.History(ctx, store.HistoryQuery{PluginID: "alpha"})
		Expect(err).NotTo(HaveOccurred())
		Expect(alpha).To(HaveLen(2))
		Expect(alpha[0].Operation).To(Equal(plugins.OpActivate))
		Expect(alpha[1].Operation).To(Equal(plugins.OpInstall))
		Expect(alpha[0].At.Equal(base.Add(time.Second))).To(BeTrue())

		all, err := journal.History(ctx, store.HistoryQuery{})
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(3))
		Expect(all[0].PluginID).To(Equal("beta"))
		Expect(all[0].Error).To(Equal("hook failed"))
		Expect(all[1].Error).To(BeEmpty())
	})

	It("honours limit and before", func() {
		for i := range 5 {
			Expect(journal.Append(ctx, plugins.Transition{
				PluginID:  "alpha",
				Version:   "1.0.0",
				Operation: plugins.OpActivate,
				From:      plugins.StateInstalled,
				To:        plugins.StateActive,
				At:        base.Add(time.Duration(i) * time.Second),
			})).To(Succeed())
		}

		limited, err := journal.History(ctx, store.HistoryQuery{Limit: 2})
		Expect(err).NotTo(HaveOccurred())
		Expect(limited).To(HaveLen(2))

		older, err := journal.History(ctx, store.HistoryQuery{Before: base.Add(2 * time.Second)})
		Expect(err).NotTo(HaveOccurred())
		Expect(older).To(HaveLen(2))
		for _, tr := range older {
			Expect(tr.At.Before(base.Add(2 * time.Second))).To(BeTrue())
		}
	})

	It("rejects unknown operations at the schema level", func() {
		err := journal.Append(ctx, plugins.Transition{
			PluginID:  "alpha",
			Version:   "1.0.0",
			Operation: plugins.Operation("explode"),
			From:      plugins.StateInstalled,
			To:        plugins.StateActive,
			At:        base,
		})
		Expect(err).To(HaveOccurred())
	})
})
