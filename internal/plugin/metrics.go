// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package plugin

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels used by the registry metrics.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// TransitionCounter counts lifecycle operations by operation and outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var TransitionCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "alexandria_plugin_transitions_total",
		Help: "Total number of plugin lifecycle operations",
	},
	[]string{"operation", "outcome"},
)

// HookDuration observes lifecycle hook run time.
var HookDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "alexandria_plugin_hook_duration_seconds",
		Help:    "Time spent in plugin lifecycle hooks",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10},
	},
	[]string{"hook", "outcome"},
)

// PluginsByState reports how many plugins the registry holds per state.
var PluginsByState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "alexandria_plugins",
		Help: "Number of registered plugins by lifecycle state",
	},
	[]string{"state"},
)

// RegisterMetrics registers the registry metrics with reg.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(TransitionCounter)
	reg.MustRegister(HookDuration)
	reg.MustRegister(PluginsByState)
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

func observeTransition(op Operation, err error) {
	TransitionCounter.WithLabelValues(string(op), outcome(err)).Inc()
}

func observeHook(hook Hook, d time.Duration, err error) {
	HookDuration.WithLabelValues(string(hook), outcome(err)).Observe(d.Seconds())
}

// observeStates publishes per-state counts from a committed snapshot.
func observeStates(snapshot map[string]PluginInfo) {
	counts := make(map[State]int, len(States))
	for _, info := range snapshot {
		counts[info.State]++
	}
	for _, s := range States {
		PluginsByState.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}
