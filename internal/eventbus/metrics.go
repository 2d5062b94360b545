// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package eventbus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EventsPublished counts published events by topic.
// Use RegisterMetrics to register this with a Prometheus registry.
var EventsPublished = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "alexandria_bus_events_published_total",
		Help: "Total number of events published on the bus",
	},
	[]string{"topic"},
)

// DeliveryFailures counts subscriber failures by topic and owner.
var DeliveryFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "alexandria_bus_delivery_failures_total",
		Help: "Total number of failed subscriber invocations",
	},
	[]string{"topic", "owner"},
)

// DeliveryDuration observes the time to deliver one event to all of its
// subscribers.
var DeliveryDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "alexandria_bus_delivery_duration_seconds",
		Help:    "Time to deliver an event to every subscriber",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"topic"},
)

// RegisterMetrics registers the bus metrics with reg.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(EventsPublished)
	reg.MustRegister(DeliveryFailures)
	reg.MustRegister(DeliveryDuration)
}

func recordDelivery(topic string, d time.Duration) {
	EventsPublished.WithLabelValues(topic).Inc()
	DeliveryDuration.WithLabelValues(topic).Observe(d.Seconds())
}

func recordFailure(topic, owner string) {
	if owner == "" {
		owner = "host"
	}
	DeliveryFailures.WithLabelValues(topic, owner).Inc()
}
