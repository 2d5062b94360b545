// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

// Package plugin defines the contract between the Alexandria host and its
// plugins: the lifecycle hooks a plugin implements, the host API it is
// handed at activation, and the event types exchanged over the bus.
package plugin

import (
	"context"
	"fmt"
	"time"
)

// Event is a single message published on the bus.
//
// Payload is opaque to the bus. Its shape is a contract between the
// publisher and the subscribers of a topic; JSON is the convention.
type Event struct {
	ID          string    `json:"id"`
	Topic       string    `json:"topic"`
	Payload     []byte    `json:"payload,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	// Publisher is the id of the plugin that published the event, or empty
	// when the host published it.
	Publisher string `json:"publisher,omitempty"`
}

// Handler receives events for a subscription. A returned error (or a panic)
// is captured into the publisher's Report and never reaches other
// subscribers.
type Handler func(ctx context.Context, event Event) error

// Report describes the outcome of delivering one event.
type Report struct {
	EventID string
	Topic   string
	// Delivered counts subscribers whose handler returned without error.
	Delivered int
	Errors    []*DeliveryError
}

// Failed reports whether any subscriber failed.
func (r Report) Failed() bool {
	return len(r.Errors) > 0
}

// DeliveryError records one subscriber's failure to handle an event.
// It is carried inside a Report and is never returned to the publisher.
type DeliveryError struct {
	SubscriptionID string
	Owner          string
	Topic          string
	Err            error
}

func (e *DeliveryError) Error() string {
	owner := e.Owner
	if owner == "" {
		owner = "host"
	}
	return fmt.Sprintf("delivery of %q to %s (subscription %s) failed: %v", e.Topic, owner, e.SubscriptionID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
