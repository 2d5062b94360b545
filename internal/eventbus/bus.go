// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

// Package eventbus provides the in-process, topic based publish/subscribe
// bus that activated plugins use to talk to each other.
//
// Delivery is ordered per topic: events published to one topic are
// delivered in publish order, and each event reaches subscribers in
// registration order. Different topics are delivered independently.
// Subscriber failures are isolated and reported back to the publisher in
// a Report; the bus never retries. Ordering assumes handlers return before
// their timeout (see WithHandlerTimeout).
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/PolycarpusTack/Alexandria-sub004/internal/logging"
	pluginpkg "github.com/PolycarpusTack/Alexandria-sub004/pkg/plugin"
)

// Error codes returned by the bus.
const (
	CodeInvalidTopic   = "INVALID_TOPIC"
	CodeInvalidHandler = "INVALID_HANDLER"
	CodeBusClosed      = "BUS_CLOSED"
)

// DefaultHandlerTimeout bounds a single subscriber invocation.
const DefaultHandlerTimeout = 5 * time.Second

// subscriberTable maps a topic to its subscribers in registration order.
// A published table is never mutated; writers copy it.
type subscriberTable map[string][]*Subscription

// delivery is one queued event.
type delivery struct {
	ctx   context.Context
	event pluginpkg.Event
	done  chan pluginpkg.Report
}

// topicQueue holds events waiting for delivery on one topic. At most one
// drain goroutine runs per queue.
type topicQueue struct {
	pending []*delivery
	running bool
}

// Bus is an in-process event bus. The zero value is not usable; call New.
type Bus struct {
	mu    sync.Mutex // serializes subscriber table writers
	table atomic.Pointer[subscriberTable]

	qmu    sync.Mutex
	queues map[string]*topicQueue
	closed bool
	wg     sync.WaitGroup

	handlerTimeout time.Duration
	logger         *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithHandlerTimeout sets the per-subscriber timeout. Zero disables it.
//
// A handler that times out is reported as failed and abandoned, not
// stopped: its goroutine runs until the handler honours its context. While
// it lingers, the next event on the topic can reach the same subscriber, so
// a handler that ignores cancellation may see events concurrently and
// finish them out of order.
func WithHandlerTimeout(d time.Duration) Option {
	return func(b *Bus) {
		b.handlerTimeout = d
	}
}

// WithLogger sets the logger used for delivery diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates an event bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		queues:         make(map[string]*topicQueue),
		handlerTimeout: DefaultHandlerTimeout,
		logger:         slog.Default(),
	}
	empty := subscriberTable{}
	b.table.Store(&empty)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// publishConfig collects PublishOption values.
type publishConfig struct {
	publisher string
}

// PublishOption configures a single publish.
type PublishOption func(*publishConfig)

// WithPublisher attributes the event to a plugin id.
func WithPublisher(id string) PublishOption {
	return func(c *publishConfig) {
		c.publisher = id
	}
}

// Publish delivers payload to every subscriber of topic and returns the
// delivery report once every subscriber has run or failed. Subscriber
// failures are reported in the Report, never as the returned error; the
// error is non-nil only when the event could not be enqueued or ctx ended
// before delivery finished.
//
// A handler must not call Publish for its own topic: delivery on a topic is
// sequential, so it would wait on itself. Use PublishAsync instead.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte, opts ...PublishOption) (pluginpkg.Report, error) {
	d, err := b.enqueue(ctx, topic, payload, opts)
	if err != nil {
		return pluginpkg.Report{Topic: topic}, err
	}

	select {
	case report := <-d.done:
		return report, nil
	case <-ctx.Done():
		return pluginpkg.Report{EventID: d.event.ID, Topic: topic},
			oops.In("eventbus").With("topic", topic).With("event_id", d.event.ID).Wrap(ctx.Err())
	}
}

// PublishAsync enqueues the event and returns without waiting. The report
// is sent on the returned channel, which is buffered and never closed
// before the report is written.
func (b *Bus) PublishAsync(ctx context.Context, topic string, payload []byte, opts ...PublishOption) (<-chan pluginpkg.Report, error) {
	d, err := b.enqueue(ctx, topic, payload, opts)
	if err != nil {
		return nil, err
	}
	return d.done, nil
}

func (b *Bus) enqueue(ctx context.Context, topic string, payload []byte, opts []PublishOption) (*delivery, error) {
	if topic == "" {
		return nil, oops.In("eventbus").Code(CodeInvalidTopic).Errorf("topic cannot be empty")
	}

	var cfg publishConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	d := &delivery{
		// Handlers outlive the publisher's context when published async.
		ctx: context.WithoutCancel(ctx),
		event: pluginpkg.Event{
			ID:          NewID(),
			Topic:       topic,
			Payload:     payload,
			PublishedAt: time.Now().UTC(),
			Publisher:   cfg.publisher,
		},
		done: make(chan pluginpkg.Report, 1),
	}

	b.qmu.Lock()
	defer b.qmu.Unlock()

	if b.closed {
		return nil, oops.In("eventbus").Code(CodeBusClosed).With("topic", topic).Errorf("event bus is closed")
	}

	q, ok := b.queues[topic]
	if !ok {
		q = &topicQueue{}
		b.queues[topic] = q
	}
	q.pending = append(q.pending, d)
	if !q.running {
		q.running = true
		b.wg.Add(1)
		go b.drain(topic, q)
	}
	return d, nil
}

// drain delivers queued events for one topic until the queue is empty.
func (b *Bus) drain(topic string, q *topicQueue) {
	defer b.wg.Done()
	for {
		b.qmu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			if b.queues[topic] == q {
				delete(b.queues, topic)
			}
			b.qmu.Unlock()
			return
		}
		d := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		b.qmu.Unlock()

		d.done <- b.deliver(d)
	}
}

func (b *Bus) deliver(d *delivery) pluginpkg.Report {
	start := time.Now()
	subs := (*b.table.Load())[d.event.Topic]

	report := pluginpkg.Report{
		EventID: d.event.ID,
		Topic:   d.event.Topic,
	}
	for _, sub := range subs {
		if err := b.invoke(d.ctx, sub, d.event); err != nil {
			recordFailure(d.event.Topic, sub.owner)
			b.logger.Debug("subscriber failed",
				"topic", d.event.Topic,
				"event_id", d.event.ID,
				"subscription", sub.id,
				"owner", sub.owner,
				"error", err)
			report.Errors = append(report.Errors, &pluginpkg.DeliveryError{
				SubscriptionID: sub.id,
				Owner:          sub.owner,
				Topic:          d.event.Topic,
				Err:            err,
			})
			continue
		}
		report.Delivered++
	}

	recordDelivery(d.event.Topic, time.Since(start))
	return report
}

// invoke runs one handler, converting panics and timeouts into errors.
func (b *Bus) invoke(ctx context.Context, sub *Subscription, event pluginpkg.Event) error {
	ctx = logging.WithPlugin(ctx, sub.owner)
	if b.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.handlerTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panicked: %v", r)
			}
		}()
		done <- sub.handler(ctx, event)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return oops.In("eventbus").
			With("subscription", sub.id).
			With("timeout", b.handlerTimeout.String()).
			Wrapf(ctx.Err(), "handler did not return in time")
	}
}

// Subscribe registers handler for topic on behalf of owner. owner is the
// plugin id, or empty for host subscriptions.
func (b *Bus) Subscribe(topic, owner string, handler pluginpkg.Handler) (*Subscription, error) {
	if topic == "" {
		return nil, oops.In("eventbus").Code(CodeInvalidTopic).With("owner", owner).Errorf("topic cannot be empty")
	}
	if handler == nil {
		return nil, oops.In("eventbus").Code(CodeInvalidHandler).With("topic", topic).Errorf("handler cannot be nil")
	}

	b.qmu.Lock()
	closed := b.closed
	b.qmu.Unlock()
	if closed {
		return nil, oops.In("eventbus").Code(CodeBusClosed).With("topic", topic).Errorf("event bus is closed")
	}

	sub := &Subscription{
		id:      NewID(),
		topic:   topic,
		owner:   owner,
		handler: handler,
		bus:     b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cur := *b.table.Load()
	next := make(subscriberTable, len(cur)+1)
	for t, subs := range cur {
		next[t] = subs
	}
	list := make([]*Subscription, 0, len(cur[topic])+1)
	list = append(list, cur[topic]...)
	next[topic] = append(list, sub)
	b.table.Store(&next)

	return sub, nil
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := *b.table.Load()
	subs := cur[sub.topic]
	idx := -1
	for i, s := range subs {
		if s == sub {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	next := make(subscriberTable, len(cur))
	for t, s := range cur {
		next[t] = s
	}
	list := make([]*Subscription, 0, len(subs)-1)
	list = append(list, subs[:idx]...)
	list = append(list, subs[idx+1:]...)
	if len(list) == 0 {
		delete(next, sub.topic)
	} else {
		next[sub.topic] = list
	}
	b.table.Store(&next)
}

// RemoveOwner drops every subscription owned by owner in a single table
// swap: a concurrent delivery sees either all of them or none. Returns the
// number of subscriptions removed.
func (b *Bus) RemoveOwner(owner string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := *b.table.Load()
	next := make(subscriberTable, len(cur))
	removed := 0
	for topic, subs := range cur {
		kept := make([]*Subscription, 0, len(subs))
		for _, s := range subs {
			if s.owner == owner {
				s.removed.Store(true)
				removed++
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) > 0 {
			next[topic] = kept
		}
	}
	if removed > 0 {
		b.table.Store(&next)
	}
	return removed
}

// Subscribers returns the number of subscribers of topic.
func (b *Bus) Subscribers(topic string) int {
	return len((*b.table.Load())[topic])
}

// Subscriptions returns the subscriptions owned by owner in no particular
// order.
func (b *Bus) Subscriptions(owner string) []*Subscription {
	var out []*Subscription
	for _, subs := range *b.table.Load() {
		for _, s := range subs {
			if s.owner == owner {
				out = append(out, s)
			}
		}
	}
	return out
}

// Close stops accepting events and waits until queued events have been
// delivered or ctx ends.
func (b *Bus) Close(ctx context.Context) error {
	b.qmu.Lock()
	b.closed = true
	b.qmu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return oops.In("eventbus").With("operation", "close").Wrap(ctx.Err())
	}
}

// Subscription is a handler registered on the bus.
type Subscription struct {
	id      string
	topic   string
	owner   string
	handler pluginpkg.Handler
	bus     *Bus
	removed atomic.Bool
}

// Compile-time interface check.
var _ pluginpkg.Subscription = (*Subscription)(nil)

// ID returns the subscription id.
func (s *Subscription) ID() string { return s.id }

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// Owner returns the owning plugin id (empty for host subscriptions).
func (s *Subscription) Owner() string { return s.owner }

// Unsubscribe removes the subscription. Subsequent calls do nothing.
func (s *Subscription) Unsubscribe() {
	if s.removed.CompareAndSwap(false, true) {
		s.bus.remove(s)
	}
}
