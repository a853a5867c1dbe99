// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package broadcast fans a stream of values out to any number of subscribers.
//
// A subscriber first receives the value current at the moment it subscribed,
// then every later published value in publish order, none skipped. Publish
// never blocks: each subscriber owns an unbounded FIFO mailbox drained by its
// own goroutine, so a slow or stalled subscriber delays only itself.
package broadcast

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrClosed is returned when subscribing to or publishing on a closed Broadcaster.
var ErrClosed = errors.New("broadcaster is closed")

// backlogWarnStep is the mailbox depth at which a slow subscriber is logged,
// and again at every further multiple.
const backlogWarnStep = 1024

// DefaultDrainTimeout bounds how long Close waits for a subscriber to take
// its remaining backlog.
const DefaultDrainTimeout = 30 * time.Second

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var (
	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swiftvector_broadcast_published_total",
		Help: "Values published per broadcaster",
	}, []string{"stream"})

	subscribersGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "swiftvector_broadcast_subscribers",
		Help: "Active subscribers per broadcaster",
	}, []string{"stream"})

	slowSubscriberTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swiftvector_broadcast_slow_subscriber_total",
		Help: "Times a subscriber mailbox crossed the backlog warning step",
	}, []string{"stream"})
)

// -----------------------------------------------------------------------------
// Broadcaster
// -----------------------------------------------------------------------------

// Option configures a Broadcaster.
type Option func(*options)

type options struct {
	name         string
	logger       *slog.Logger
	drainTimeout time.Duration
}

// WithName labels the broadcaster's metrics and logs.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithDrainTimeout sets how long a subscriber may take to drain its backlog
// after Close. Values still undelivered then are dropped and the channel is
// closed. Default: DefaultDrainTimeout.
func WithDrainTimeout(d time.Duration) Option {
	return func(o *options) { o.drainTimeout = d }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Broadcaster holds a current value and fans out every update.
//
// Description:
//
//	Publish and Subscribe serialize on the same mutex. Subscribe enqueues the
//	current value into the new mailbox while holding it, so no publish can
//	fall between "read current" and "start receiving".
//
// Thread Safety: Safe for concurrent use. Callers that need a total order
// across publishes must publish from a single goroutine.
type Broadcaster[T any] struct {
	mu      sync.Mutex
	current T
	subs    map[string]*subscriber[T]
	closed  bool

	name         string
	logger       *slog.Logger
	drainTimeout time.Duration
}

// New returns a Broadcaster whose current value is initial.
func New[T any](initial T, opts ...Option) *Broadcaster[T] {
	o := options{name: "state", logger: slog.Default(), drainTimeout: DefaultDrainTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &Broadcaster[T]{
		current:      initial,
		subs:         make(map[string]*subscriber[T]),
		name:         o.name,
		drainTimeout: o.drainTimeout,
		logger:       o.logger.With(slog.String("component", "broadcast"), slog.String("stream", o.name)),
	}
}

// Current returns the most recently published value.
func (b *Broadcaster[T]) Current() T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Publish makes v current and enqueues it for every subscriber.
//
// Description:
//
//	Never blocks on subscribers. Returns ErrClosed after Close.
//
// Thread Safety: Safe for concurrent use.
func (b *Broadcaster[T]) Publish(v T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	b.current = v
	for _, s := range b.subs {
		if depth := s.enqueue(v); depth > 0 && depth%backlogWarnStep == 0 {
			slowSubscriberTotal.WithLabelValues(b.name).Inc()
			b.logger.Warn("subscriber falling behind",
				slog.String("subscription_id", s.id),
				slog.Int("backlog", depth))
		}
	}
	publishedTotal.WithLabelValues(b.name).Inc()
	return nil
}

// Subscribe registers a new subscriber.
//
// Outputs:
//
//	*Subscription[T] - Its channel yields the current value first, then every
//	                   later publish. The channel closes after Cancel, or after
//	                   Close once the backlog is drained.
//	error - ErrClosed if the broadcaster is closed.
func (b *Broadcaster[T]) Subscribe() (*Subscription[T], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	s := newSubscriber[T](uuid.NewString())
	s.enqueue(b.current)
	b.subs[s.id] = s
	subscribersGauge.WithLabelValues(b.name).Inc()
	go s.pump()

	b.logger.Debug("subscriber added", slog.String("subscription_id", s.id), slog.Int("subscribers", len(b.subs)))

	return &Subscription[T]{
		ID: s.id,
		C:  s.out,
		cancel: func() {
			b.remove(s.id)
			s.stop()
		},
		pending: s.pending,
	}, nil
}

// SubscribeFunc calls fn for every value a new subscription receives.
//
// Description:
//
//	fn runs on the subscription's own goroutine. A panicking fn is recovered
//	and logged; delivery continues with the next value.
func (b *Broadcaster[T]) SubscribeFunc(fn func(T)) (*Subscription[T], error) {
	sub, err := b.Subscribe()
	if err != nil {
		return nil, err
	}
	go func() {
		for v := range sub.C {
			b.safeInvoke(sub.ID, fn, v)
		}
	}()
	return sub, nil
}

func (b *Broadcaster[T]) safeInvoke(id string, fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber handler panicked",
				slog.String("subscription_id", id),
				slog.Any("panic", r))
		}
	}()
	fn(v)
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close stops accepting publishes and subscribers.
//
// Existing subscribers still receive everything already enqueued, after which
// their channels close. A subscriber that has not drained within the drain
// timeout loses the rest of its backlog and its channel closes anyway, so no
// delivery goroutine outlives Close by more than that. Safe to call more than
// once.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		s.drainAndClose(b.drainTimeout)
		delete(b.subs, id)
		subscribersGauge.WithLabelValues(b.name).Dec()
	}
}

func (b *Broadcaster[T]) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[id]; ok {
		delete(b.subs, id)
		subscribersGauge.WithLabelValues(b.name).Dec()
	}
}

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

// Subscription is one subscriber's handle.
type Subscription[T any] struct {
	// ID uniquely identifies this subscription.
	ID string

	// C delivers values in publish order.
	C <-chan T

	cancel  func()
	pending func() int
	once    sync.Once
}

// Cancel unsubscribes. Undelivered values are discarded and C is closed.
// Safe to call more than once. A subscriber that stops reading C must call
// Cancel; otherwise its delivery goroutine lives until the broadcaster is
// closed and the drain timeout passes.
func (s *Subscription[T]) Cancel() {
	s.once.Do(s.cancel)
}

// Pending returns the number of values enqueued but not yet received.
func (s *Subscription[T]) Pending() int {
	return s.pending()
}

// -----------------------------------------------------------------------------
// subscriber mailbox
// -----------------------------------------------------------------------------

type subscriber[T any] struct {
	id string

	mu       sync.Mutex
	queue    []T
	draining bool
	deadline *time.Timer

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	out      chan T
}

func newSubscriber[T any](id string) *subscriber[T] {
	return &subscriber[T]{
		id:   id,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan T),
	}
}

// enqueue appends v and returns the resulting depth.
func (s *subscriber[T]) enqueue(v T) int {
	s.mu.Lock()
	s.queue = append(s.queue, v)
	depth := len(s.queue)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return depth
}

func (s *subscriber[T]) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *subscriber[T]) drainAndClose(timeout time.Duration) {
	s.mu.Lock()
	s.draining = true
	s.deadline = time.AfterFunc(timeout, s.stop)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber[T]) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// pump moves values from the mailbox to out, one at a time, in order.
func (s *subscriber[T]) pump() {
	defer func() {
		s.mu.Lock()
		if s.deadline != nil {
			s.deadline.Stop()
		}
		s.mu.Unlock()
		close(s.out)
	}()

	var zero T
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			draining := s.draining
			s.mu.Unlock()
			if draining {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		v := s.queue[0]
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.done:
			return
		}
	}
}
