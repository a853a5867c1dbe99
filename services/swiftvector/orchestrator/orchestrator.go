// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator provides the serialized state container.
//
// An Orchestrator owns one state value. Agents propose actions; a single
// executor goroutine runs each proposal through the optional governor and the
// reducer, seals the outcome into the hash-chained audit log, mirrors it to an
// optional durable sink, swaps the state and publishes it. Reads never block
// on the executor.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/audit"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/broadcast"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/canonical"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/core"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/determinism"
)

var (
	// ErrClosed is returned for requests made after Close.
	ErrClosed = errors.New("orchestrator is closed")

	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilReducer is returned by New without a reducer.
	ErrNilReducer = errors.New("reducer must not be nil")

	// ErrSinkNotRewritable is returned by Restore when the configured sink
	// cannot replace its contents.
	ErrSinkNotRewritable = errors.New("sink does not support rewrite")
)

const defaultQueueSize = 64

var tracer = otel.Tracer("swiftvector.orchestrator")

// Hasher computes a state hash. The default is canonical.Hash.
type Hasher[S any] func(S) (string, error)

// CanonicalHasher hashes the canonical JSON encoding of the state.
func CanonicalHasher[S any]() Hasher[S] {
	return func(s S) (string, error) { return canonical.Hash(s) }
}

// Config configures an Orchestrator. Only the zero value of each field is
// optional; Reducer is passed to New separately.
type Config[S any, A core.Action] struct {
	// Governor, when set, is consulted before the reducer.
	Governor core.Governor[S, A]

	// Sources supplies timestamps and entry ids. Nil members default to
	// production implementations.
	Sources determinism.Sources

	// Sink mirrors every sealed entry before it is committed in memory.
	Sink audit.Sink[A]

	// Hasher overrides the state hash function.
	Hasher Hasher[S]

	// History restores a recorded chain at construction instead of writing
	// a fresh initialization entry. The chain must start from the initial
	// state passed to New.
	History []audit.Entry[A]

	// HistorySource names where History came from, recorded in the
	// state_restored entry.
	HistorySource string

	Logger    *slog.Logger
	SessionID string

	// QueueSize bounds requests waiting for the executor. Default: 64.
	QueueSize int
}

// View is a consistent point-in-time read of the container.
type View[S any, A core.Action] struct {
	State     S
	StateHash string
	Log       audit.Snapshot[A]
}

// -----------------------------------------------------------------------------
// Orchestrator
// -----------------------------------------------------------------------------

// Orchestrator is the single source of truth for one state value.
//
// Description:
//
//	Submit, Replay, Restore and RecordSystemEvent are executed one at a time
//	in arrival order by a single goroutine. The log append and the state swap
//	happen under one write lock, so Snapshot never observes a state without
//	its entry or the reverse.
//
// Thread Safety: Safe for concurrent use.
type Orchestrator[S any, A core.Action] struct {
	reducer  core.Reducer[S, A]
	governor core.Governor[S, A]
	sink     audit.Sink[A]
	hasher   Hasher[S]
	clock    determinism.Clock
	ids      determinism.IDGenerator

	initial     S
	initialHash string

	log    *audit.Log[A]
	stream *broadcast.Broadcaster[S]

	sessionID string
	logger    *slog.Logger

	mu          sync.RWMutex
	current     S
	currentHash string

	requests  chan request[A]
	closeCh   chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

type requestKind int

const (
	requestPropose requestKind = iota
	requestSystemEvent
	requestRestore
)

type request[A any] struct {
	ctx      context.Context
	kind     requestKind
	action   A
	agentID  string
	origin   audit.Origin
	note     string
	entries  []audit.Entry[A]
	source   string
	resultCh chan result[A]
}

type result[A any] struct {
	entry audit.Entry[A]
	err   error
}

// New creates an Orchestrator holding initial and starts its executor.
//
// Description:
//
//	Without history, an initialization entry recording the initial state
//	hash is sealed, persisted to the sink and appended. With cfg.History the
//	recorded chain is verified and folded from initial, then a
//	state_restored entry is appended; the sink is not rewritten because the
//	history came from it.
//
// Inputs:
//
//	ctx - Used for the initial sink write and tracing.
//	initial - The initial state.
//	reducer - Validates and applies actions. Must not be nil.
//	cfg - Optional collaborators.
//
// Outputs:
//
//	*Orchestrator[S, A] - Running container. Call Close when done.
//	error - ErrNilReducer, hashing, integrity, divergence or sink errors.
func New[S any, A core.Action](ctx context.Context, initial S, reducer core.Reducer[S, A], cfg Config[S, A]) (*Orchestrator[S, A], error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if reducer == nil {
		return nil, ErrNilReducer
	}

	sources := cfg.Sources.WithDefaults()
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = CanonicalHasher[S]()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = "default"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "orchestrator"), slog.String("session_id", sessionID))

	initialHash, err := hasher(initial)
	if err != nil {
		return nil, fmt.Errorf("hash initial state: %w", err)
	}

	o := &Orchestrator[S, A]{
		reducer:     reducer,
		governor:    cfg.Governor,
		sink:        cfg.Sink,
		hasher:      hasher,
		clock:       sources.Clock,
		ids:         sources.IDs,
		initial:     initial,
		initialHash: initialHash,
		log:         audit.NewLog[A](),
		sessionID:   sessionID,
		logger:      logger,
		current:     initial,
		currentHash: initialHash,
		requests:    make(chan request[A], queueSize),
		closeCh:     make(chan struct{}),
		doneCh:      make(chan struct{}),
	}

	if len(cfg.History) > 0 {
		source := cfg.HistorySource
		if source == "" {
			source = "history"
		}
		if _, err := o.restore(ctx, cfg.History, source, false); err != nil {
			return nil, err
		}
	} else if _, err := o.initialize(ctx); err != nil {
		return nil, err
	}

	o.stream = broadcast.New(o.current,
		broadcast.WithName(sessionID),
		broadcast.WithLogger(logger))

	go o.run()

	logger.Info("orchestrator started",
		slog.String("initial_state_hash", initialHash),
		slog.String("state_hash", o.currentHash),
		slog.Int("entries", o.log.Len()))
	return o, nil
}

// Submit proposes action on behalf of agentID.
//
// Description:
//
//	A rejection is not an error: the returned entry has Applied false and a
//	rationale. Every successful call appends exactly one entry and publishes
//	exactly one state.
//
//	If ctx ends before the executor picks the request up, nothing happens and
//	ctx.Err() is returned. Once started the pipeline always completes; a
//	caller that stops waiting gets ctx.Err() while the entry still lands.
//
// Outputs:
//
//	audit.Entry[A] - The sealed entry.
//	error - ErrClosed, context errors, determinism.ErrSequenceExhausted,
//	        hashing or sink errors. None of these leave any effect.
func (o *Orchestrator[S, A]) Submit(ctx context.Context, action A, agentID string) (audit.Entry[A], error) {
	return o.do(ctx, request[A]{kind: requestPropose, action: action, agentID: agentID, origin: audit.OriginLive})
}

// Replay runs action through the same pipeline as Submit, tagged as a
// replay. An empty agentID becomes core.ReplayAgentID.
func (o *Orchestrator[S, A]) Replay(ctx context.Context, action A, agentID string) (audit.Entry[A], error) {
	if agentID == "" {
		agentID = core.ReplayAgentID
	}
	return o.do(ctx, request[A]{kind: requestPropose, action: action, agentID: agentID, origin: audit.OriginReplay})
}

// RecordSystemEvent appends a system_event entry carrying the current state
// hash. The state does not change and nothing is published.
func (o *Orchestrator[S, A]) RecordSystemEvent(ctx context.Context, note string) (audit.Entry[A], error) {
	return o.do(ctx, request[A]{kind: requestSystemEvent, note: note})
}

// Restore replaces the log with a recorded chain and the state with its fold.
//
// Description:
//
//	The chain is verified (audit.ErrIntegrity) and folded from the initial
//	state (ErrReplayDivergence). The sink, if any, must implement
//	audit.Rewriter. A state_restored entry naming source is sealed onto the
//	chain, and the chain plus that entry reach the sink in a single Rewrite
//	before the in-memory swap. The restored state is then published. On any
//	error nothing changes in memory or in the sink.
func (o *Orchestrator[S, A]) Restore(ctx context.Context, entries []audit.Entry[A], source string) (audit.Entry[A], error) {
	return o.do(ctx, request[A]{kind: requestRestore, entries: entries, source: source})
}

// CurrentState returns the state in force now.
func (o *Orchestrator[S, A]) CurrentState() S {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.current
}

// CurrentStateHash returns the hash of CurrentState.
func (o *Orchestrator[S, A]) CurrentStateHash() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.currentHash
}

// InitialStateHash returns the hash of the state passed to New.
func (o *Orchestrator[S, A]) InitialStateHash() string {
	return o.initialHash
}

// SessionID returns the session label used in logs and metrics.
func (o *Orchestrator[S, A]) SessionID() string {
	return o.sessionID
}

// AuditLog returns an immutable snapshot of the log.
func (o *Orchestrator[S, A]) AuditLog() audit.Snapshot[A] {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.log.Snapshot()
}

// Snapshot returns state, state hash and log as of one instant.
func (o *Orchestrator[S, A]) Snapshot() View[S, A] {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return View[S, A]{State: o.current, StateHash: o.currentHash, Log: o.log.Snapshot()}
}

// StateStream subscribes to state publications. The first value is the
// state current at subscription time. Cancel the subscription when done.
func (o *Orchestrator[S, A]) StateStream() (*broadcast.Subscription[S], error) {
	sub, err := o.stream.Subscribe()
	if errors.Is(err, broadcast.ErrClosed) {
		return nil, ErrClosed
	}
	return sub, err
}

// VerifyChain recomputes every seal and link in the log.
func (o *Orchestrator[S, A]) VerifyChain() audit.VerifyResult {
	res := o.log.VerifyChain()
	if !res.Valid {
		integrityFailuresTotal.WithLabelValues("verify_chain").Inc()
		o.logger.Error("audit chain verification failed",
			slog.Int("first_bad_index", res.FirstBadIndex),
			slog.String("violation", string(res.Violation)),
			slog.String("detail", res.Detail))
	}
	return res
}

// Close stops the executor after the in-flight request and closes every
// state subscription once drained. Queued requests fail with ErrClosed.
// Safe to call more than once.
func (o *Orchestrator[S, A]) Close() error {
	o.closeOnce.Do(func() {
		close(o.closeCh)
		<-o.doneCh
		o.stream.Close()
		o.logger.Info("orchestrator closed", slog.Int("entries", o.log.Len()))
	})
	return nil
}

// -----------------------------------------------------------------------------
// Request plumbing
// -----------------------------------------------------------------------------

func (o *Orchestrator[S, A]) do(ctx context.Context, req request[A]) (audit.Entry[A], error) {
	var zero audit.Entry[A]
	if ctx == nil {
		return zero, ErrNilContext
	}
	select {
	case <-o.closeCh:
		return zero, ErrClosed
	default:
	}

	req.ctx = ctx
	req.resultCh = make(chan result[A], 1)

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-o.closeCh:
		return zero, ErrClosed
	case o.requests <- req:
	}

	select {
	case res := <-req.resultCh:
		return res.entry, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-o.doneCh:
		// The executor may have finished this request just before stopping.
		select {
		case res := <-req.resultCh:
			return res.entry, res.err
		default:
			return zero, ErrClosed
		}
	}
}

// run is the executor loop. It is the only goroutine that mutates state.
func (o *Orchestrator[S, A]) run() {
	defer close(o.doneCh)
	for {
		select {
		case <-o.closeCh:
			return
		case req := <-o.requests:
			if err := req.ctx.Err(); err != nil {
				req.resultCh <- result[A]{err: err}
				continue
			}
			var (
				entry audit.Entry[A]
				err   error
			)
			switch req.kind {
			case requestPropose:
				entry, err = o.propose(req.ctx, req.action, req.agentID, req.origin)
			case requestSystemEvent:
				entry, err = o.systemEvent(req.ctx, req.note)
			case requestRestore:
				entry, err = o.restore(req.ctx, req.entries, req.source, true)
			default:
				err = fmt.Errorf("unknown request kind %d", req.kind)
			}
			req.resultCh <- result[A]{entry: entry, err: err}
		}
	}
}

// recordSpanError marks span as failed.
func recordSpanError(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}

func (o *Orchestrator[S, A]) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("session_id", o.sessionID))
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
