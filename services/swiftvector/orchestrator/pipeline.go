// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/audit"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/core"
)

// Everything in this file runs on the executor goroutine, except initialize
// and the construction-time restore, which run before it starts.

// initialize appends the initialization entry.
func (o *Orchestrator[S, A]) initialize(ctx context.Context) (audit.Entry[A], error) {
	ctx, span := o.startSpan(ctx, "orchestrator.initialize")
	defer span.End()

	ts := o.clock.Now()
	id, err := o.ids.Next()
	if err != nil {
		recordSpanError(span, err, "id allocation failed")
		return audit.Entry[A]{}, fmt.Errorf("allocate entry id: %w", err)
	}

	entry, err := o.commit(ctx, audit.Entry[A]{
		ID:        id,
		Timestamp: ts,
		Kind:      audit.KindInitialization,
		StateHash: o.initialHash,
		Applied:   true,
		Rationale: "initial state",
	}, o.initial, o.initialHash)
	if err != nil {
		recordSpanError(span, err, "commit failed")
		return entry, err
	}
	return entry, nil
}

// propose is the submit/replay pipeline.
//
// Description:
//
//	Order: allocate timestamp and id, gate, reduce, hash, seal, persist,
//	append and swap, publish. Any error before the append leaves no effect.
func (o *Orchestrator[S, A]) propose(ctx context.Context, action A, agentID string, origin audit.Origin) (audit.Entry[A], error) {
	start := time.Now()
	ctx, span := o.startSpan(ctx, "orchestrator.propose",
		attribute.String("action_kind", action.Kind()),
		attribute.String("agent_id", agentID),
		attribute.String("origin", string(origin)))
	defer span.End()

	fail := func(err error, msg string) (audit.Entry[A], error) {
		submissionsTotal.WithLabelValues(string(origin), outcomeError).Inc()
		recordSpanError(span, err, msg)
		o.logger.Warn("proposal failed",
			slog.String("action_kind", action.Kind()),
			slog.String("agent_id", agentID),
			slog.String("error", err.Error()))
		return audit.Entry[A]{}, err
	}

	ts := o.clock.Now()
	id, err := o.ids.Next()
	if err != nil {
		return fail(fmt.Errorf("allocate entry id: %w", err), "id allocation failed")
	}

	o.mu.RLock()
	before, beforeHash := o.current, o.currentHash
	o.mu.RUnlock()

	verdict, gate := o.evaluate(before, action, agentID)
	o.logger.Debug("verdict",
		slog.String("entry_id", id),
		slog.String("action_kind", action.Kind()),
		slog.Bool("applied", verdict.Applied),
		slog.String("rationale", verdict.Rationale))

	entry := audit.Entry[A]{
		ID:        id,
		Timestamp: ts,
		Kind:      audit.KindProposalOutcome,
		Origin:    origin,
		Action:    &action,
		AgentID:   agentID,
		Applied:   verdict.Applied,
		Rationale: verdict.Rationale,
	}

	next, nextHash := before, beforeHash
	if verdict.Applied {
		h, err := o.hasher(verdict.State)
		if err != nil {
			return fail(fmt.Errorf("hash next state: %w", err), "hashing failed")
		}
		next, nextHash = verdict.State, h
		entry.StateHashBefore = beforeHash
		entry.StateHashAfter = h
	} else {
		entry.StateHash = beforeHash
		entry.RejectedBy = gate
		if gate == audit.GateReducer {
			o.checkRejectedState(verdict.State, beforeHash, action)
		}
	}

	sealed, err := o.commit(ctx, entry, next, nextHash)
	if err != nil {
		return fail(err, "commit failed")
	}

	if err := o.stream.Publish(next); err != nil {
		o.logger.Warn("publish failed", slog.Uint64("seq", sealed.Seq), slog.String("error", err.Error()))
	}

	outcome := outcomeRejected
	if sealed.Applied {
		outcome = outcomeApplied
	}
	submissionsTotal.WithLabelValues(string(origin), outcome).Inc()
	pipelineDuration.WithLabelValues(string(origin)).Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int64("seq", int64(sealed.Seq)),
		attribute.Bool("applied", sealed.Applied),
		attribute.String("state_hash", sealed.ResultingStateHash()))

	return sealed, nil
}

// evaluate consults the governor, then the reducer.
func (o *Orchestrator[S, A]) evaluate(state S, action A, agentID string) (core.Verdict[S], audit.Gate) {
	if o.governor != nil {
		d := o.governor.Evaluate(state, action, agentID)
		if !d.Allowed {
			rule := d.Rule
			if rule == "" {
				rule = "default"
			}
			governanceVetoesTotal.WithLabelValues(rule).Inc()
			return core.Reject(state, fmt.Sprintf("governance rule %q: %s", rule, d.Rationale)), audit.GateGovernance
		}
	}
	return o.reducer.Reduce(state, action), audit.GateReducer
}

// checkRejectedState warns when a reducer rejects but returns a different
// state. The returned state is discarded either way.
func (o *Orchestrator[S, A]) checkRejectedState(returned S, beforeHash string, action A) {
	h, err := o.hasher(returned)
	if err != nil || h == beforeHash {
		return
	}
	reducerContractViolationsTotal.Inc()
	o.logger.Warn("reducer rejected but changed state; change discarded",
		slog.String("action_kind", action.Kind()),
		slog.String("expected_hash", beforeHash),
		slog.String("returned_hash", h))
}

func (o *Orchestrator[S, A]) systemEvent(ctx context.Context, note string) (audit.Entry[A], error) {
	ctx, span := o.startSpan(ctx, "orchestrator.system_event")
	defer span.End()

	ts := o.clock.Now()
	id, err := o.ids.Next()
	if err != nil {
		recordSpanError(span, err, "id allocation failed")
		return audit.Entry[A]{}, fmt.Errorf("allocate entry id: %w", err)
	}

	o.mu.RLock()
	current, hash := o.current, o.currentHash
	o.mu.RUnlock()

	entry, err := o.commit(ctx, audit.Entry[A]{
		ID:        id,
		Timestamp: ts,
		Kind:      audit.KindSystemEvent,
		StateHash: hash,
		Applied:   true,
		Note:      note,
	}, current, hash)
	if err != nil {
		recordSpanError(span, err, "commit failed")
		return entry, err
	}
	o.logger.Info("system event recorded", slog.Uint64("seq", entry.Seq), slog.String("note", note))
	return entry, nil
}

// commit seals entry, persists it, then appends it and swaps in next under
// the write lock.
func (o *Orchestrator[S, A]) commit(ctx context.Context, entry audit.Entry[A], next S, nextHash string) (audit.Entry[A], error) {
	sealed, err := o.log.Seal(entry)
	if err != nil {
		return audit.Entry[A]{}, fmt.Errorf("seal entry: %w", err)
	}

	if o.sink != nil {
		if err := o.sink.Persist(context.WithoutCancel(ctx), sealed); err != nil {
			return audit.Entry[A]{}, fmt.Errorf("persist entry %d: %w", sealed.Seq, err)
		}
	}

	o.mu.Lock()
	if err := o.log.AppendSealed(sealed); err != nil {
		o.mu.Unlock()
		return audit.Entry[A]{}, err
	}
	o.current = next
	o.currentHash = nextHash
	n := o.log.Len()
	o.mu.Unlock()

	logEntriesGauge.WithLabelValues(o.sessionID).Set(float64(n))
	o.logger.Debug("entry committed",
		slog.Uint64("seq", sealed.Seq),
		slog.String("kind", string(sealed.Kind)),
		slog.String("hash", sealed.Hash))
	return sealed, nil
}

// restore verifies, folds and installs a recorded chain.
//
// Description:
//
//	rewrite is false at construction, where the chain came from the sink
//	itself. The restored entry's timestamp is clamped to the history head so
//	a deterministic clock starting earlier cannot break monotonicity.
func (o *Orchestrator[S, A]) restore(ctx context.Context, entries []audit.Entry[A], source string, rewrite bool) (audit.Entry[A], error) {
	ctx, span := o.startSpan(ctx, "orchestrator.restore",
		attribute.String("source", source),
		attribute.Int("entries", len(entries)))
	defer span.End()

	var zero audit.Entry[A]
	if len(entries) == 0 {
		err := fmt.Errorf("%w: empty history", ErrReplayDivergence)
		recordSpanError(span, err, "empty history")
		return zero, err
	}

	if res := audit.Verify(entries); !res.Valid {
		integrityFailuresTotal.WithLabelValues("restore").Inc()
		o.logger.Error("restore rejected: chain invalid",
			slog.String("source", source),
			slog.Int("first_bad_index", res.FirstBadIndex),
			slog.String("violation", string(res.Violation)))
		err := res.Err()
		recordSpanError(span, err, "chain invalid")
		return zero, err
	}

	report, err := VerifyReplay(o.initial, o.reducer, entries, o.hasher)
	if err != nil {
		integrityFailuresTotal.WithLabelValues("restore").Inc()
		o.logger.Error("restore rejected: replay diverged", slog.String("source", source), slog.String("error", err.Error()))
		recordSpanError(span, err, "replay diverged")
		return zero, err
	}

	staged := audit.NewLog[A]()
	if err := staged.Replace(entries); err != nil {
		recordSpanError(span, err, "stage failed")
		return zero, err
	}

	ts := o.clock.Now()
	if head, ok := staged.Head(); ok && ts.Before(head.Timestamp) {
		ts = head.Timestamp
	}
	id, err := o.ids.Next()
	if err != nil {
		recordSpanError(span, err, "id allocation failed")
		return zero, fmt.Errorf("allocate entry id: %w", err)
	}

	sealed, err := staged.Seal(audit.Entry[A]{
		ID:        id,
		Timestamp: ts,
		Kind:      audit.KindStateRestored,
		StateHash: report.StateHash,
		Applied:   true,
		Rationale: fmt.Sprintf("restored %d entries", len(entries)),
		Note:      source,
	})
	if err != nil {
		recordSpanError(span, err, "seal failed")
		return zero, fmt.Errorf("seal entry: %w", err)
	}

	if o.sink != nil {
		if rewrite {
			rw, ok := o.sink.(audit.Rewriter[A])
			if !ok {
				recordSpanError(span, ErrSinkNotRewritable, "sink not rewritable")
				return zero, ErrSinkNotRewritable
			}
			// One rewrite carries the marker too, so the sink holds either the
			// old chain or the complete restored one.
			durable := append(entries[:len(entries):len(entries)], sealed)
			if err := rw.Rewrite(context.WithoutCancel(ctx), durable); err != nil {
				recordSpanError(span, err, "sink rewrite failed")
				return zero, fmt.Errorf("rewrite sink: %w", err)
			}
		} else if err := o.sink.Persist(context.WithoutCancel(ctx), sealed); err != nil {
			recordSpanError(span, err, "persist failed")
			return zero, fmt.Errorf("persist entry %d: %w", sealed.Seq, err)
		}
	}

	o.mu.Lock()
	if err := o.log.Replace(entries); err != nil {
		o.mu.Unlock()
		recordSpanError(span, err, "replace failed")
		return zero, err
	}
	if err := o.log.AppendSealed(sealed); err != nil {
		o.mu.Unlock()
		recordSpanError(span, err, "append failed")
		return zero, err
	}
	o.current = report.State
	o.currentHash = report.StateHash
	n := o.log.Len()
	o.mu.Unlock()

	logEntriesGauge.WithLabelValues(o.sessionID).Set(float64(n))
	if o.stream != nil {
		if err := o.stream.Publish(report.State); err != nil {
			o.logger.Warn("publish failed", slog.Uint64("seq", sealed.Seq), slog.String("error", err.Error()))
		}
	}

	o.logger.Info("state restored",
		slog.String("source", source),
		slog.Int("entries", len(entries)),
		slog.Int("applied", report.Applied),
		slog.String("state_hash", report.StateHash))
	span.SetAttributes(attribute.String("state_hash", report.StateHash))
	return sealed, nil
}
