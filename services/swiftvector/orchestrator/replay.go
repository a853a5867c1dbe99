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
	"errors"
	"fmt"

	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/audit"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/core"
)

// ErrReplayDivergence is wrapped when recorded history does not match what
// the reducer produces.
var ErrReplayDivergence = errors.New("replay diverged from recorded history")

// DivergenceError locates a replay mismatch.
type DivergenceError struct {
	// Index is the position in the entry slice, Seq the recorded sequence.
	Index int
	Seq   uint64

	Reason   string
	Expected string
	Actual   string
}

func (e *DivergenceError) Error() string {
	if e.Expected == "" && e.Actual == "" {
		return fmt.Sprintf("%s at index %d (seq %d): %s", ErrReplayDivergence, e.Index, e.Seq, e.Reason)
	}
	return fmt.Sprintf("%s at index %d (seq %d): %s: expected %s, got %s",
		ErrReplayDivergence, e.Index, e.Seq, e.Reason, e.Expected, e.Actual)
}

func (e *DivergenceError) Unwrap() error {
	return ErrReplayDivergence
}

// ReplayReport is the result of folding a recorded chain.
type ReplayReport[S any] struct {
	State     S
	StateHash string

	// Applied and Skipped count proposal outcomes re-applied and rejected
	// entries passed over.
	Applied int
	Skipped int

	// Hashes is the resulting state hash after every entry.
	Hashes []string
}

// VerifyReplay folds entries from initial and checks every recorded hash.
//
// Description:
//
//	The first entry must be the initialization entry for initial. Applied
//	proposals are re-reduced and must be accepted and reach the recorded
//	after-hash. Rejected proposals, restores and system events must record
//	the hash the fold has reached. Governance is not consulted: a veto is a
//	rejected entry like any other.
//
// Inputs:
//
//	initial - The state the chain was started from.
//	reducer - The reducer that produced the chain.
//	entries - The chain, in append order. Integrity is not checked here;
//	          use audit.Verify for that.
//	hasher - State hash function. Nil means CanonicalHasher.
//
// Outputs:
//
//	ReplayReport[S] - The folded state and per-entry hashes.
//	error - A *DivergenceError (wrapping ErrReplayDivergence) or a hashing error.
func VerifyReplay[S any, A core.Action](initial S, reducer core.Reducer[S, A], entries []audit.Entry[A], hasher Hasher[S]) (ReplayReport[S], error) {
	if hasher == nil {
		hasher = CanonicalHasher[S]()
	}

	state := initial
	hash, err := hasher(initial)
	if err != nil {
		return ReplayReport[S]{}, fmt.Errorf("hash initial state: %w", err)
	}
	report := ReplayReport[S]{State: state, StateHash: hash, Hashes: make([]string, 0, len(entries))}

	diverge := func(i int, e audit.Entry[A], reason, expected, actual string) (ReplayReport[S], error) {
		return report, &DivergenceError{Index: i, Seq: e.Seq, Reason: reason, Expected: expected, Actual: actual}
	}

	for i, e := range entries {
		if i == 0 && e.Kind != audit.KindInitialization {
			return diverge(i, e, "chain does not start with an initialization entry", "", "")
		}

		switch e.Kind {
		case audit.KindInitialization:
			if i != 0 {
				return diverge(i, e, "initialization entry after the first position", "", "")
			}
			if e.StateHash != hash {
				return diverge(i, e, "initial state hash", e.StateHash, hash)
			}

		case audit.KindProposalOutcome:
			if e.Action == nil {
				return diverge(i, e, "proposal entry without an action", "", "")
			}
			if !e.Applied {
				if e.StateHash != hash {
					return diverge(i, e, "rejected entry state hash", e.StateHash, hash)
				}
				report.Skipped++
				break
			}
			if e.StateHashBefore != hash {
				return diverge(i, e, "state hash before", e.StateHashBefore, hash)
			}
			v := reducer.Reduce(state, *e.Action)
			if !v.Applied {
				return diverge(i, e, "recorded as applied but the reducer rejects: "+v.Rationale, "", "")
			}
			next, err := hasher(v.State)
			if err != nil {
				return report, fmt.Errorf("hash state at index %d: %w", i, err)
			}
			if next != e.StateHashAfter {
				return diverge(i, e, "state hash after", e.StateHashAfter, next)
			}
			state, hash = v.State, next
			report.Applied++

		case audit.KindStateRestored, audit.KindSystemEvent:
			if e.StateHash != hash {
				return diverge(i, e, string(e.Kind)+" state hash", e.StateHash, hash)
			}

		default:
			return diverge(i, e, fmt.Sprintf("unknown entry kind %q", e.Kind), "", "")
		}

		report.State, report.StateHash = state, hash
		report.Hashes = append(report.Hashes, hash)
	}
	return report, nil
}

// Actions returns the actions of every proposal outcome in entries, applied
// or not, in order.
func Actions[A any](entries []audit.Entry[A]) []A {
	var out []A
	for _, e := range entries {
		if e.Kind == audit.KindProposalOutcome && e.Action != nil {
			out = append(out, *e.Action)
		}
	}
	return out
}

// ReplayActions drives actions through o.Replay in order and returns the
// resulting entries. It stops at the first error.
func ReplayActions[S any, A core.Action](ctx context.Context, o *Orchestrator[S, A], actions []A) ([]audit.Entry[A], error) {
	out := make([]audit.Entry[A], 0, len(actions))
	for i, a := range actions {
		e, err := o.Replay(ctx, a, core.ReplayAgentID)
		if err != nil {
			return out, fmt.Errorf("replay action %d (%s): %w", i, a.Kind(), err)
		}
		out = append(out, e)
	}
	return out, nil
}

// CompareHashSequences checks that replayed reproduced original.
//
// Description:
//
//	Both chains are reduced to their initialization hash followed by the
//	resulting hash and applied flag of each proposal outcome. Restores and
//	system events are ignored. The first difference is returned as a
//	*DivergenceError indexed into original.
func CompareHashSequences[A any](original, replayed []audit.Entry[A]) error {
	type step struct {
		index   int
		seq     uint64
		hash    string
		applied bool
	}
	project := func(entries []audit.Entry[A]) []step {
		var out []step
		for i, e := range entries {
			if e.Kind == audit.KindInitialization || e.Kind == audit.KindProposalOutcome {
				out = append(out, step{index: i, seq: e.Seq, hash: e.ResultingStateHash(), applied: e.Applied})
			}
		}
		return out
	}

	a, b := project(original), project(replayed)
	for i := range min(len(a), len(b)) {
		if a[i].hash != b[i].hash {
			return &DivergenceError{Index: a[i].index, Seq: a[i].seq, Reason: "resulting state hash", Expected: a[i].hash, Actual: b[i].hash}
		}
		if a[i].applied != b[i].applied {
			return &DivergenceError{Index: a[i].index, Seq: a[i].seq,
				Reason: "applied flag", Expected: fmt.Sprint(a[i].applied), Actual: fmt.Sprint(b[i].applied)}
		}
	}
	if len(a) != len(b) {
		idx := len(original)
		if len(b) < len(a) {
			idx = a[len(b)].index
		}
		return &DivergenceError{Index: idx, Reason: "step count", Expected: fmt.Sprint(len(a)), Actual: fmt.Sprint(len(b))}
	}
	return nil
}
