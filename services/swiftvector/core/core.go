// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package core defines the contracts shared by every domain plugged into the
// orchestrator: actions, verdicts, reducers and the governance gate.
//
// A domain supplies a state type S, an action type A and a Reducer[S, A].
// Everything else (serialization, auditing, broadcasting, replay) is generic
// over those two types.
package core

// ReplayAgentID tags audit entries produced by the replay path.
const ReplayAgentID = "REPLAY"

// Action is a proposed state change.
//
// Description:
//
//	Actions are immutable values with a stable, serializable representation.
//	Kind names the action variant ("moveTo", "findGold") and is what
//	governance policies and metrics key on.
type Action interface {
	Kind() string
}

// Verdict is the reducer's decision on one action.
//
// Description:
//
//	State is the resulting state. When Applied is false it must be content
//	equal to the input state. Rationale is always populated and is recorded
//	verbatim in the audit log.
type Verdict[S any] struct {
	State     S
	Applied   bool
	Rationale string
}

// Accept returns an applied verdict.
func Accept[S any](state S, rationale string) Verdict[S] {
	return Verdict[S]{State: state, Applied: true, Rationale: rationale}
}

// Reject returns a rejected verdict carrying the unchanged state.
func Reject[S any](state S, rationale string) Verdict[S] {
	return Verdict[S]{State: state, Applied: false, Rationale: rationale}
}

// Reducer validates and applies actions.
//
// Description:
//
//	Reduce must be a pure function of (state, action): no clock reads, no
//	randomness, no identifier generation, no I/O. The same inputs always
//	produce content-equal verdicts, which is what makes replay exact.
//
// Thread Safety: Implementations must be safe to call from any goroutine.
type Reducer[S any, A Action] interface {
	Reduce(state S, action A) Verdict[S]
}

// ReducerFunc adapts a function to Reducer.
type ReducerFunc[S any, A Action] func(state S, action A) Verdict[S]

// Reduce calls f(state, action).
func (f ReducerFunc[S, A]) Reduce(state S, action A) Verdict[S] {
	return f(state, action)
}

// Decision is a governance outcome.
type Decision struct {
	Allowed   bool
	Rationale string

	// Rule names the policy rule that decided, empty for the default.
	Rule string
}

// Allow returns a permitting decision.
func Allow(rationale string) Decision {
	return Decision{Allowed: true, Rationale: rationale}
}

// Deny returns a vetoing decision attributed to rule.
func Deny(rule, rationale string) Decision {
	return Decision{Allowed: false, Rationale: rationale, Rule: rule}
}

// Governor is an optional gate consulted before the reducer.
//
// Description:
//
//	A veto short-circuits the reducer and is recorded as a rejected audit
//	entry. Evaluate must be deterministic for a given (state, action,
//	agentID); replays are evaluated with agentID ReplayAgentID.
type Governor[S any, A Action] interface {
	Evaluate(state S, action A, agentID string) Decision
}

// GovernorFunc adapts a function to Governor.
type GovernorFunc[S any, A Action] func(state S, action A, agentID string) Decision

// Evaluate calls f(state, action, agentID).
func (f GovernorFunc[S, A]) Evaluate(state S, action A, agentID string) Decision {
	return f(state, action, agentID)
}
