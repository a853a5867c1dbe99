// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package governance is a YAML rule engine that can veto proposals before
// they reach the reducer.
package governance

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gopkg.in/yaml.v3"

	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/canonical"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/core"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/governance/policies"
)

var evaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "swiftvector_governance_evaluations_total",
	Help: "Governance decisions by rule and effect",
}, []string{"rule", "effect"})

// DefaultRuleID labels decisions made by the default effect.
const DefaultRuleID = "default"

// Engine holds a compiled policy. It is immutable after construction and
// safe for concurrent use.
type Engine struct {
	rules         []Rule
	defaultEffect Effect
	needsState    bool
}

// New parses and compiles a YAML policy.
//
// It performs the following operations:
// 1. Unmarshals the YAML.
// 2. Validates rules and compiles their patterns.
// 3. Sorts rules by priority.
func New(policy []byte) (*Engine, error) {
	var file PolicyFile
	if err := yaml.Unmarshal(policy, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the policy file: %w", err)
	}
	if err := file.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	file.SortByPriority()

	e := &Engine{rules: file.Rules, defaultEffect: file.DefaultEffect}
	for i := range e.rules {
		if e.rules[i].needsState() {
			e.needsState = true
		}
	}
	return e, nil
}

// Default returns the engine for the policy embedded in the binary.
func Default() (*Engine, error) {
	return New(policies.Default)
}

// LoadFile reads a policy from disk. An empty path means the embedded default.
func LoadFile(path string) (*Engine, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	return New(data)
}

// Rules returns the compiled rules in evaluation order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Decide evaluates the rules against one proposal.
//
// Description:
//
//	The first rule, by priority, whose conditions all hold decides. If none
//	does, the default effect applies. stateJSON may be nil when no rule
//	inspects state (see NeedsState).
func (e *Engine) Decide(kind, agentID string, actionJSON, stateJSON []byte) core.Decision {
	for i := range e.rules {
		r := &e.rules[i]
		if !r.matches(kind, agentID, actionJSON, stateJSON) {
			continue
		}
		evaluationsTotal.WithLabelValues(r.ID, string(r.Effect)).Inc()
		rationale := r.Description
		if rationale == "" {
			rationale = fmt.Sprintf("matched rule %s", r.ID)
		}
		if r.Effect == Deny {
			return core.Deny(r.ID, rationale)
		}
		return core.Decision{Allowed: true, Rationale: rationale, Rule: r.ID}
	}

	evaluationsTotal.WithLabelValues(DefaultRuleID, string(e.defaultEffect)).Inc()
	if e.defaultEffect == Deny {
		return core.Deny(DefaultRuleID, "no rule allows this action")
	}
	return core.Allow("no rule matched")
}

// NeedsState reports whether any rule inspects the current state.
func (e *Engine) NeedsState() bool {
	return e.needsState
}

// -----------------------------------------------------------------------------
// Gate
// -----------------------------------------------------------------------------

// Gate adapts an Engine to core.Governor by encoding actions and states as
// canonical JSON.
type Gate[S any, A core.Action] struct {
	engine *Engine
}

// NewGate wraps engine.
func NewGate[S any, A core.Action](engine *Engine) *Gate[S, A] {
	return &Gate[S, A]{engine: engine}
}

// Evaluate implements core.Governor. Values that cannot be encoded are denied.
func (g *Gate[S, A]) Evaluate(state S, action A, agentID string) core.Decision {
	actionJSON, err := canonical.Marshal(action)
	if err != nil {
		return core.Deny("encoding", fmt.Sprintf("action cannot be encoded: %v", err))
	}
	var stateJSON []byte
	if g.engine.NeedsState() {
		if stateJSON, err = canonical.Marshal(state); err != nil {
			return core.Deny("encoding", fmt.Sprintf("state cannot be encoded: %v", err))
		}
	}
	return g.engine.Decide(action.Kind(), agentID, actionJSON, stateJSON)
}
