// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package adventure

import (
	"fmt"

	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/determinism"
)

// Items an agent may try to pick up.
var Items = []string{"torch", "rope", "sword", "shield", "map", "lantern", "potion", "key"}

// Agent is a stand-in for an unreliable proposer. It draws actions from a
// RandomSource and deliberately produces invalid ones (unknown or repeated
// locations, oversized amounts, duplicate items) so the reducer has
// something to reject.
type Agent struct {
	id  string
	rnd determinism.RandomSource
}

// NewAgent returns an agent proposing on behalf of id.
func NewAgent(id string, rnd determinism.RandomSource) *Agent {
	return &Agent{id: id, rnd: rnd}
}

// ID returns the agent identifier recorded in audit entries.
func (a *Agent) ID() string {
	return a.id
}

// Propose picks the next action. state is read only to make some proposals
// plausible; validity is never guaranteed. Errors come from the random
// source, e.g. determinism.ErrSequenceExhausted.
func (a *Agent) Propose(state State) (Action, error) {
	k, err := a.rnd.Intn(len(ActionTypes))
	if err != nil {
		return Action{}, fmt.Errorf("agent %s: pick action: %w", a.id, err)
	}

	switch ActionTypes[k] {
	case ActionMoveTo:
		// One extra slot yields an unknown location.
		i, err := a.rnd.Intn(len(locations) + 1)
		if err != nil {
			return Action{}, fmt.Errorf("agent %s: pick location: %w", a.id, err)
		}
		if i == len(locations) {
			return MoveTo("swamp"), nil
		}
		return MoveTo(locations[i]), nil

	case ActionFindGold:
		n, err := a.rnd.Intn(MaxGoldFind + MaxGoldFind/2)
		if err != nil {
			return Action{}, fmt.Errorf("agent %s: pick gold: %w", a.id, err)
		}
		return FindGold(n + 1), nil

	case ActionTakeDamage:
		n, err := a.rnd.Intn(40)
		if err != nil {
			return Action{}, fmt.Errorf("agent %s: pick damage: %w", a.id, err)
		}
		return TakeDamage(n + 1), nil

	case ActionHeal:
		n, err := a.rnd.Intn(MaxHeal + 10)
		if err != nil {
			return Action{}, fmt.Errorf("agent %s: pick heal: %w", a.id, err)
		}
		return Heal(n + 1), nil

	default:
		i, err := a.rnd.Intn(len(Items))
		if err != nil {
			return Action{}, fmt.Errorf("agent %s: pick item: %w", a.id, err)
		}
		// Prefer something already held now and then to exercise duplicates.
		dup, err := a.rnd.Bool()
		if err != nil {
			return Action{}, fmt.Errorf("agent %s: pick item: %w", a.id, err)
		}
		if inv := state.inventory; dup && len(inv) > 0 {
			return PickUp(inv[i%len(inv)]), nil
		}
		return PickUp(Items[i]), nil
	}
}
