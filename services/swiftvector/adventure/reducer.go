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

	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/core"
)

// Reducer applies the game rules. It is stateless and pure.
type Reducer struct{}

var _ core.Reducer[State, Action] = Reducer{}

// NewReducer returns the game reducer.
func NewReducer() Reducer {
	return Reducer{}
}

// Reduce validates action against state.
//
// Description:
//
//	Once the game is over every action is rejected. Otherwise:
//	  moveTo     known location, different from the current one
//	  findGold   1..MaxGoldFind
//	  takeDamage positive; health floors at 0, which ends the game
//	  heal       1..MaxHeal, not in the dungeon, not at full health; capped at MaxHealth
//	  pickUp     non-empty, not already held, inventory below MaxInventory
//
// Thread Safety: Safe for concurrent use.
func (Reducer) Reduce(state State, action Action) core.Verdict[State] {
	if state.gameOver {
		return core.Reject(state, fmt.Sprintf("game over: %s refused", action))
	}

	switch action.Type {
	case ActionMoveTo:
		return reduceMove(state, action.Location)
	case ActionFindGold:
		return reduceFindGold(state, action.Amount)
	case ActionTakeDamage:
		return reduceDamage(state, action.Amount)
	case ActionHeal:
		return reduceHeal(state, action.Amount)
	case ActionPickUp:
		return reducePickUp(state, action.Item)
	default:
		return core.Reject(state, fmt.Sprintf("unknown action type %q", action.Type))
	}
}

func reduceMove(state State, loc string) core.Verdict[State] {
	switch {
	case !IsLocation(loc):
		return core.Reject(state, fmt.Sprintf("unknown location %q", loc))
	case loc == state.location:
		return core.Reject(state, fmt.Sprintf("already in %s", loc))
	}
	return core.Accept(state.withLocation(loc), fmt.Sprintf("moved from %s to %s", state.location, loc))
}

func reduceFindGold(state State, amount int) core.Verdict[State] {
	if amount < 1 || amount > MaxGoldFind {
		return core.Reject(state, fmt.Sprintf("gold amount %d outside 1..%d", amount, MaxGoldFind))
	}
	gold := state.gold + amount
	return core.Accept(state.withGold(gold), fmt.Sprintf("found %d gold, now %d", amount, gold))
}

func reduceDamage(state State, amount int) core.Verdict[State] {
	if amount < 1 {
		return core.Reject(state, fmt.Sprintf("damage %d must be positive", amount))
	}
	health := max(state.health-amount, 0)
	next := state.withHealth(health)
	if next.gameOver {
		return core.Accept(next, fmt.Sprintf("took %d damage, health 0: game over", amount))
	}
	return core.Accept(next, fmt.Sprintf("took %d damage, health %d", amount, health))
}

func reduceHeal(state State, amount int) core.Verdict[State] {
	switch {
	case amount < 1 || amount > MaxHeal:
		return core.Reject(state, fmt.Sprintf("heal amount %d outside 1..%d", amount, MaxHeal))
	case state.location == Dungeon:
		return core.Reject(state, "cannot heal in the dungeon")
	case state.health >= MaxHealth:
		return core.Reject(state, "already at full health")
	}
	health := min(state.health+amount, MaxHealth)
	return core.Accept(state.withHealth(health), fmt.Sprintf("healed %d, health %d", health-state.health, health))
}

func reducePickUp(state State, item string) core.Verdict[State] {
	switch {
	case item == "":
		return core.Reject(state, "item name is empty")
	case state.Has(item):
		return core.Reject(state, fmt.Sprintf("already holding %s", item))
	case len(state.inventory) >= MaxInventory:
		return core.Reject(state, fmt.Sprintf("inventory full (%d items)", MaxInventory))
	}
	return core.Accept(state.withItem(item), fmt.Sprintf("picked up %s", item))
}
