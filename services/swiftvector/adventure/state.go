// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package adventure is the reference domain: a small text adventure whose
// player moves between locations, finds gold, takes damage, heals and picks
// up items. The reducer enforces every rule; agents only propose.
package adventure

import (
	"encoding/json"
	"slices"
)

// Game limits.
const (
	MaxHealth    = 100
	MaxGoldFind  = 100
	MaxHeal      = 50
	MaxInventory = 10
)

// Known locations.
const (
	Forest   = "forest"
	Cave     = "cave"
	Village  = "village"
	Dungeon  = "dungeon"
	Mountain = "mountain"
)

var locations = []string{Forest, Cave, Village, Dungeon, Mountain}

// Locations returns every location a player can move to.
func Locations() []string {
	return slices.Clone(locations)
}

// IsLocation reports whether name is a known location.
func IsLocation(name string) bool {
	return slices.Contains(locations, name)
}

// State is an immutable game snapshot.
//
// Fields are unexported so no holder can mutate a published state; every
// transition builds a new value. Inventory accessors return copies.
type State struct {
	location  string
	health    int
	gold      int
	inventory []string
	gameOver  bool
}

// NewState builds a state. inventory is copied.
func NewState(location string, health, gold int, inventory []string, gameOver bool) State {
	return State{
		location:  location,
		health:    health,
		gold:      gold,
		inventory: slices.Clone(inventory),
		gameOver:  gameOver,
	}
}

// InitialState is the starting point: forest, full health, no gold, empty
// inventory.
func InitialState() State {
	return NewState(Forest, MaxHealth, 0, nil, false)
}

func (s State) Location() string { return s.location }
func (s State) Health() int      { return s.health }
func (s State) Gold() int        { return s.gold }
func (s State) GameOver() bool   { return s.gameOver }

// Inventory returns a copy of the held items in pickup order.
func (s State) Inventory() []string {
	return slices.Clone(s.inventory)
}

// Has reports whether item is held.
func (s State) Has(item string) bool {
	return slices.Contains(s.inventory, item)
}

func (s State) withLocation(loc string) State {
	s.location = loc
	s.inventory = slices.Clone(s.inventory)
	return s
}

func (s State) withGold(gold int) State {
	s.gold = gold
	s.inventory = slices.Clone(s.inventory)
	return s
}

func (s State) withHealth(health int) State {
	s.health = health
	s.gameOver = health <= 0
	s.inventory = slices.Clone(s.inventory)
	return s
}

func (s State) withItem(item string) State {
	inv := make([]string, 0, len(s.inventory)+1)
	inv = append(inv, s.inventory...)
	s.inventory = append(inv, item)
	return s
}

// stateJSON is the wire form. Inventory is never null so an empty and a nil
// inventory hash identically.
type stateJSON struct {
	Location  string   `json:"location"`
	Health    int      `json:"health"`
	Gold      int      `json:"gold"`
	Inventory []string `json:"inventory"`
	GameOver  bool     `json:"game_over"`
}

// MarshalJSON encodes every field.
func (s State) MarshalJSON() ([]byte, error) {
	inv := s.inventory
	if inv == nil {
		inv = []string{}
	}
	return json.Marshal(stateJSON{
		Location:  s.location,
		Health:    s.health,
		Gold:      s.gold,
		Inventory: inv,
		GameOver:  s.gameOver,
	})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (s *State) UnmarshalJSON(data []byte) error {
	var w stateJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = NewState(w.Location, w.Health, w.Gold, w.Inventory, w.GameOver)
	return nil
}
