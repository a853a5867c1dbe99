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

import "fmt"

// ActionType names an action variant.
type ActionType string

const (
	ActionMoveTo     ActionType = "moveTo"
	ActionFindGold   ActionType = "findGold"
	ActionTakeDamage ActionType = "takeDamage"
	ActionHeal       ActionType = "heal"
	ActionPickUp     ActionType = "pickUp"
)

// ActionTypes lists every variant in a fixed order.
var ActionTypes = []ActionType{ActionMoveTo, ActionFindGold, ActionTakeDamage, ActionHeal, ActionPickUp}

// Action is a proposed game move. Only the field relevant to Type is set.
// Action values are comparable with ==.
type Action struct {
	Type     ActionType `json:"type"`
	Location string     `json:"location,omitempty"`
	Amount   int        `json:"amount,omitempty"`
	Item     string     `json:"item,omitempty"`
}

// Kind implements core.Action.
func (a Action) Kind() string {
	return string(a.Type)
}

func (a Action) String() string {
	switch a.Type {
	case ActionMoveTo:
		return fmt.Sprintf("moveTo(%q)", a.Location)
	case ActionPickUp:
		return fmt.Sprintf("pickUp(%q)", a.Item)
	case ActionFindGold, ActionTakeDamage, ActionHeal:
		return fmt.Sprintf("%s(%d)", a.Type, a.Amount)
	default:
		return fmt.Sprintf("%s(?)", a.Type)
	}
}

func MoveTo(location string) Action { return Action{Type: ActionMoveTo, Location: location} }
func FindGold(amount int) Action    { return Action{Type: ActionFindGold, Amount: amount} }
func TakeDamage(amount int) Action  { return Action{Type: ActionTakeDamage, Amount: amount} }
func Heal(amount int) Action        { return Action{Type: ActionHeal, Amount: amount} }
func PickUp(item string) Action     { return Action{Type: ActionPickUp, Item: item} }
