// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package governance

import (
	"fmt"
	"regexp"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"
)

type Effect string

const (
	Allow Effect = "allow"
	Deny  Effect = "deny"
)

func (e *Effect) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incoming := Effect(s)
	switch incoming {
	case Allow, Deny:
		*e = incoming
		return nil
	default:
		return fmt.Errorf("invalid value for Effect: %q", incoming)
	}
}

type PolicyFile struct {
	DefaultEffect Effect `yaml:"default_effect"`
	Rules         []Rule `yaml:"rules"`
}

type Rule struct {
	ID            string   `yaml:"id"`
	Description   string   `yaml:"description"`
	Priority      int      `yaml:"priority"`
	Effect        Effect   `yaml:"effect"`
	Kinds         []string `yaml:"kinds"`
	AgentPattern  string   `yaml:"agent_pattern"`
	ActionPattern string   `yaml:"action_pattern"`
	StatePattern  string   `yaml:"state_pattern"`

	agentRe  *regexp.Regexp `yaml:"-"`
	actionRe *regexp.Regexp `yaml:"-"`
	stateRe  *regexp.Regexp `yaml:"-"`
}

// Validate checks required fields and compiles the patterns.
func (p *PolicyFile) Validate() error {
	if p.DefaultEffect == "" {
		p.DefaultEffect = Allow
	}
	seen := make(map[string]bool, len(p.Rules))
	for i := range p.Rules {
		r := &p.Rules[i]
		if r.ID == "" {
			return fmt.Errorf("rule %d has no id", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
		if r.Effect == "" {
			return fmt.Errorf("rule %q has no effect", r.ID)
		}
		if err := r.compile(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Rule) compile() error {
	for _, p := range []struct {
		src string
		dst **regexp.Regexp
	}{
		{r.AgentPattern, &r.agentRe},
		{r.ActionPattern, &r.actionRe},
		{r.StatePattern, &r.stateRe},
	} {
		if p.src == "" {
			continue
		}
		re, err := regexp.Compile(p.src)
		if err != nil {
			return fmt.Errorf("failed to compile the regex %s in rule %q: %w", p.src, r.ID, err)
		}
		*p.dst = re
	}
	return nil
}

// SortByPriority orders rules highest priority first. Ties keep file order.
func (p *PolicyFile) SortByPriority() {
	sort.SliceStable(p.Rules, func(i, j int) bool {
		return p.Rules[i].Priority > p.Rules[j].Priority
	})
}

// needsState reports whether the rule inspects the state.
func (r *Rule) needsState() bool {
	return r.stateRe != nil
}

// matches reports whether every condition of r holds.
func (r *Rule) matches(kind, agentID string, actionJSON, stateJSON []byte) bool {
	if len(r.Kinds) > 0 && !slices.Contains(r.Kinds, kind) {
		return false
	}
	if r.agentRe != nil && !r.agentRe.MatchString(agentID) {
		return false
	}
	if r.actionRe != nil && !r.actionRe.Match(actionJSON) {
		return false
	}
	if r.stateRe != nil && !r.stateRe.Match(stateJSON) {
		return false
	}
	return true
}
