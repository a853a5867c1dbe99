// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit implements the hash-chained, append-only event log.
//
// Every entry is sealed at append time: its Hash covers every other field,
// including PrevHash, which is the Hash of the entry before it. The first
// entry links to GenesisHash. Changing any byte of any historical entry
// therefore breaks either that entry's seal or the next entry's link, and
// Verify reports the first index where that happens.
package audit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/canonical"
)

// GenesisHash is the PrevHash of the first entry.
var GenesisHash = strings.Repeat("0", canonical.HashLength)

var (
	// ErrIntegrity is wrapped by every chain verification failure.
	ErrIntegrity = errors.New("audit log integrity violation")

	// ErrChainBroken is returned when a sealed entry no longer links to the head.
	ErrChainBroken = errors.New("sealed entry does not extend the current head")

	// ErrNonMonotonicTimestamp is returned when an entry predates the head.
	ErrNonMonotonicTimestamp = errors.New("entry timestamp precedes log head")
)

// Kind discriminates audit entries.
type Kind string

const (
	KindInitialization  Kind = "initialization"
	KindProposalOutcome Kind = "proposal_outcome"
	KindStateRestored   Kind = "state_restored"
	KindSystemEvent     Kind = "system_event"
)

// Origin distinguishes live proposals from replayed ones.
type Origin string

const (
	OriginLive   Origin = "live"
	OriginReplay Origin = "replay"
)

// Gate names what rejected a proposal.
type Gate string

const (
	GateReducer    Gate = "reducer"
	GateGovernance Gate = "governance"
)

// Entry is one immutable audit record.
//
// Description:
//
//	Proposal outcomes carry the action, the proposing agent and either both
//	StateHashBefore/StateHashAfter (applied) or a single StateHash
//	(rejected). Initialization, restore and system entries carry StateHash
//	only. PrevHash and Hash are assigned by the log when sealing.
//
// Thread Safety: Immutable after sealing. Accessors hand out copies.
type Entry[A any] struct {
	Seq       uint64    `json:"seq"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`

	Origin  Origin `json:"origin,omitempty"`
	Action  *A     `json:"action,omitempty"`
	AgentID string `json:"agent_id,omitempty"`

	StateHashBefore string `json:"state_hash_before,omitempty"`
	StateHashAfter  string `json:"state_hash_after,omitempty"`
	StateHash       string `json:"state_hash,omitempty"`

	Applied    bool   `json:"applied"`
	Rationale  string `json:"rationale,omitempty"`
	RejectedBy Gate   `json:"rejected_by,omitempty"`
	Note       string `json:"note,omitempty"`

	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
}

// ResultingStateHash is the hash of the state in force after this entry.
func (e Entry[A]) ResultingStateHash() string {
	if e.Kind == KindProposalOutcome && e.Applied {
		return e.StateHashAfter
	}
	return e.StateHash
}

// IsReplay reports whether the entry came through the replay path.
func (e Entry[A]) IsReplay() bool {
	return e.Origin == OriginReplay
}

// clone detaches the action pointer so callers cannot reach shared storage.
func (e Entry[A]) clone() Entry[A] {
	if e.Action != nil {
		a := *e.Action
		e.Action = &a
	}
	return e
}

// ComputeHash returns the seal of e: the canonical hash of every field except Hash.
func ComputeHash[A any](e Entry[A]) (string, error) {
	e.Hash = ""
	h, err := canonical.Hash(e)
	if err != nil {
		return "", fmt.Errorf("hash entry %d: %w", e.Seq, err)
	}
	return h, nil
}

// -----------------------------------------------------------------------------
// Verification
// -----------------------------------------------------------------------------

// Violation names which check failed.
type Violation string

const (
	ViolationSequence  Violation = "sequence"
	ViolationLink      Violation = "link"
	ViolationSeal      Violation = "seal"
	ViolationTimestamp Violation = "timestamp"
)

// VerifyResult reports the outcome of a chain check.
type VerifyResult struct {
	Valid bool

	// Checked is the number of entries examined.
	Checked int

	// FirstBadIndex is the first failing entry, or -1 when Valid.
	FirstBadIndex int
	Violation     Violation
	Detail        string
}

// Err returns nil for a valid chain, otherwise an error wrapping ErrIntegrity.
func (r VerifyResult) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("%w: entry %d: %s: %s", ErrIntegrity, r.FirstBadIndex, r.Violation, r.Detail)
}

// Verify recomputes every seal and link in entries.
//
// Description:
//
//	For each index i, checks in order: Seq == i, PrevHash equals the previous
//	entry's Hash (GenesisHash for i == 0), the stored Hash equals the
//	recomputed seal, and the timestamp does not precede the previous one.
//	Stops at the first failure.
//
// Inputs:
//
//	entries - The chain to check, in append order. May be empty.
//
// Outputs:
//
//	VerifyResult - Valid, or the first failing index and why.
func Verify[A any](entries []Entry[A]) VerifyResult {
	prevHash := GenesisHash
	var prevTime time.Time

	for i, e := range entries {
		fail := func(v Violation, detail string) VerifyResult {
			return VerifyResult{Checked: i + 1, FirstBadIndex: i, Violation: v, Detail: detail}
		}

		if e.Seq != uint64(i) {
			return fail(ViolationSequence, fmt.Sprintf("seq %d at position %d", e.Seq, i))
		}
		if e.PrevHash != prevHash {
			return fail(ViolationLink, fmt.Sprintf("prev_hash %s, expected %s", short(e.PrevHash), short(prevHash)))
		}
		computed, err := ComputeHash(e)
		if err != nil {
			return fail(ViolationSeal, err.Error())
		}
		if computed != e.Hash {
			return fail(ViolationSeal, fmt.Sprintf("hash %s, recomputed %s", short(e.Hash), short(computed)))
		}
		if i > 0 && e.Timestamp.Before(prevTime) {
			return fail(ViolationTimestamp, "timestamp precedes previous entry")
		}

		prevHash = e.Hash
		prevTime = e.Timestamp
	}

	return VerifyResult{Valid: true, Checked: len(entries), FirstBadIndex: -1}
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
