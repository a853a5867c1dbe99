// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"
)

// Log is the in-memory, authoritative audit trail.
//
// Description:
//
//	Entries are only ever appended; an appended element is never written
//	again. Snapshots share the backing array with a capped slice header, so
//	taking one is O(1) and later appends (which only write past the cap, or
//	reallocate) can never become visible through it. Replace swaps the whole
//	slice; existing snapshots keep the old array.
//
// Thread Safety: Safe for concurrent use. Appends should still be driven by a
// single writer so that Seal and AppendSealed observe the same head.
type Log[A any] struct {
	mu      sync.RWMutex
	entries []Entry[A]
}

// NewLog returns an empty log.
func NewLog[A any]() *Log[A] {
	return &Log[A]{}
}

// Len returns the number of entries.
func (l *Log[A]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Head returns the last entry.
func (l *Log[A]) Head() (Entry[A], bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return Entry[A]{}, false
	}
	return l.entries[len(l.entries)-1].clone(), true
}

// HeadHash returns the Hash of the last entry, or GenesisHash when empty.
func (l *Log[A]) HeadHash() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return headHash(l.entries)
}

// Seal assigns Seq, PrevHash and Hash against the current head without appending.
//
// Description:
//
//	The timestamp is normalized to UTC. A timestamp earlier than the head's
//	is rejected with ErrNonMonotonicTimestamp. The returned entry can be
//	persisted to a sink before AppendSealed commits it in memory.
//
// Inputs:
//
//	entry - Entry with every content field populated. Seq, PrevHash and Hash
//	        are overwritten.
//
// Outputs:
//
//	Entry[A] - The sealed entry.
//	error - ErrNonMonotonicTimestamp, or a hashing failure.
func (l *Log[A]) Seal(entry Entry[A]) (Entry[A], error) {
	l.mu.RLock()
	n := len(l.entries)
	prev := headHash(l.entries)
	headTime := entry.Timestamp
	if n > 0 {
		headTime = l.entries[n-1].Timestamp
	}
	l.mu.RUnlock()

	entry.Timestamp = entry.Timestamp.UTC()
	if entry.Timestamp.Before(headTime) {
		return Entry[A]{}, fmt.Errorf("%w: %s before %s", ErrNonMonotonicTimestamp,
			entry.Timestamp.Format(time.RFC3339Nano), headTime.UTC().Format(time.RFC3339Nano))
	}

	entry = entry.clone()
	entry.Seq = uint64(n)
	entry.PrevHash = prev
	h, err := ComputeHash(entry)
	if err != nil {
		return Entry[A]{}, err
	}
	entry.Hash = h
	return entry, nil
}

// AppendSealed commits an entry produced by Seal.
//
// Fails with ErrChainBroken if another append happened after sealing, or if
// the entry was modified after sealing.
func (l *Log[A]) AppendSealed(entry Entry[A]) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Seq != uint64(len(l.entries)) || entry.PrevHash != headHash(l.entries) {
		return fmt.Errorf("%w: entry seq %d, log length %d", ErrChainBroken, entry.Seq, len(l.entries))
	}
	computed, err := ComputeHash(entry)
	if err != nil {
		return err
	}
	if computed != entry.Hash {
		return fmt.Errorf("%w: entry %d modified after sealing", ErrChainBroken, entry.Seq)
	}

	l.entries = append(l.entries, entry.clone())
	return nil
}

// Append seals and commits entry in one step.
func (l *Log[A]) Append(entry Entry[A]) (Entry[A], error) {
	sealed, err := l.Seal(entry)
	if err != nil {
		return Entry[A]{}, err
	}
	if err := l.AppendSealed(sealed); err != nil {
		return Entry[A]{}, err
	}
	return sealed.clone(), nil
}

// Replace swaps the whole log for entries after verifying their chain.
//
// Outputs:
//
//	error - Wraps ErrIntegrity if entries do not form a valid chain. The log
//	        is unchanged on error.
func (l *Log[A]) Replace(entries []Entry[A]) error {
	if err := Verify(entries).Err(); err != nil {
		return err
	}
	fresh := make([]Entry[A], len(entries))
	for i, e := range entries {
		fresh[i] = e.clone()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = fresh
	return nil
}

// VerifyChain verifies the current contents.
func (l *Log[A]) VerifyChain() VerifyResult {
	return l.Snapshot().Verify()
}

// Snapshot returns an immutable view of the log as of now.
func (l *Log[A]) Snapshot() Snapshot[A] {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.entries)
	return Snapshot[A]{entries: l.entries[:n:n]}
}

// All iterates the log. The snapshot is taken when iteration begins, so each
// range over the returned sequence sees the log as of that moment.
func (l *Log[A]) All() iter.Seq2[int, Entry[A]] {
	return func(yield func(int, Entry[A]) bool) {
		for i, e := range l.Snapshot().All() {
			if !yield(i, e) {
				return
			}
		}
	}
}

func headHash[A any](entries []Entry[A]) string {
	if len(entries) == 0 {
		return GenesisHash
	}
	return entries[len(entries)-1].Hash
}

// -----------------------------------------------------------------------------
// Snapshot
// -----------------------------------------------------------------------------

// Snapshot is a point-in-time, read-only view of a Log.
//
// Thread Safety: Safe for concurrent use; never changes after creation.
type Snapshot[A any] struct {
	entries []Entry[A]
}

// NewSnapshot wraps a copy of entries.
func NewSnapshot[A any](entries []Entry[A]) Snapshot[A] {
	cp := make([]Entry[A], len(entries))
	for i, e := range entries {
		cp[i] = e.clone()
	}
	return Snapshot[A]{entries: cp}
}

// Len returns the number of entries.
func (s Snapshot[A]) Len() int {
	return len(s.entries)
}

// At returns entry i.
func (s Snapshot[A]) At(i int) (Entry[A], bool) {
	if i < 0 || i >= len(s.entries) {
		return Entry[A]{}, false
	}
	return s.entries[i].clone(), true
}

// Head returns the last entry.
func (s Snapshot[A]) Head() (Entry[A], bool) {
	return s.At(len(s.entries) - 1)
}

// HeadHash returns the last entry's Hash, or GenesisHash when empty.
func (s Snapshot[A]) HeadHash() string {
	return headHash(s.entries)
}

// Entries returns a detached copy of every entry.
func (s Snapshot[A]) Entries() []Entry[A] {
	out := make([]Entry[A], len(s.entries))
	for i, e := range s.entries {
		out[i] = e.clone()
	}
	return out
}

// All iterates the snapshot in append order. Restartable and finite.
func (s Snapshot[A]) All() iter.Seq2[int, Entry[A]] {
	return func(yield func(int, Entry[A]) bool) {
		for i, e := range s.entries {
			if !yield(i, e.clone()) {
				return
			}
		}
	}
}

// Filter returns the entries of the given kind, in order.
func (s Snapshot[A]) Filter(kind Kind) []Entry[A] {
	var out []Entry[A]
	for _, e := range s.entries {
		if e.Kind == kind {
			out = append(out, e.clone())
		}
	}
	return out
}

// StateHashes returns each entry's resulting state hash, in order.
func (s Snapshot[A]) StateHashes() []string {
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.ResultingStateHash()
	}
	return out
}

// Verify checks the snapshot's chain.
func (s Snapshot[A]) Verify() VerifyResult {
	return Verify(s.entries)
}

// Equal reports whether two snapshots hold the same sealed entries.
func (s Snapshot[A]) Equal(other Snapshot[A]) bool {
	return slices.EqualFunc(s.entries, other.entries, func(a, b Entry[A]) bool {
		return a.Hash == b.Hash && a.Seq == b.Seq
	})
}
