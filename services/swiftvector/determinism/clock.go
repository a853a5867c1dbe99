// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package determinism isolates every source of nondeterminism the state
// container consumes: wall-clock time, unique identifiers and randomness.
//
// Each source is an interface with a production implementation and one or
// more deterministic test doubles. Doubles are plain instances guarded by their
// own mutex; there are no process-wide singletons, so independent containers
// in the same process never share a sequence.
//
// Exhausting a fixed sequence is a hard failure (ErrSequenceExhausted), never
// a wraparound. Callers surface it rather than continuing with a fabricated
// value.
package determinism

import (
	"errors"
	"sync"
	"time"
)

// ErrSequenceExhausted is returned when a fixed-sequence double has no values left.
var ErrSequenceExhausted = errors.New("deterministic sequence exhausted")

// Clock supplies timestamps for audit entries.
//
// Implementations must be non-decreasing: a call never returns an instant
// earlier than a previous call on the same Clock.
type Clock interface {
	Now() time.Time
}

// -----------------------------------------------------------------------------
// SystemClock
// -----------------------------------------------------------------------------

// SystemClock reads the wall clock in UTC.
//
// Description:
//
//	time.Now().UTC() drops the monotonic reading, so a wall-clock step
//	backwards (NTP correction) could otherwise produce an earlier timestamp.
//	SystemClock clamps to the last returned instant to stay non-decreasing.
//
// Thread Safety: Safe for concurrent use.
type SystemClock struct {
	mu   sync.Mutex
	last time.Time
}

// NewSystemClock returns a wall clock.
func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

// Now returns the current UTC time, never earlier than a previous result.
func (c *SystemClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	if now.Before(c.last) {
		return c.last
	}
	c.last = now
	return now
}

// -----------------------------------------------------------------------------
// ManualClock
// -----------------------------------------------------------------------------

// ManualClock is a settable clock for tests and deterministic simulations.
//
// Description:
//
//	Returns the configured instant on every call. When a step is configured,
//	every call to Now advances the clock by that step after reading, so a
//	sequence of calls yields start, start+step, start+2*step and so on.
//
// Thread Safety: Safe for concurrent use.
type ManualClock struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time
	step  time.Duration
}

// NewManualClock returns a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	start = start.UTC()
	return &ManualClock{start: start, now: start}
}

// NewSteppingClock returns a clock that advances by step on every read.
func NewSteppingClock(start time.Time, step time.Duration) *ManualClock {
	c := NewManualClock(start)
	if step > 0 {
		c.step = step
	}
	return c
}

// Now returns the current instant and applies the configured step.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

// Set moves the clock to t. Moving backwards is ignored to keep the clock
// non-decreasing.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t = t.UTC()
	if t.Before(c.now) {
		return
	}
	c.now = t
}

// Advance moves the clock forward by d. Negative durations are ignored.
func (c *ManualClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Reset rewinds the clock to its start instant.
func (c *ManualClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
