// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package determinism

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
)

// ErrInvalidRange is returned when Intn is called with n <= 0.
var ErrInvalidRange = errors.New("random range must be positive")

// RandomSource supplies randomness to proposers.
//
// The reducer never consumes a RandomSource; randomness only shapes which
// actions are proposed, never how they are judged.
type RandomSource interface {
	// Intn returns a value in [0, n).
	Intn(n int) (int, error)

	// Float64 returns a value in [0, 1).
	Float64() (float64, error)

	// Bool returns a coin flip.
	Bool() (bool, error)
}

// -----------------------------------------------------------------------------
// SystemRandom
// -----------------------------------------------------------------------------

// SystemRandom draws from the runtime's ChaCha8-seeded global generator.
type SystemRandom struct{}

// NewSystemRandom returns the production randomness source.
func NewSystemRandom() SystemRandom {
	return SystemRandom{}
}

// Intn returns rand.IntN(n).
func (SystemRandom) Intn(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRange, n)
	}
	return rand.IntN(n), nil
}

// Float64 returns rand.Float64().
func (SystemRandom) Float64() (float64, error) {
	return rand.Float64(), nil
}

// Bool returns a fair coin flip.
func (SystemRandom) Bool() (bool, error) {
	return rand.IntN(2) == 1, nil
}

// -----------------------------------------------------------------------------
// SeededRandom
// -----------------------------------------------------------------------------

// SeededRandom is a reproducible generator backed by PCG.
//
// Description:
//
//	math/rand/v2's PCG output is specified bit-for-bit, so the same seed
//	produces the same sequence on every platform. Reset rewinds to the seed.
//
// Thread Safety: Safe for concurrent use.
type SeededRandom struct {
	mu   sync.Mutex
	seed uint64
	pcg  *rand.PCG
	rng  *rand.Rand
}

// NewSeededRandom returns a generator keyed by seed.
func NewSeededRandom(seed uint64) *SeededRandom {
	pcg := rand.NewPCG(seed, seed^pcgStreamSalt)
	return &SeededRandom{seed: seed, pcg: pcg, rng: rand.New(pcg)}
}

// Intn returns a seeded value in [0, n).
func (r *SeededRandom) Intn(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRange, n)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.IntN(n), nil
}

// Float64 returns a seeded value in [0, 1).
func (r *SeededRandom) Float64() (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64(), nil
}

// Bool returns a seeded coin flip.
func (r *SeededRandom) Bool() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.IntN(2) == 1, nil
}

// Reset rewinds the generator to its seed.
func (r *SeededRandom) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pcg.Seed(r.seed, r.seed^pcgStreamSalt)
}

// -----------------------------------------------------------------------------
// FixedRandom
// -----------------------------------------------------------------------------

// FixedRandom replays caller-supplied sequences.
//
// Description:
//
//	Ints, floats and bools each have their own sequence and cursor. Values are
//	clamped into the requested range: an int is clamped into [0, n) and a
//	float into [0, 1). Once a sequence is consumed, further calls of that
//	kind return ErrSequenceExhausted.
//
// Example:
//
//	r := determinism.NewFixedRandom(determinism.Ints(2, 0, 1))
//	r.Intn(3) // 2
//	r.Intn(3) // 0
//	r.Intn(3) // 1
//	r.Intn(3) // ErrSequenceExhausted
//
// Thread Safety: Safe for concurrent use.
type FixedRandom struct {
	mu sync.Mutex

	ints   []int
	floats []float64
	bools  []bool

	intCursor   int
	floatCursor int
	boolCursor  int
}

// FixedOption seeds one of FixedRandom's sequences.
type FixedOption func(*FixedRandom)

// Ints sets the integer sequence.
func Ints(values ...int) FixedOption {
	return func(r *FixedRandom) { r.ints = append([]int(nil), values...) }
}

// Floats sets the float sequence.
func Floats(values ...float64) FixedOption {
	return func(r *FixedRandom) { r.floats = append([]float64(nil), values...) }
}

// Bools sets the bool sequence.
func Bools(values ...bool) FixedOption {
	return func(r *FixedRandom) { r.bools = append([]bool(nil), values...) }
}

// NewFixedRandom builds a fixed-sequence source.
func NewFixedRandom(opts ...FixedOption) *FixedRandom {
	r := &FixedRandom{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Intn returns the next fixed integer clamped into [0, n).
func (r *FixedRandom) Intn(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRange, n)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.intCursor >= len(r.ints) {
		return 0, fmt.Errorf("%w: int sequence of length %d", ErrSequenceExhausted, len(r.ints))
	}
	v := r.ints[r.intCursor]
	r.intCursor++
	return min(max(v, 0), n-1), nil
}

// Float64 returns the next fixed float clamped into [0, 1).
func (r *FixedRandom) Float64() (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.floatCursor >= len(r.floats) {
		return 0, fmt.Errorf("%w: float sequence of length %d", ErrSequenceExhausted, len(r.floats))
	}
	v := r.floats[r.floatCursor]
	r.floatCursor++
	switch {
	case math.IsNaN(v) || v < 0:
		return 0, nil
	case v >= 1:
		return math.Nextafter(1, 0), nil
	default:
		return v, nil
	}
}

// Bool returns the next fixed bool.
func (r *FixedRandom) Bool() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.boolCursor >= len(r.bools) {
		return false, fmt.Errorf("%w: bool sequence of length %d", ErrSequenceExhausted, len(r.bools))
	}
	v := r.bools[r.boolCursor]
	r.boolCursor++
	return v, nil
}

// Reset rewinds every sequence to its start.
func (r *FixedRandom) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intCursor, r.floatCursor, r.boolCursor = 0, 0, 0
}
