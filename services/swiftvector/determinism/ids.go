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
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator supplies unique identifiers for audit entries.
type IDGenerator interface {
	Next() (string, error)
}

// UUIDGenerator produces time-ordered UUIDv7 identifiers.
type UUIDGenerator struct{}

// NewUUIDGenerator returns the production identifier source.
func NewUUIDGenerator() UUIDGenerator {
	return UUIDGenerator{}
}

// Next returns a fresh UUIDv7 string.
func (UUIDGenerator) Next() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return id.String(), nil
}

// CounterIDGenerator yields prefix-000001, prefix-000002, ...
//
// Thread Safety: Safe for concurrent use.
type CounterIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      uint64
}

// NewCounterIDGenerator returns a counter starting at 1.
func NewCounterIDGenerator(prefix string) *CounterIDGenerator {
	return &CounterIDGenerator{prefix: prefix}
}

// Next returns the next counter identifier.
func (g *CounterIDGenerator) Next() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%06d", g.prefix, g.n), nil
}

// Reset restarts the counter.
func (g *CounterIDGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}

// SequenceIDGenerator returns a fixed list of identifiers in order.
//
// Description:
//
//	After the last identifier, Next fails with ErrSequenceExhausted. It never
//	wraps around to the first value.
//
// Thread Safety: Safe for concurrent use.
type SequenceIDGenerator struct {
	mu     sync.Mutex
	ids    []string
	cursor int
}

// NewSequenceIDGenerator copies ids into a new fixed sequence.
func NewSequenceIDGenerator(ids ...string) *SequenceIDGenerator {
	return &SequenceIDGenerator{ids: append([]string(nil), ids...)}
}

// Next returns the next identifier or ErrSequenceExhausted.
func (g *SequenceIDGenerator) Next() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cursor >= len(g.ids) {
		return "", fmt.Errorf("%w: id sequence of length %d", ErrSequenceExhausted, len(g.ids))
	}
	id := g.ids[g.cursor]
	g.cursor++
	return id, nil
}

// Remaining reports how many identifiers are left.
func (g *SequenceIDGenerator) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ids) - g.cursor
}

// Reset rewinds to the first identifier.
func (g *SequenceIDGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cursor = 0
}

// SeededIDGenerator produces reproducible random-looking UUIDs.
//
// Description:
//
//	Bytes come from a PCG stream keyed by the seed, so the same seed yields
//	the same identifiers on every platform and run.
//
// Thread Safety: Safe for concurrent use.
type SeededIDGenerator struct {
	mu   sync.Mutex
	seed uint64
	pcg  *rand.PCG
}

// NewSeededIDGenerator returns a generator keyed by seed.
func NewSeededIDGenerator(seed uint64) *SeededIDGenerator {
	return &SeededIDGenerator{seed: seed, pcg: rand.NewPCG(seed, seed^pcgStreamSalt)}
}

// Next returns the next seeded UUID.
func (g *SeededIDGenerator) Next() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := uuid.NewRandomFromReader(pcgReader{g.pcg})
	if err != nil {
		return "", fmt.Errorf("generate seeded uuid: %w", err)
	}
	return id.String(), nil
}

// Skip discards the next n identifiers, so a resumed session continues the
// stream instead of repeating it.
func (g *SeededIDGenerator) Skip(n int) error {
	for range n {
		if _, err := g.Next(); err != nil {
			return err
		}
	}
	return nil
}

// Reset rewinds the stream to the seed.
func (g *SeededIDGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pcg.Seed(g.seed, g.seed^pcgStreamSalt)
}

// pcgStreamSalt separates the second PCG word from the seed.
const pcgStreamSalt = 0x9e3779b97f4a7c15

// pcgReader adapts a PCG source to io.Reader for uuid.NewRandomFromReader.
type pcgReader struct {
	src *rand.PCG
}

func (r pcgReader) Read(p []byte) (int, error) {
	var buf [8]byte
	n := 0
	for n < len(p) {
		binary.LittleEndian.PutUint64(buf[:], r.src.Uint64())
		n += copy(p[n:], buf[:])
	}
	return n, nil
}
