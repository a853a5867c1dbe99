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

import "time"

// Sources bundles the three nondeterminism sources a session consumes.
type Sources struct {
	Clock  Clock
	IDs    IDGenerator
	Random RandomSource
}

// System returns production sources: wall clock, UUIDv7 and runtime randomness.
func System() Sources {
	return Sources{
		Clock:  NewSystemClock(),
		IDs:    NewUUIDGenerator(),
		Random: NewSystemRandom(),
	}
}

// Deterministic returns fully reproducible sources.
//
// The clock starts at start and advances one millisecond per read; ids and
// randomness derive from seed. Two sessions built with the same arguments
// produce byte-identical audit logs for the same action sequence.
func Deterministic(seed uint64, start time.Time) Sources {
	return Sources{
		Clock:  NewSteppingClock(start, time.Millisecond),
		IDs:    NewSeededIDGenerator(seed),
		Random: NewSeededRandom(seed),
	}
}

// DeterministicAfter is Deterministic for a session that already issued
// issued identifiers from the same seed. The id stream resumes after them.
func DeterministicAfter(seed uint64, start time.Time, issued int) (Sources, error) {
	ids := NewSeededIDGenerator(seed)
	if err := ids.Skip(issued); err != nil {
		return Sources{}, err
	}
	return Sources{
		Clock:  NewSteppingClock(start, time.Millisecond),
		IDs:    ids,
		Random: NewSeededRandom(seed),
	}, nil
}

// WithDefaults fills any nil source with its production implementation.
func (s Sources) WithDefaults() Sources {
	if s.Clock == nil {
		s.Clock = NewSystemClock()
	}
	if s.IDs == nil {
		s.IDs = NewUUIDGenerator()
	}
	if s.Random == nil {
		s.Random = NewSystemRandom()
	}
	return s
}
