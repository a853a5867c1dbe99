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

import "context"

// Sink receives every sealed entry before it is committed in memory.
//
// Description:
//
//	The in-memory Log stays authoritative; a Sink is a durable mirror. A
//	Persist error aborts the submission before any in-memory effect, so a
//	sink never lags behind the log it mirrors.
type Sink[A any] interface {
	Persist(ctx context.Context, entry Entry[A]) error
}

// Source loads a previously persisted chain, in append order.
type Source[A any] interface {
	Load(ctx context.Context) ([]Entry[A], error)
}

// Rewriter is implemented by sinks that can replace their whole contents.
// Restore calls it so the sink mirrors the replaced log.
type Rewriter[A any] interface {
	Rewrite(ctx context.Context, entries []Entry[A]) error
}

// Store is a sink that can also be read back and rewritten.
type Store[A any] interface {
	Sink[A]
	Source[A]
	Rewriter[A]
	Close() error
}
