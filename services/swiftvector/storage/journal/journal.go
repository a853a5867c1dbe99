// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package journal persists audit entries to BadgerDB as a write-ahead log.
//
// Key format:   "entry:{len(session_id)}:{session_id}:" + [8-byte big-endian seq]
// Value format: [4-byte big-endian CRC32 IEEE][JSON-encoded entry]
//
// The length prefix keeps one session's prefix from matching another session
// whose id merely starts with it ("run" and "run:2").
//
// The CRC catches storage-level corruption; the entry hash chain, checked by
// the caller after Load, catches everything else.
package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"sync"
	"sync/atomic"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/audit"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/storage/badger"
)

// -----------------------------------------------------------------------------
// Journal Errors
// -----------------------------------------------------------------------------

var (
	// ErrJournalClosed is returned when operations are called on a closed journal.
	ErrJournalClosed = errors.New("journal is closed")

	// ErrJournalCorrupted is returned when an entry fails its CRC check.
	ErrJournalCorrupted = errors.New("journal entry corrupted (CRC mismatch)")

	// ErrJournalSequenceGap is returned when stored or persisted sequence
	// numbers are not contiguous from zero.
	ErrJournalSequenceGap = errors.New("journal sequence number gap detected")

	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("context must not be nil")
)

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var (
	writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swiftvector_journal_writes_total",
		Help: "Journal writes by operation and result",
	}, []string{"op", "result"})

	bytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swiftvector_journal_bytes_written_total",
		Help: "Encoded bytes written to the journal",
	})

	corruptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swiftvector_journal_corrupted_total",
		Help: "Entries that failed the CRC check on load",
	})
)

// -----------------------------------------------------------------------------
// Config
// -----------------------------------------------------------------------------

// Config configures a Journal.
type Config struct {
	// SessionID scopes the journal. Required. Several sessions may share one
	// database.
	SessionID string

	// DB is an already open database. When nil, one is opened from Badger
	// and owned (closed) by the journal.
	DB *badger.DB

	// Badger is used when DB is nil.
	Badger badger.Config

	// Logger for journal operations. Default: slog.Default().
	Logger *slog.Logger
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.SessionID == "" {
		return errors.New("session_id must not be empty")
	}
	if c.DB == nil && !c.Badger.InMemory && c.Badger.Path == "" {
		return errors.New("path is required for persistent journal")
	}
	return nil
}

// Stats describes the journal contents.
type Stats struct {
	Entries int64
	Bytes   int64
	// NextSeq is the sequence number the next Persist must carry.
	NextSeq uint64
}

// -----------------------------------------------------------------------------
// Journal
// -----------------------------------------------------------------------------

// Journal stores one session's audit chain.
//
// Description:
//
//	Implements audit.Sink, audit.Source and audit.Rewriter. Persist enforces
//	that sequence numbers arrive contiguously, so the journal mirrors the
//	in-memory log exactly.
//
// Thread Safety: Safe for concurrent use.
type Journal[A any] struct {
	db     *badger.DB
	ownsDB bool
	cfg    Config
	logger *slog.Logger

	// mu orders writers so the sequence check and the write are atomic.
	mu      sync.Mutex
	nextSeq uint64

	entries atomic.Int64
	bytes   atomic.Int64
	closed  atomic.Bool
}

var (
	_ audit.Store[struct{}] = (*Journal[struct{}])(nil)
)

// Open opens the journal for cfg.SessionID and scans for its tail.
//
// Outputs:
//
//	*Journal[A] - Ready-to-use journal. Call Close when done.
//	error - Config, open or scan errors.
func Open[A any](cfg Config) (*Journal[A], error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	j := &Journal[A]{
		cfg:    cfg,
		logger: cfg.Logger.With(slog.String("component", "journal"), slog.String("session_id", cfg.SessionID)),
	}

	if cfg.DB != nil {
		j.db = cfg.DB
	} else {
		bcfg := cfg.Badger
		if bcfg.Logger == nil {
			bcfg.Logger = cfg.Logger
		}
		db, err := badger.Open(bcfg)
		if err != nil {
			return nil, fmt.Errorf("open badger: %w", err)
		}
		j.db, j.ownsDB = db, true
	}

	if err := j.initTail(context.Background()); err != nil {
		if j.ownsDB {
			_ = j.db.Close()
		}
		return nil, fmt.Errorf("init sequence number: %w", err)
	}

	j.logger.Info("journal opened",
		slog.String("path", j.db.Path()),
		slog.Bool("in_memory", j.db.InMemory()),
		slog.Uint64("next_seq", j.nextSeq))
	return j, nil
}

// initTail finds the highest stored sequence number.
func (j *Journal[A]) initTail(ctx context.Context) error {
	prefix := j.keyPrefix()
	last, err := j.db.LastKey(ctx, []byte(prefix))
	if err != nil {
		return err
	}
	if last == nil {
		j.nextSeq = 0
		return nil
	}
	seq, err := parseSeq(last, prefix)
	if err != nil {
		return err
	}
	j.nextSeq = seq + 1
	return nil
}

func (j *Journal[A]) keyPrefix() string {
	return sessionPrefix(j.cfg.SessionID)
}

func sessionPrefix(sessionID string) string {
	return fmt.Sprintf("entry:%d:%s:", len(sessionID), sessionID)
}

func (j *Journal[A]) entryKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte(j.keyPrefix()), seq)
}

func parseSeq(key []byte, prefix string) (uint64, error) {
	rest := key[len(prefix):]
	if len(rest) != 8 {
		return 0, fmt.Errorf("malformed journal key %q: %d sequence bytes", key, len(rest))
	}
	return binary.BigEndian.Uint64(rest), nil
}

// encodeEntry frames the JSON encoding of e with a CRC32.
func encodeEntry[A any](e audit.Entry[A]) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out[:4], crc32.ChecksumIEEE(payload))
	copy(out[4:], payload)
	return out, nil
}

// decodeEntry validates the CRC and decodes.
func decodeEntry[A any](data []byte) (audit.Entry[A], error) {
	var e audit.Entry[A]
	if len(data) < 5 {
		return e, fmt.Errorf("%w: entry too short", ErrJournalCorrupted)
	}
	stored := binary.BigEndian.Uint32(data[:4])
	payload := data[4:]
	if computed := crc32.ChecksumIEEE(payload); stored != computed {
		return e, fmt.Errorf("%w: stored=%08x computed=%08x", ErrJournalCorrupted, stored, computed)
	}
	if err := json.Unmarshal(payload, &e); err != nil {
		return e, fmt.Errorf("json decode: %w", err)
	}
	return e, nil
}

func (j *Journal[A]) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("session_id", j.cfg.SessionID))
	return otel.Tracer("swiftvector.journal").Start(ctx, name, trace.WithAttributes(attrs...))
}

// Persist writes one sealed entry.
//
// Description:
//
//	entry.Seq must equal Stats().NextSeq; anything else is
//	ErrJournalSequenceGap and nothing is written.
func (j *Journal[A]) Persist(ctx context.Context, entry audit.Entry[A]) error {
	if ctx == nil {
		return ErrNilContext
	}
	if j.closed.Load() {
		return ErrJournalClosed
	}

	ctx, span := j.startSpan(ctx, "journal.Persist", attribute.Int64("seq", int64(entry.Seq)))
	defer span.End()

	data, err := encodeEntry(entry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		writesTotal.WithLabelValues("persist", "error").Inc()
		return fmt.Errorf("encode entry: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if entry.Seq != j.nextSeq {
		err := fmt.Errorf("%w: expected %d, got %d", ErrJournalSequenceGap, j.nextSeq, entry.Seq)
		span.SetStatus(codes.Error, "sequence gap")
		writesTotal.WithLabelValues("persist", "error").Inc()
		return err
	}

	if err := j.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set(j.entryKey(entry.Seq), data)
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		writesTotal.WithLabelValues("persist", "error").Inc()
		return fmt.Errorf("write entry: %w", err)
	}

	j.nextSeq++
	j.entries.Add(1)
	j.bytes.Add(int64(len(data)))
	bytesWritten.Add(float64(len(data)))
	writesTotal.WithLabelValues("persist", "ok").Inc()
	span.SetAttributes(attribute.Int("entry_bytes", len(data)))

	j.logger.Debug("entry persisted",
		slog.Uint64("seq", entry.Seq),
		slog.String("kind", string(entry.Kind)),
		slog.Int("bytes", len(data)))
	return nil
}

// Load returns every stored entry in sequence order.
//
// Outputs:
//
//	[]audit.Entry[A] - The chain. Empty if nothing was persisted.
//	error - ErrJournalCorrupted, ErrJournalSequenceGap, decode or read errors.
func (j *Journal[A]) Load(ctx context.Context) ([]audit.Entry[A], error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if j.closed.Load() {
		return nil, ErrJournalClosed
	}

	ctx, span := j.startSpan(ctx, "journal.Load")
	defer span.End()

	prefix := j.keyPrefix()
	var (
		out   []audit.Entry[A]
		bytes int64
	)
	err := j.db.ScanPrefix(ctx, []byte(prefix), func(key, value []byte) error {
		seq, err := parseSeq(key, prefix)
		if err != nil {
			return err
		}
		if want := uint64(len(out)); seq != want {
			return fmt.Errorf("%w: expected %d, got %d", ErrJournalSequenceGap, want, seq)
		}
		e, err := decodeEntry[A](value)
		if err != nil {
			if errors.Is(err, ErrJournalCorrupted) {
				corruptedTotal.Inc()
			}
			return fmt.Errorf("entry %d: %w", seq, err)
		}
		if e.Seq != seq {
			return fmt.Errorf("%w: key %d holds entry %d", ErrJournalSequenceGap, seq, e.Seq)
		}
		out = append(out, e)
		bytes += int64(len(value))
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		j.logger.Error("journal load failed", slog.String("error", err.Error()))
		return nil, err
	}

	j.entries.Store(int64(len(out)))
	j.bytes.Store(bytes)
	span.SetAttributes(attribute.Int("entries", len(out)))
	j.logger.Debug("journal loaded", slog.Int("entries", len(out)))
	return out, nil
}

// Rewrite replaces the stored chain with entries in one transaction.
func (j *Journal[A]) Rewrite(ctx context.Context, entries []audit.Entry[A]) error {
	if ctx == nil {
		return ErrNilContext
	}
	if j.closed.Load() {
		return ErrJournalClosed
	}

	ctx, span := j.startSpan(ctx, "journal.Rewrite", attribute.Int("entries", len(entries)))
	defer span.End()

	encoded := make([][]byte, len(entries))
	var total int64
	for i, e := range entries {
		if e.Seq != uint64(i) {
			err := fmt.Errorf("%w: position %d holds entry %d", ErrJournalSequenceGap, i, e.Seq)
			span.SetStatus(codes.Error, "sequence gap")
			return err
		}
		data, err := encodeEntry(e)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("encode entry %d: %w", i, err)
		}
		encoded[i] = data
		total += int64(len(data))
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	prefix := []byte(j.keyPrefix())
	err := j.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		var stale [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		for i, data := range encoded {
			if err := txn.Set(j.entryKey(uint64(i)), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rewrite failed")
		writesTotal.WithLabelValues("rewrite", "error").Inc()
		return fmt.Errorf("rewrite journal: %w", err)
	}

	j.nextSeq = uint64(len(entries))
	j.entries.Store(int64(len(entries)))
	j.bytes.Store(total)
	bytesWritten.Add(float64(total))
	writesTotal.WithLabelValues("rewrite", "ok").Inc()
	j.logger.Info("journal rewritten", slog.Int("entries", len(entries)))
	return nil
}

// Stats returns counters for this journal. Entries and Bytes reflect what
// this process has loaded or written.
func (j *Journal[A]) Stats() Stats {
	j.mu.Lock()
	next := j.nextSeq
	j.mu.Unlock()
	return Stats{Entries: j.entries.Load(), Bytes: j.bytes.Load(), NextSeq: next}
}

// Sync flushes pending writes to disk.
func (j *Journal[A]) Sync() error {
	if j.closed.Load() {
		return ErrJournalClosed
	}
	return j.db.Sync()
}

// Close syncs and, when the journal opened the database, closes it.
// Safe to call more than once.
func (j *Journal[A]) Close() error {
	if !j.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := j.db.Sync(); err != nil {
		j.logger.Warn("sync on close failed", slog.String("error", err.Error()))
	}
	if j.ownsDB {
		return j.db.Close()
	}
	return nil
}
