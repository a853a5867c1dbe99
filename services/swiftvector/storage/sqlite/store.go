// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlite persists audit entries in a SQLite database.
//
// One row per entry, keyed by (session_id, seq). The full entry is stored as
// JSON in payload; kind, hashes and timestamp are duplicated into columns so
// the log can be inspected with plain SQL.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/audit"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/storage/sqlite/migrations"
)

var (
	// ErrSequenceGap is returned when entries are not contiguous from zero.
	ErrSequenceGap = errors.New("audit store sequence gap")

	// ErrCorrupted is returned when a row disagrees with its payload.
	ErrCorrupted = errors.New("audit store row corrupted")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("audit store is closed")
)

// Store is a SQLite audit.Store for one session.
type Store[A any] struct {
	sqlDB     *sql.DB
	sessionID string
	logger    *slog.Logger
	closed    atomic.Bool
}

var _ audit.Store[struct{}] = (*Store[struct{}])(nil)

// Open opens the database at path, applies migrations and scopes the store
// to sessionID.
func Open[A any](path, sessionID string, logger *slog.Logger) (*Store[A], error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store[A]{
		sqlDB:     sqlDB,
		sessionID: sessionID,
		logger:    logger.With(slog.String("component", "sqlite_store"), slog.String("session_id", sessionID)),
	}
	s.logger.Info("audit store opened", slog.String("path", path))
	return s, nil
}

// Close closes the SQLite handle. Safe to call more than once, and
// concurrently with other methods, which then fail with ErrClosed.
func (s *Store[A]) Close() error {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store[A]) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer("swiftvector.sqlite").Start(ctx, name,
		trace.WithAttributes(attribute.String("session_id", s.sessionID)))
}

type row struct {
	seq        int64
	entryID    string
	kind       string
	recordedAt int64
	prevHash   string
	entryHash  string
	payload    []byte
}

func toRow[A any](e audit.Entry[A]) (row, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return row{}, fmt.Errorf("encode entry %d: %w", e.Seq, err)
	}
	return row{
		seq:        int64(e.Seq),
		entryID:    e.ID,
		kind:       string(e.Kind),
		recordedAt: e.Timestamp.UTC().UnixNano(),
		prevHash:   e.PrevHash,
		entryHash:  e.Hash,
		payload:    payload,
	}, nil
}

const insertSQL = `INSERT INTO audit_entries (
    session_id, seq, entry_id, kind, recorded_at, prev_hash, entry_hash, payload
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (s *Store[A]) insert(ctx context.Context, tx *sql.Tx, r row) error {
	_, err := tx.ExecContext(ctx, insertSQL,
		s.sessionID, r.seq, r.entryID, r.kind, r.recordedAt, r.prevHash, r.entryHash, r.payload)
	if isConstraintError(err) {
		return fmt.Errorf("%w: seq %d already stored", ErrSequenceGap, r.seq)
	}
	return err
}

// Persist appends one entry. Its Seq must follow the stored tail.
func (s *Store[A]) Persist(ctx context.Context, entry audit.Entry[A]) error {
	if s.closed.Load() {
		return ErrClosed
	}
	ctx, span := s.startSpan(ctx, "sqlite.Persist")
	defer span.End()
	span.SetAttributes(attribute.Int64("seq", int64(entry.Seq)))

	r, err := toRow(entry)
	if err != nil {
		span.RecordError(err)
		return err
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var next int64
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq) + 1, 0) FROM audit_entries WHERE session_id = ?`, s.sessionID,
		).Scan(&next); err != nil {
			return fmt.Errorf("read tail: %w", err)
		}
		if r.seq != next {
			return fmt.Errorf("%w: expected %d, got %d", ErrSequenceGap, next, r.seq)
		}
		return s.insert(ctx, tx, r)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return err
	}
	s.logger.Debug("entry persisted", slog.Uint64("seq", entry.Seq), slog.String("kind", string(entry.Kind)))
	return nil
}

// Load returns the session's entries in sequence order.
func (s *Store[A]) Load(ctx context.Context) ([]audit.Entry[A], error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	ctx, span := s.startSpan(ctx, "sqlite.Load")
	defer span.End()

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT seq, entry_hash, payload FROM audit_entries WHERE session_id = ? ORDER BY seq`, s.sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry[A]
	for rows.Next() {
		var (
			seq     int64
			hash    string
			payload []byte
		)
		if err := rows.Scan(&seq, &hash, &payload); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if want := int64(len(out)); seq != want {
			return nil, fmt.Errorf("%w: expected %d, got %d", ErrSequenceGap, want, seq)
		}
		var e audit.Entry[A]
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %w", ErrCorrupted, seq, err)
		}
		if int64(e.Seq) != seq || e.Hash != hash {
			return nil, fmt.Errorf("%w: entry %d columns disagree with payload", ErrCorrupted, seq)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	span.SetAttributes(attribute.Int("entries", len(out)))
	return out, nil
}

// Rewrite replaces the session's entries in one transaction.
func (s *Store[A]) Rewrite(ctx context.Context, entries []audit.Entry[A]) error {
	if s.closed.Load() {
		return ErrClosed
	}
	ctx, span := s.startSpan(ctx, "sqlite.Rewrite")
	defer span.End()

	rows := make([]row, len(entries))
	for i, e := range entries {
		if e.Seq != uint64(i) {
			return fmt.Errorf("%w: position %d holds entry %d", ErrSequenceGap, i, e.Seq)
		}
		r, err := toRow(e)
		if err != nil {
			return err
		}
		rows[i] = r
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM audit_entries WHERE session_id = ?`, s.sessionID); err != nil {
			return fmt.Errorf("clear entries: %w", err)
		}
		for _, r := range rows {
			if err := s.insert(ctx, tx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rewrite failed")
		return err
	}
	s.logger.Info("audit store rewritten", slog.Int("entries", len(entries)))
	return nil
}

// Sessions lists every session id with stored entries.
func (s *Store[A]) Sessions(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT DISTINCT session_id FROM audit_entries ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store[A]) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
