// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/stephen-sweeney/SwiftVector-sub001/pkg/logging"
	"github.com/stephen-sweeney/SwiftVector-sub001/pkg/ux"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/adventure"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/audit"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/config"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/governance"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/orchestrator"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/storage/badger"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/storage/journal"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/storage/sqlite"
)

// ErrNoPersistentStore is returned by commands that read a stored log when
// the memory backend is configured.
var ErrNoPersistentStore = errors.New("command requires the badger or sqlite backend")

type (
	gameConfig = orchestrator.Config[adventure.State, adventure.Action]
	gameEntry  = audit.Entry[adventure.Action]
	gameStore  = audit.Store[adventure.Action]
)

// scenarioStart is the fixed clock origin for deterministic sessions.
var scenarioStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// app carries what every command needs after flags and config are resolved.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	backend    string
	path       string
	logLevel   string
	session    string

	cfg    config.Config
	logger *logging.Logger
	out    *ux.Printer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "swiftvector",
		Short: "Deterministic state orchestration with a hash-chained audit log",
		Long: `swiftvector runs agents against a single serialized state container.
Every proposal is reduced, recorded in a tamper-evident audit log and can be
replayed to reproduce the exact sequence of state hashes.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.logger != nil {
				return a.logger.Close()
			}
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "YAML or JSON config file")
	flags.StringVar(&a.backend, "backend", "", "storage backend: memory, badger or sqlite")
	flags.StringVar(&a.path, "path", "", "storage path (badger directory or sqlite file)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.StringVar(&a.session, "session", "", "session id")

	root.AddCommand(
		newSimulateCmd(a),
		newScenarioCmd(a),
		newVerifyCmd(a),
		newReplayCmd(a),
		newLogCmd(a),
		newPolicyCmd(a),
	)
	return root
}

// setup loads config, applies flag overrides and builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.backend != "" {
		cfg.Storage.Backend = a.backend
	}
	if a.path != "" {
		cfg.Storage.Path = a.path
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.session != "" {
		cfg.Session.ID = a.session
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "swiftvector",
		JSON:    cfg.Logging.JSON,
		Output:  a.stderr,
	})
	a.out = ux.NewPrinter(a.stdout)
	a.logger.Debug("config loaded",
		slog.String("command", cmd.Name()),
		slog.String("backend", cfg.Storage.Backend),
		slog.String("session_id", cfg.Session.ID))
	return nil
}

// openStore opens the configured backend for sessionID. The memory backend
// returns a nil store.
func (a *app) openStore(sessionID string) (gameStore, error) {
	logger := a.logger.Slog()
	switch a.cfg.Storage.Backend {
	case config.BackendMemory:
		return nil, nil
	case config.BackendBadger:
		bcfg := badger.DefaultConfig(a.cfg.Storage.Path)
		bcfg.SyncWrites = a.cfg.Storage.SyncWrites
		bcfg.GCInterval = a.cfg.Storage.GCInterval
		bcfg.Logger = logger
		return journal.Open[adventure.Action](journal.Config{
			SessionID: sessionID,
			Badger:    bcfg,
			Logger:    logger,
		})
	case config.BackendSQLite:
		return sqlite.Open[adventure.Action](a.cfg.Storage.Path, sessionID, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
}

// loadStored opens the persistent store and reads the session's chain.
func (a *app) loadStored(ctx context.Context) (gameStore, []gameEntry, error) {
	if a.cfg.Storage.Backend == config.BackendMemory {
		return nil, nil, ErrNoPersistentStore
	}
	store, err := a.openStore(a.cfg.Session.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	entries, err := store.Load(ctx)
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("load session %q: %w", a.cfg.Session.ID, err)
	}
	if len(entries) == 0 {
		_ = store.Close()
		return nil, nil, fmt.Errorf("session %q has no stored entries", a.cfg.Session.ID)
	}
	return store, entries, nil
}

// governor returns the configured governance gate, or nil when disabled.
func (a *app) governor() (*governance.Gate[adventure.State, adventure.Action], error) {
	if !a.cfg.Governance.Enabled {
		return nil, nil
	}
	engine, err := governance.LoadFile(a.cfg.Governance.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("load governance policy: %w", err)
	}
	return governance.NewGate[adventure.State, adventure.Action](engine), nil
}

// gameConfig builds the container config shared by every command.
func (a *app) gameConfig(store gameStore) (gameConfig, error) {
	cfg := gameConfig{
		SessionID: a.cfg.Session.ID,
		QueueSize: a.cfg.Session.QueueSize,
		Logger:    a.logger.Slog(),
	}
	if store != nil {
		cfg.Sink = store
	}
	gate, err := a.governor()
	if err != nil {
		return cfg, err
	}
	if gate != nil {
		cfg.Governor = gate
	}
	return cfg, nil
}

// rows flattens entries for the printer.
func rows(entries []gameEntry) []ux.Row {
	out := make([]ux.Row, len(entries))
	for i, e := range entries {
		r := ux.Row{
			Seq:       e.Seq,
			Kind:      string(e.Kind),
			AgentID:   e.AgentID,
			Rationale: e.Rationale,
			Hash:      e.ResultingStateHash(),
			Outcome:   ux.OutcomeSystem,
		}
		if e.Note != "" && r.Rationale == "" {
			r.Rationale = e.Note
		}
		if e.Kind == audit.KindProposalOutcome {
			r.Outcome = ux.OutcomeRejected
			if e.Applied {
				r.Outcome = ux.OutcomeApplied
			}
			if e.Action != nil {
				r.Action = e.Action.String()
			}
		}
		out[i] = r
	}
	return out
}

func stateSummary(s adventure.State, hash string) [][2]string {
	return [][2]string{
		{"location", s.Location()},
		{"health", fmt.Sprint(s.Health())},
		{"gold", fmt.Sprint(s.Gold())},
		{"inventory", fmt.Sprint(s.Inventory())},
		{"game over", fmt.Sprint(s.GameOver())},
		{"state hash", hash},
	}
}
