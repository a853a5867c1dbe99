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
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/adventure"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/audit"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/determinism"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/orchestrator"
)

// =============================================================================
// VERIFY COMMAND
// =============================================================================

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the hash chain and replay fold of a stored session",
		Long: `Loads the stored session, recomputes every entry seal and link, then folds
the log through the reducer and checks every recorded state hash.

Exit codes:
  0  chain and fold verified
  1  verification failed
  2  the log could not be loaded`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runVerify(cmd.Context())
		},
	}
}

func (a *app) runVerify(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, entries, err := a.loadStored(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	a.out.Title("Verify " + a.cfg.Session.ID)
	res := audit.Verify(entries)
	if !res.Valid {
		a.logger.Error("chain verification failed",
			slog.String("session_id", a.cfg.Session.ID),
			slog.Int("first_bad_index", res.FirstBadIndex),
			slog.String("violation", string(res.Violation)))
		a.out.Error(res.Err().Error())
		return checkFailed(res.Err())
	}
	a.out.Success(fmt.Sprintf("chain valid: %d entries", res.Checked))

	report, err := orchestrator.VerifyReplay(adventure.InitialState(), adventure.NewReducer(), entries, nil)
	if err != nil {
		a.out.Error(err.Error())
		return checkFailed(err)
	}
	a.out.Success(fmt.Sprintf("fold reproduces %d state hashes (%d applied, %d not applied)",
		len(report.Hashes), report.Applied, report.Skipped))
	a.out.KeyValues(stateSummary(report.State, report.StateHash)...)
	return nil
}

// =============================================================================
// REPLAY COMMAND
// =============================================================================

func newReplayCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Replay a stored session into a fresh container and compare hashes",
		Long: `Extracts every proposed action from the stored session, submits them in
order to a fresh in-memory container as agent REPLAY, and compares the
resulting sequence of state hashes with the stored one. The configured
governance policy is applied to the replay as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runReplay(cmd.Context())
		},
	}
}

func (a *app) runReplay(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, entries, err := a.loadStored(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	cfg, err := a.gameConfig(nil)
	if err != nil {
		return err
	}
	cfg.SessionID = a.cfg.Session.ID + "-replay"
	cfg.Sources = determinism.Deterministic(0, scenarioStart)

	o, err := orchestrator.New(ctx, adventure.InitialState(), adventure.NewReducer(), cfg)
	if err != nil {
		return fmt.Errorf("start replay container: %w", err)
	}
	defer o.Close()

	actions := orchestrator.Actions(entries)
	if _, err := orchestrator.ReplayActions(ctx, o, actions); err != nil {
		return err
	}

	a.out.Title("Replay " + a.cfg.Session.ID)
	if err := orchestrator.CompareHashSequences(entries, o.AuditLog().Entries()); err != nil {
		a.out.Error(err.Error())
		return checkFailed(err)
	}
	a.out.Success(fmt.Sprintf("replayed %d actions, state hash %s", len(actions), shortHash(o.CurrentStateHash())))
	return nil
}

// =============================================================================
// LOG COMMAND
// =============================================================================

func newLogCmd(a *app) *cobra.Command {
	var (
		asJSON bool
		kind   string
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print a stored session's audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runLog(cmd.Context(), kind, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON entry per line")
	cmd.Flags().StringVar(&kind, "kind", "", "only entries of this kind")
	return cmd
}

func (a *app) runLog(ctx context.Context, kind string, asJSON bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, entries, err := a.loadStored(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if kind != "" {
		entries = audit.NewSnapshot(entries).Filter(audit.Kind(kind))
	}

	if asJSON {
		enc := json.NewEncoder(a.stdout)
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return fmt.Errorf("encode entry %d: %w", e.Seq, err)
			}
		}
		return nil
	}
	a.out.Entries(rows(entries))
	return nil
}
