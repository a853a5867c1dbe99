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
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/adventure"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/determinism"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/orchestrator"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/telemetry"
)

func newSimulateCmd(a *app) *cobra.Command {
	var (
		agents int
		steps  int
		seed   uint64
		resume bool
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run concurrent random agents against one container",
		Long: `Starts a container for the configured session and lets N agents propose
random adventure actions concurrently. Every outcome is persisted to the
configured backend. With --resume the stored chain is restored first and the
session continues from it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sim := a.cfg.Simulation
			if cmd.Flags().Changed("agents") {
				sim.Agents = agents
			}
			if cmd.Flags().Changed("steps") {
				sim.Steps = steps
			}
			if cmd.Flags().Changed("seed") {
				sim.Seed = seed
			}
			if sim.Agents < 1 || sim.Steps < 1 {
				return fmt.Errorf("agents and steps must be positive")
			}
			return a.runSimulate(cmd.Context(), sim.Agents, sim.Steps, sim.Seed, resume)
		},
	}
	cmd.Flags().IntVar(&agents, "agents", 0, "number of concurrent agents")
	cmd.Flags().IntVar(&steps, "steps", 0, "proposals per agent")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "seed for deterministic sources")
	cmd.Flags().BoolVar(&resume, "resume", false, "continue the stored session")
	return cmd
}

func (a *app) runSimulate(ctx context.Context, agents, steps int, seed uint64, resume bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := a.logger.Slog().With(slog.String("component", "simulate"))

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    a.cfg.Telemetry.ServiceName,
		ServiceVersion: "0.1.0",
		TraceExporter:  a.cfg.Telemetry.TraceExporter,
		MetricExporter: a.cfg.Telemetry.MetricExporter,
		OTLPEndpoint:   a.cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   true,
		SampleRate:     a.cfg.Telemetry.SampleRate,
		Writer:         a.stderr,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
		}
	}()

	if addr := a.cfg.Telemetry.MetricsAddr; addr != "" {
		stop := serveMetrics(addr, logger)
		defer stop()
	}

	store, err := a.openStore(a.cfg.Session.ID)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	cfg, err := a.gameConfig(store)
	if err != nil {
		return err
	}
	start := scenarioStart
	if resume {
		if store == nil {
			return ErrNoPersistentStore
		}
		history, err := store.Load(ctx)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		if len(history) > 0 {
			cfg.History = history
			cfg.HistorySource = a.cfg.Storage.Backend
			// A deterministic clock must not run behind the restored head.
			start = history[len(history)-1].Timestamp.Add(time.Millisecond)
		}
	}
	if a.cfg.Simulation.Deterministic {
		// Every stored entry drew one id; skip past them to keep ids unique.
		cfg.Sources, err = determinism.DeterministicAfter(seed, start, len(cfg.History))
		if err != nil {
			return err
		}
	}

	o, err := orchestrator.New(ctx, adventure.InitialState(), adventure.NewReducer(), cfg)
	if err != nil {
		return fmt.Errorf("start container: %w", err)
	}
	defer o.Close()

	reg, err := telemetry.RegisterLogLength(otel.Meter("swiftvector"), o.SessionID(), func() int64 {
		return int64(o.AuditLog().Len())
	})
	if err != nil {
		return err
	}
	defer reg.Unregister()

	sub, err := o.StateStream()
	if err != nil {
		return err
	}
	watched := make(chan int)
	go func() {
		n := 0
		for s := range sub.C {
			n++
			logger.Debug("state published",
				slog.String("location", s.Location()),
				slog.Int("health", s.Health()),
				slog.Int("gold", s.Gold()))
		}
		watched <- n
	}()

	limit := rate.Inf
	if r := a.cfg.Simulation.RatePerSecond; r > 0 {
		limit = rate.Limit(r)
	}

	var applied, rejected atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i := range agents {
		rnd := determinism.RandomSource(determinism.NewSystemRandom())
		if a.cfg.Simulation.Deterministic {
			rnd = determinism.NewSeededRandom(seed + uint64(i) + 1)
		}
		agent := adventure.NewAgent(fmt.Sprintf("agent-%d", i+1), rnd)
		limiter := rate.NewLimiter(limit, a.cfg.Simulation.Burst)

		g.Go(func() error {
			for range steps {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
				state := o.CurrentState()
				if state.GameOver() {
					return nil
				}
				action, err := agent.Propose(state)
				if err != nil {
					return err
				}
				e, err := o.Submit(gctx, action, agent.ID())
				if err != nil {
					return fmt.Errorf("%s: %w", agent.ID(), err)
				}
				if e.Applied {
					applied.Add(1)
				} else {
					rejected.Add(1)
				}
			}
			return nil
		})
	}
	runErr := g.Wait()

	view := o.Snapshot()
	sub.Cancel()
	published := <-watched

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	a.out.Title("Simulation complete")
	a.out.KeyValues(append(stateSummary(view.State, view.StateHash),
		[2]string{"entries", fmt.Sprint(view.Log.Len())},
		[2]string{"applied", fmt.Sprint(applied.Load())},
		[2]string{"rejected", fmt.Sprint(rejected.Load())},
		[2]string{"observed", fmt.Sprint(published)},
	)...)

	if err := o.VerifyChain().Err(); err != nil {
		a.out.Error(err.Error())
		return checkFailed(err)
	}
	if _, err := orchestrator.VerifyReplay(adventure.InitialState(), adventure.NewReducer(), view.Log.Entries(), nil); err != nil {
		a.out.Error(err.Error())
		return checkFailed(err)
	}
	a.out.Success(fmt.Sprintf("chain valid, %d entries, head %s", view.Log.Len(), shortHash(view.Log.HeadHash())))
	return nil
}

// serveMetrics exposes /metrics on addr until stop is called.
func serveMetrics(addr string, logger *slog.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("metrics listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", slog.String("error", err.Error()))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
