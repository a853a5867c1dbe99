// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/adventure"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/audit"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/core"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/determinism"
)

type (
	game      = Orchestrator[adventure.State, adventure.Action]
	gameEntry = audit.Entry[adventure.Action]
)

var start = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

// memSink records persisted entries and can be told to fail.
type memSink struct {
	mu          sync.Mutex
	entries     []gameEntry
	failNext    bool
	failRewrite bool
	rewrites    int
}

var errSinkDown = errors.New("sink down")

func (s *memSink) Persist(_ context.Context, e gameEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return errSinkDown
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *memSink) Rewrite(_ context.Context, entries []gameEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRewrite {
		s.failRewrite = false
		return errSinkDown
	}
	s.entries = append([]gameEntry(nil), entries...)
	s.rewrites++
	return nil
}

func (s *memSink) snapshot() []gameEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gameEntry(nil), s.entries...)
}

// persistOnly is a sink without Rewrite.
type persistOnly struct{}

func (persistOnly) Persist(context.Context, gameEntry) error { return nil }

func newGame(t *testing.T, cfg Config[adventure.State, adventure.Action]) *game {
	t.Helper()
	if cfg.Sources.Clock == nil {
		cfg.Sources = determinism.Deterministic(42, start)
	}
	if cfg.SessionID == "" {
		cfg.SessionID = t.Name()
	}
	o, err := New(context.Background(), adventure.InitialState(), adventure.NewReducer(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func submit(t *testing.T, o *game, a adventure.Action, agent string) gameEntry {
	t.Helper()
	e, err := o.Submit(context.Background(), a, agent)
	require.NoError(t, err)
	return e
}

func TestForestScenario(t *testing.T) {
	o := newGame(t, Config[adventure.State, adventure.Action]{})

	e := submit(t, o, adventure.FindGold(50), "agent-1")
	assert.True(t, e.Applied)
	assert.Equal(t, 50, o.CurrentState().Gold())

	e = submit(t, o, adventure.FindGold(150), "agent-1")
	assert.False(t, e.Applied)
	assert.Equal(t, audit.GateReducer, e.RejectedBy)
	assert.Contains(t, e.Rationale, "outside")
	assert.Equal(t, 50, o.CurrentState().Gold())

	e = submit(t, o, adventure.TakeDamage(120), "agent-1")
	assert.True(t, e.Applied)
	assert.Equal(t, 0, o.CurrentState().Health())
	assert.True(t, o.CurrentState().GameOver())

	log := o.AuditLog()
	assert.Equal(t, 4, log.Len(), "initialization plus three outcomes")
	assert.True(t, log.Verify().Valid)

	e = submit(t, o, adventure.MoveTo(adventure.Cave), "agent-1")
	assert.False(t, e.Applied)
	assert.Contains(t, e.Rationale, "game over")
	assert.Equal(t, adventure.Forest, o.CurrentState().Location())

	full := o.AuditLog()
	assert.Equal(t, 5, full.Len())
	assert.Equal(t, 4, log.Len(), "earlier snapshot is unaffected")
	res := o.VerifyChain()
	assert.True(t, res.Valid)
	assert.Equal(t, -1, res.FirstBadIndex)

	first, _ := full.At(0)
	assert.Equal(t, audit.KindInitialization, first.Kind)
	assert.Equal(t, audit.GenesisHash, first.PrevHash)
	assert.Equal(t, o.InitialStateHash(), first.StateHash)
	for i := 1; i < full.Len(); i++ {
		prev, _ := full.At(i - 1)
		cur, _ := full.At(i)
		assert.Equal(t, prev.Hash, cur.PrevHash)
		assert.Equal(t, audit.KindProposalOutcome, cur.Kind)
		assert.Equal(t, audit.OriginLive, cur.Origin)
		assert.Equal(t, "agent-1", cur.AgentID)
	}

	rejected, _ := full.At(2)
	assert.NotEmpty(t, rejected.StateHash)
	assert.Empty(t, rejected.StateHashBefore)
	assert.Empty(t, rejected.StateHashAfter)
	applied, _ := full.At(1)
	assert.Empty(t, applied.StateHash)
	assert.NotEqual(t, applied.StateHashBefore, applied.StateHashAfter)
}

func TestSubmit_ConcurrentCallersAreSerialized(t *testing.T) {
	o := newGame(t, Config[adventure.State, adventure.Action]{Sources: determinism.System()})

	const n = 64
	entries := make([]gameEntry, n)
	g, ctx := errgroup.WithContext(context.Background())
	for i := range n {
		g.Go(func() error {
			e, err := o.Submit(ctx, adventure.FindGold(1), fmt.Sprintf("agent-%d", i))
			entries[i] = e
			return err
		})
	}
	require.NoError(t, g.Wait())

	log := o.AuditLog()
	require.Equal(t, n+1, log.Len())
	assert.True(t, log.Verify().Valid)
	assert.Equal(t, n, o.CurrentState().Gold(), "no lost updates")

	seen := make(map[uint64]bool, n)
	for _, e := range entries {
		assert.False(t, seen[e.Seq], "duplicate seq %d", e.Seq)
		seen[e.Seq] = true
		assert.GreaterOrEqual(t, e.Seq, uint64(1))
		assert.LessOrEqual(t, e.Seq, uint64(n))
	}
	for i, e := range log.Entries() {
		assert.Equal(t, uint64(i), e.Seq)
		if i > 0 {
			prev, _ := log.At(i - 1)
			assert.False(t, e.Timestamp.Before(prev.Timestamp))
		}
	}
}

func TestSnapshot_IsNeverTorn(t *testing.T) {
	o := newGame(t, Config[adventure.State, adventure.Action]{Sources: determinism.System()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			v := o.Snapshot()
			head, ok := v.Log.Head()
			if assert.True(t, ok) {
				assert.Equal(t, head.ResultingStateHash(), v.StateHash)
			}
		}
	}()

	for i := range 200 {
		_ = submit(t, o, adventure.FindGold(1+i%120), "writer")
	}
	cancel()
	wg.Wait()
}

func TestStateStream_LateSubscriber(t *testing.T) {
	o := newGame(t, Config[adventure.State, adventure.Action]{})

	submit(t, o, adventure.FindGold(10), "a")
	submit(t, o, adventure.FindGold(20), "a")

	sub, err := o.StateStream()
	require.NoError(t, err)
	defer sub.Cancel()

	next := func() adventure.State {
		select {
		case s := <-sub.C:
			return s
		case <-time.After(2 * time.Second):
			t.Fatal("no state published")
			return adventure.State{}
		}
	}

	assert.Equal(t, 30, next().Gold(), "first value is the current state")

	submit(t, o, adventure.FindGold(5), "a")
	submit(t, o, adventure.FindGold(500), "a")
	submit(t, o, adventure.MoveTo(adventure.Cave), "a")

	assert.Equal(t, 35, next().Gold())
	rejected := next()
	assert.Equal(t, 35, rejected.Gold(), "a rejection republishes the unchanged state")
	assert.Equal(t, adventure.Cave, next().Location())
}

func TestReplay_ReproducesHashSequence(t *testing.T) {
	ctx := context.Background()
	live := newGame(t, Config[adventure.State, adventure.Action]{})

	agent := adventure.NewAgent("agent-7", determinism.NewSeededRandom(99))
	for range 40 {
		a, err := agent.Propose(live.CurrentState())
		require.NoError(t, err)
		submit(t, live, a, agent.ID())
	}
	original := live.AuditLog().Entries()

	fresh := newGame(t, Config[adventure.State, adventure.Action]{
		Sources: determinism.Deterministic(1, start.Add(time.Hour)),
	})
	replayed, err := ReplayActions(ctx, fresh, Actions(original))
	require.NoError(t, err)
	require.Len(t, replayed, 40)

	for _, e := range replayed {
		assert.Equal(t, core.ReplayAgentID, e.AgentID)
		assert.Equal(t, audit.OriginReplay, e.Origin)
		assert.True(t, e.IsReplay())
	}

	require.NoError(t, CompareHashSequences(original, fresh.AuditLog().Entries()))
	assert.Equal(t, live.CurrentStateHash(), fresh.CurrentStateHash())
	assert.True(t, fresh.VerifyChain().Valid)
}

func TestReplay_DefaultsAgent(t *testing.T) {
	o := newGame(t, Config[adventure.State, adventure.Action]{})
	e, err := o.Replay(context.Background(), adventure.FindGold(3), "")
	require.NoError(t, err)
	assert.Equal(t, core.ReplayAgentID, e.AgentID)
	assert.Equal(t, audit.OriginReplay, e.Origin)
}

func TestDeterministicSessionsAreIdentical(t *testing.T) {
	run := func() []gameEntry {
		o := newGame(t, Config[adventure.State, adventure.Action]{Sources: determinism.Deterministic(5, start)})
		submit(t, o, adventure.PickUp("torch"), "a")
		submit(t, o, adventure.MoveTo(adventure.Village), "b")
		submit(t, o, adventure.PickUp("torch"), "a")
		return o.AuditLog().Entries()
	}
	first, second := run(), run()
	assert.True(t, audit.NewSnapshot(first).Equal(audit.NewSnapshot(second)))
	assert.Equal(t, first[len(first)-1].Hash, second[len(second)-1].Hash)
}

func TestSubmit_SourceExhaustionLeavesNoEffect(t *testing.T) {
	sink := &memSink{}
	o := newGame(t, Config[adventure.State, adventure.Action]{
		Sources: determinism.Sources{
			Clock: determinism.NewManualClock(start),
			IDs:   determinism.NewSequenceIDGenerator("id-init", "id-1"),
		},
		Sink: sink,
	})

	submit(t, o, adventure.FindGold(1), "a")
	before := o.Snapshot()

	_, err := o.Submit(context.Background(), adventure.FindGold(1), "a")
	require.ErrorIs(t, err, determinism.ErrSequenceExhausted)

	after := o.Snapshot()
	assert.Equal(t, before.StateHash, after.StateHash)
	assert.True(t, before.Log.Equal(after.Log))
	assert.Len(t, sink.snapshot(), 2)
}

func TestSubmit_GovernanceVeto(t *testing.T) {
	gov := core.GovernorFunc[adventure.State, adventure.Action](func(s adventure.State, a adventure.Action, agent string) core.Decision {
		if agent == "mallory" && a.Type == adventure.ActionFindGold {
			return core.Deny("no-gold-for-mallory", "mallory may not collect gold")
		}
		return core.Allow("ok")
	})
	o := newGame(t, Config[adventure.State, adventure.Action]{Governor: gov})

	before := testutil.ToFloat64(governanceVetoesTotal.WithLabelValues("no-gold-for-mallory"))
	e := submit(t, o, adventure.FindGold(10), "mallory")
	assert.False(t, e.Applied)
	assert.Equal(t, audit.GateGovernance, e.RejectedBy)
	assert.Contains(t, e.Rationale, "no-gold-for-mallory")
	assert.Equal(t, 0, o.CurrentState().Gold())
	assert.Equal(t, before+1, testutil.ToFloat64(governanceVetoesTotal.WithLabelValues("no-gold-for-mallory")))

	e = submit(t, o, adventure.FindGold(10), "alice")
	assert.True(t, e.Applied)

	// The fold ignores governance: the veto is just a rejected entry.
	_, err := VerifyReplay(adventure.InitialState(), adventure.NewReducer(), o.AuditLog().Entries(), nil)
	require.NoError(t, err)
}

func TestSubmit_SinkFailureLeavesNoEffect(t *testing.T) {
	sink := &memSink{}
	o := newGame(t, Config[adventure.State, adventure.Action]{Sink: sink})

	sub, err := o.StateStream()
	require.NoError(t, err)
	defer sub.Cancel()
	<-sub.C

	sink.mu.Lock()
	sink.failNext = true
	sink.mu.Unlock()

	_, err = o.Submit(context.Background(), adventure.FindGold(10), "a")
	require.ErrorIs(t, err, errSinkDown)
	assert.Equal(t, 1, o.AuditLog().Len())
	assert.Equal(t, 0, o.CurrentState().Gold())
	select {
	case s := <-sub.C:
		t.Fatalf("unexpected publication %+v", s)
	case <-time.After(50 * time.Millisecond):
	}

	e := submit(t, o, adventure.FindGold(10), "a")
	assert.Equal(t, uint64(1), e.Seq, "the failed attempt consumed no sequence number")

	persisted := sink.snapshot()
	require.Len(t, persisted, 2)
	assert.Equal(t, o.AuditLog().Entries(), persisted)
}

func TestSubmit_CancelledBeforeStart(t *testing.T) {
	o := newGame(t, Config[adventure.State, adventure.Action]{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Submit(ctx, adventure.FindGold(10), "a")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, o.AuditLog().Len())
}

func TestSubmit_RejectedStateIsDiscarded(t *testing.T) {
	sloppy := core.ReducerFunc[adventure.State, adventure.Action](func(s adventure.State, a adventure.Action) core.Verdict[adventure.State] {
		return core.Reject(adventure.NewState(adventure.Cave, 1, 999, nil, false), "no")
	})
	o, err := New(context.Background(), adventure.InitialState(), sloppy, Config[adventure.State, adventure.Action]{
		Sources:   determinism.Deterministic(1, start),
		SessionID: t.Name(),
	})
	require.NoError(t, err)
	defer o.Close()

	before := testutil.ToFloat64(reducerContractViolationsTotal)
	e, err := o.Submit(context.Background(), adventure.FindGold(1), "a")
	require.NoError(t, err)
	assert.False(t, e.Applied)
	assert.Equal(t, o.InitialStateHash(), e.StateHash)
	assert.Equal(t, o.InitialStateHash(), o.CurrentStateHash())
	assert.Equal(t, adventure.Forest, o.CurrentState().Location())
	assert.Equal(t, before+1, testutil.ToFloat64(reducerContractViolationsTotal))
}

func TestRecordSystemEvent(t *testing.T) {
	o := newGame(t, Config[adventure.State, adventure.Action]{})
	submit(t, o, adventure.FindGold(10), "a")

	e, err := o.RecordSystemEvent(context.Background(), "session paused")
	require.NoError(t, err)
	assert.Equal(t, audit.KindSystemEvent, e.Kind)
	assert.Equal(t, o.CurrentStateHash(), e.StateHash)
	assert.Equal(t, "session paused", e.Note)

	report, err := VerifyReplay(adventure.InitialState(), adventure.NewReducer(), o.AuditLog().Entries(), nil)
	require.NoError(t, err)
	assert.Equal(t, o.CurrentStateHash(), report.StateHash)
}

func TestVerifyReplay(t *testing.T) {
	o := newGame(t, Config[adventure.State, adventure.Action]{})
	submit(t, o, adventure.FindGold(10), "a")
	submit(t, o, adventure.FindGold(1000), "a")
	submit(t, o, adventure.PickUp("map"), "a")
	entries := o.AuditLog().Entries()

	report, err := VerifyReplay(adventure.InitialState(), adventure.NewReducer(), entries, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, o.CurrentStateHash(), report.StateHash)
	assert.Equal(t, audit.NewSnapshot(entries).StateHashes(), report.Hashes)

	t.Run("different initial state", func(t *testing.T) {
		_, err := VerifyReplay(adventure.NewState(adventure.Cave, 100, 0, nil, false), adventure.NewReducer(), entries, nil)
		var div *DivergenceError
		require.ErrorAs(t, err, &div)
		assert.Equal(t, 0, div.Index)
		assert.ErrorIs(t, err, ErrReplayDivergence)
	})

	t.Run("different rules", func(t *testing.T) {
		stingy := core.ReducerFunc[adventure.State, adventure.Action](func(s adventure.State, a adventure.Action) core.Verdict[adventure.State] {
			if a.Type == adventure.ActionPickUp {
				return core.Reject(s, "no items")
			}
			return adventure.NewReducer().Reduce(s, a)
		})
		_, err := VerifyReplay(adventure.InitialState(), stingy, entries, nil)
		var div *DivergenceError
		require.ErrorAs(t, err, &div)
		assert.Equal(t, 3, div.Index)
	})

	t.Run("missing initialization", func(t *testing.T) {
		_, err := VerifyReplay(adventure.InitialState(), adventure.NewReducer(), entries[1:], nil)
		require.ErrorIs(t, err, ErrReplayDivergence)
	})
}

func TestCompareHashSequences(t *testing.T) {
	a := newGame(t, Config[adventure.State, adventure.Action]{})
	b := newGame(t, Config[adventure.State, adventure.Action]{})
	submit(t, a, adventure.FindGold(10), "x")
	submit(t, b, adventure.FindGold(11), "x")

	err := CompareHashSequences(a.AuditLog().Entries(), b.AuditLog().Entries())
	var div *DivergenceError
	require.ErrorAs(t, err, &div)
	assert.Equal(t, 1, div.Index)

	submit(t, a, adventure.FindGold(1), "x")
	err = CompareHashSequences(b.AuditLog().Entries(), b.AuditLog().Entries())
	require.NoError(t, err)
	err = CompareHashSequences(a.AuditLog().Entries()[:2], a.AuditLog().Entries())
	require.ErrorIs(t, err, ErrReplayDivergence)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	src := newGame(t, Config[adventure.State, adventure.Action]{})
	submit(t, src, adventure.FindGold(40), "a")
	submit(t, src, adventure.MoveTo(adventure.Village), "a")
	submit(t, src, adventure.PickUp("rope"), "a")
	history := src.AuditLog().Entries()

	sink := &memSink{}
	dst := newGame(t, Config[adventure.State, adventure.Action]{
		Sink:    sink,
		Sources: determinism.Deterministic(3, start.Add(-time.Hour)),
	})
	submit(t, dst, adventure.TakeDamage(10), "b")

	sub, err := dst.StateStream()
	require.NoError(t, err)
	defer sub.Cancel()
	<-sub.C

	e, err := dst.Restore(ctx, history, "backup.json")
	require.NoError(t, err)
	assert.Equal(t, audit.KindStateRestored, e.Kind)
	assert.Equal(t, "backup.json", e.Note)
	assert.Equal(t, src.CurrentStateHash(), e.StateHash)
	assert.Equal(t, uint64(len(history)), e.Seq)
	assert.False(t, e.Timestamp.Before(history[len(history)-1].Timestamp))

	assert.Equal(t, src.CurrentStateHash(), dst.CurrentStateHash())
	assert.Equal(t, len(history)+1, dst.AuditLog().Len())
	assert.True(t, dst.VerifyChain().Valid)
	assert.Equal(t, 1, sink.rewrites)
	assert.Equal(t, dst.AuditLog().Entries(), sink.snapshot())

	select {
	case s := <-sub.C:
		assert.Equal(t, 40, s.Gold())
		assert.Equal(t, 100, s.Health())
	case <-time.After(2 * time.Second):
		t.Fatal("restore did not publish")
	}

	// The restored chain, including its state_restored entry, still folds.
	_, err = VerifyReplay(adventure.InitialState(), adventure.NewReducer(), dst.AuditLog().Entries(), nil)
	require.NoError(t, err)

	t.Run("tampered history is refused", func(t *testing.T) {
		bad := audit.NewSnapshot(history).Entries()
		bad[2].Rationale = "edited"
		before := dst.Snapshot()

		_, err := dst.Restore(ctx, bad, "tampered.json")
		require.ErrorIs(t, err, audit.ErrIntegrity)
		assert.True(t, before.Log.Equal(dst.AuditLog()))
		assert.Equal(t, before.StateHash, dst.CurrentStateHash())
	})

	t.Run("sink stays a valid chain", func(t *testing.T) {
		sink := &memSink{}
		o := newGame(t, Config[adventure.State, adventure.Action]{
			Sink:    sink,
			Sources: determinism.Deterministic(5, start.Add(-time.Hour)),
		})
		submit(t, o, adventure.FindGold(20), "c")

		// The marker travels with the rewrite; no separate Persist follows.
		sink.failNext = true
		_, err := o.Restore(ctx, history, "backup.json")
		require.NoError(t, err)
		assert.Equal(t, o.AuditLog().Entries(), sink.snapshot())
		sink.failNext = false

		submit(t, o, adventure.Heal(5), "c")
		assert.True(t, audit.Verify(sink.snapshot()).Valid)
		assert.Equal(t, o.AuditLog().Entries(), sink.snapshot())
	})

	t.Run("failed rewrite changes nothing", func(t *testing.T) {
		sink := &memSink{}
		o := newGame(t, Config[adventure.State, adventure.Action]{Sink: sink})
		submit(t, o, adventure.FindGold(20), "c")
		before := o.Snapshot()
		durable := sink.snapshot()

		sink.failRewrite = true
		_, err := o.Restore(ctx, history, "backup.json")
		require.ErrorIs(t, err, errSinkDown)
		assert.True(t, before.Log.Equal(o.AuditLog()))
		assert.Equal(t, before.StateHash, o.CurrentStateHash())
		assert.Equal(t, durable, sink.snapshot())

		submit(t, o, adventure.Heal(5), "c")
		res := audit.Verify(sink.snapshot())
		assert.True(t, res.Valid, res.Detail)
		assert.Equal(t, 20, o.CurrentState().Gold())
	})

	t.Run("sink without rewrite", func(t *testing.T) {
		o := newGame(t, Config[adventure.State, adventure.Action]{Sink: persistOnly{}})
		_, err := o.Restore(ctx, history, "x")
		require.ErrorIs(t, err, ErrSinkNotRewritable)
		assert.Equal(t, 1, o.AuditLog().Len())
	})
}

func TestNew_WithHistory(t *testing.T) {
	src := newGame(t, Config[adventure.State, adventure.Action]{})
	submit(t, src, adventure.FindGold(40), "a")
	submit(t, src, adventure.TakeDamage(200), "a")
	history := src.AuditLog().Entries()

	sink := &memSink{}
	o := newGame(t, Config[adventure.State, adventure.Action]{
		History:       history,
		HistorySource: "journal",
		Sink:          sink,
	})

	assert.Equal(t, src.CurrentStateHash(), o.CurrentStateHash())
	assert.True(t, o.CurrentState().GameOver())
	assert.Equal(t, len(history)+1, o.AuditLog().Len())
	assert.Equal(t, 0, sink.rewrites)
	require.Len(t, sink.snapshot(), 1, "only the restore marker is appended to the sink")
	assert.Equal(t, audit.KindStateRestored, sink.snapshot()[0].Kind)

	bad := audit.NewSnapshot(history).Entries()
	bad[1].AgentID = "forged"
	_, err := New(context.Background(), adventure.InitialState(), adventure.NewReducer(), Config[adventure.State, adventure.Action]{
		History: bad,
	})
	require.ErrorIs(t, err, audit.ErrIntegrity)
}

func TestClose(t *testing.T) {
	o, err := New(context.Background(), adventure.InitialState(), adventure.NewReducer(), Config[adventure.State, adventure.Action]{
		Sources:   determinism.Deterministic(1, start),
		SessionID: t.Name(),
	})
	require.NoError(t, err)

	sub, err := o.StateStream()
	require.NoError(t, err)

	require.NoError(t, o.Close())
	require.NoError(t, o.Close())

	_, err = o.Submit(context.Background(), adventure.FindGold(1), "a")
	require.ErrorIs(t, err, ErrClosed)
	_, err = o.StateStream()
	require.ErrorIs(t, err, ErrClosed)

	var got []adventure.State
	for s := range sub.C {
		got = append(got, s)
	}
	assert.Len(t, got, 1)

	// Reads still work after close.
	assert.Equal(t, 1, o.AuditLog().Len())
}

func TestNew_Validation(t *testing.T) {
	_, err := New[adventure.State, adventure.Action](context.Background(), adventure.InitialState(), nil, Config[adventure.State, adventure.Action]{})
	require.ErrorIs(t, err, ErrNilReducer)

	//nolint:staticcheck
	_, err = New(nil, adventure.InitialState(), adventure.NewReducer(), Config[adventure.State, adventure.Action]{})
	require.ErrorIs(t, err, ErrNilContext)
}
