// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package broadcast

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, sub *Subscription[T]) T {
	t.Helper()
	select {
	case v, ok := <-sub.C:
		require.True(t, ok, "subscription closed unexpectedly")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestSubscribe_ReceivesCurrentThenUpdates(t *testing.T) {
	b := New(0, WithName("test_current"))
	defer b.Close()

	require.NoError(t, b.Publish(1))
	require.NoError(t, b.Publish(2))

	sub, err := b.Subscribe()
	require.NoError(t, err)
	defer sub.Cancel()

	assert.Equal(t, 2, receive(t, sub), "first value is the current one, not history")

	require.NoError(t, b.Publish(3))
	require.NoError(t, b.Publish(4))
	assert.Equal(t, 3, receive(t, sub))
	assert.Equal(t, 4, receive(t, sub))
	assert.Equal(t, 4, b.Current())
}

func TestPublish_OrderPreservedPerSubscriber(t *testing.T) {
	b := New(0, WithName("test_order"))
	defer b.Close()

	subs := make([]*Subscription[int], 4)
	for i := range subs {
		s, err := b.Subscribe()
		require.NoError(t, err)
		subs[i] = s
	}

	const n = 500
	for i := 1; i <= n; i++ {
		require.NoError(t, b.Publish(i))
	}

	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func(s *Subscription[int]) {
			defer wg.Done()
			for want := 0; want <= n; want++ {
				select {
				case got := <-s.C:
					assert.Equal(t, want, got)
				case <-time.After(2 * time.Second):
					t.Errorf("timed out at %d", want)
					return
				}
			}
		}(s)
	}
	wg.Wait()
}

func TestPublish_StalledSubscriberDoesNotBlock(t *testing.T) {
	b := New(0, WithName("test_stalled"))
	defer b.Close()

	stalled, err := b.Subscribe()
	require.NoError(t, err)
	defer stalled.Cancel()

	live, err := b.Subscribe()
	require.NoError(t, err)
	defer live.Cancel()
	assert.Equal(t, 0, receive(t, live))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 5000; i++ {
			_ = b.Publish(i)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a stalled subscriber")
	}

	for i := 1; i <= 5000; i++ {
		require.Equal(t, i, receive(t, live))
	}

	// The stalled subscriber still gets every value once it reads.
	assert.Eventually(t, func() bool { return stalled.Pending() >= 5000 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, receive(t, stalled))
	assert.Equal(t, 1, receive(t, stalled))
}

func TestSubscription_Cancel(t *testing.T) {
	b := New("a", WithName("test_cancel"))
	defer b.Close()

	sub, err := b.Subscribe()
	require.NoError(t, err)
	assert.Equal(t, 1, b.SubscriberCount())

	sub.Cancel()
	sub.Cancel()
	assert.Equal(t, 0, b.SubscriberCount())

	require.NoError(t, b.Publish("b"))
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.C:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestClose_DrainsThenClosesChannels(t *testing.T) {
	b := New(0, WithName("test_close"))
	sub, err := b.Subscribe()
	require.NoError(t, err)

	require.NoError(t, b.Publish(1))
	require.NoError(t, b.Publish(2))
	b.Close()
	b.Close()

	var got []int
	for v := range sub.C {
		got = append(got, v)
	}
	assert.Equal(t, []int{0, 1, 2}, got)

	assert.ErrorIs(t, b.Publish(3), ErrClosed)
	_, err = b.Subscribe()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClose_AbandonedSubscriberIsReleased(t *testing.T) {
	b := New(0, WithName("test_abandoned"), WithDrainTimeout(20*time.Millisecond))
	sub, err := b.Subscribe()
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, b.Publish(i))
	}
	b.Close()

	// Nobody reads until well past the drain timeout; the backlog is dropped.
	time.Sleep(200 * time.Millisecond)
	select {
	case _, ok := <-sub.C:
		assert.False(t, ok, "channel should be closed once the drain timeout passes")
	case <-time.After(2 * time.Second):
		t.Fatal("delivery goroutine still blocked after the drain timeout")
	}
}

func TestSubscribeFunc_RecoversPanics(t *testing.T) {
	b := New(0, WithName("test_func"))
	defer b.Close()

	var calls atomic.Int32
	sub, err := b.SubscribeFunc(func(v int) {
		calls.Add(1)
		if v == 1 {
			panic("boom")
		}
	})
	require.NoError(t, err)
	defer sub.Cancel()

	require.NoError(t, b.Publish(1))
	require.NoError(t, b.Publish(2))

	assert.Eventually(t, func() bool { return calls.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestConcurrentSubscribeAndPublish(t *testing.T) {
	b := New(0, WithName("test_concurrent"))
	defer b.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 200; i++ {
			_ = b.Publish(i)
		}
	}()

	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := b.Subscribe()
			if !assert.NoError(t, err) {
				return
			}
			defer sub.Cancel()

			// Values must be strictly increasing from whatever was current.
			prev := -1
			for {
				select {
				case v := <-sub.C:
					assert.Greater(t, v, prev)
					prev = v
					if v == 200 {
						return
					}
				case <-time.After(2 * time.Second):
					t.Error("timed out")
					return
				}
			}
		}()
	}
	wg.Wait()
}
