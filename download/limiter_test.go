// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package download

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/mempool/point"
)

func TestLimiterCancelledWaiterDoesNotLeakSlot(t *testing.T) {
	l := newLimiter(1)

	ctx := context.Background()
	require.NoError(t, l.enter(ctx, 1)) // takes the only slot

	waitCtx, cancel := context.WithCancel(context.Background())
	enterDone := make(chan error, 1)
	go func() { enterDone <- l.enter(waitCtx, 2) }()

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.waiters[2]) == 1
	}, time.Second, time.Millisecond, "waiter never queued")

	cancel()
	require.ErrorIs(t, <-enterDone, context.Canceled)

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		_, queued := l.waiters[2]
		return !queued
	}, time.Second, time.Millisecond, "cancelled waiter's channel was left registered")

	l.exit() // releases the original slot

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	require.NoError(t, l.enter(ctx2, 3), "freed slot must go to a live waiter, not a departed one")
}

func TestLimiterRunsRoundKeyedLIFOAcrossFIFOWithin(t *testing.T) {
	l := newLimiter(1)
	ctx := context.Background()
	require.NoError(t, l.enter(ctx, 1))

	order := make(chan point.Round, 3)
	for _, r := range []point.Round{5, 5, 9} {
		r := r
		go func() {
			if err := l.enter(ctx, r); err == nil {
				order <- r
			}
		}()
	}

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.waiters[5])+len(l.waiters[9]) == 3
	}, time.Second, time.Millisecond)

	l.exit()
	require.Equal(t, point.Round(9), <-order, "the highest round wakes first")

	l.exit()
	first := <-order
	l.exit()
	second := <-order
	require.ElementsMatch(t, []point.Round{5, 5}, []point.Round{first, second})
}
