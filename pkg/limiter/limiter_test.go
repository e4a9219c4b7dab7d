package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveDrainsBucket(t *testing.T) {
	l := New(1000, 0)

	require.NoError(t, l.Reserve(600))
	require.NoError(t, l.Reserve(400))
	assert.ErrorIs(t, l.Reserve(1), ErrRateLimit)
	assert.Equal(t, 0, l.Available())
}

func TestReserveRefillsAfterElapsedMinutes(t *testing.T) {
	l := New(1000, 0)
	require.NoError(t, l.Reserve(1000))

	// Simulate two minutes passing.
	l.mu.Lock()
	l.lastRefill = l.lastRefill.Add(-2 * time.Minute)
	l.mu.Unlock()

	assert.Equal(t, 1000, l.Available(), "bucket caps at one minute's budget")
	assert.NoError(t, l.Reserve(1000))
}

func TestReserveUnlimitedWhenDisabled(t *testing.T) {
	l := New(0, 0)
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Reserve(1_000_000))
	}
}

func TestAcquireBlocksAtConcurrencyCeiling(t *testing.T) {
	l := New(0, 2)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))

	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := l.Acquire(blocked)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	l.Release()
	require.NoError(t, l.Acquire(ctx))
}

func TestReleaseWithoutAcquireDoesNotBlock(t *testing.T) {
	l := New(0, 1)
	done := make(chan struct{})
	go func() {
		l.Release()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Release blocked without a matching Acquire")
	}
}
