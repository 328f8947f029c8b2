package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNilLimiterIsUnbounded(t *testing.T) {
	ctx := context.Background()
	var l *Limiter

	require.NoError(t, l.Acquire(ctx))
	l.Release()
	require.NoError(t, l.WaitIO(ctx, 1<<30))
}

func TestConcurrencySlots(t *testing.T) {
	l := New(Config{MaxConcurrent: 1})
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))

	blocked, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, l.Acquire(blocked))

	l.Release()
	require.NoError(t, l.Acquire(ctx))
	l.Release()
}

func TestIOBudget(t *testing.T) {
	l := New(Config{MaxConcurrent: 1, IOLimitBytesPerSec: 1 << 20})
	ctx := context.Background()

	// Within burst, no waiting.
	require.NoError(t, l.WaitIO(ctx, 1024))

	// A request beyond the burst fails fast on a canceled context instead
	// of sleeping.
	canceled, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, l.WaitIO(canceled, 1<<21))
}
