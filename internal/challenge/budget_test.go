package challenge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudget_Reserve(t *testing.T) {
	b := NewBudget(2, 100000)

	require.NoError(t, b.Reserve(context.Background()))
	require.NoError(t, b.Reserve(context.Background()))
	assert.Equal(t, int64(0), b.Remaining())

	err := b.Reserve(context.Background())
	assert.ErrorIs(t, err, ErrBudgetExhausted)
}

func TestBudget_ReserveFailsFastWhenExhausted(t *testing.T) {
	b := NewBudget(0, 1)

	start := time.Now()
	err := b.Reserve(context.Background())
	assert.ErrorIs(t, err, ErrBudgetExhausted)
	// Must not wait on the rate limiter before reporting exhaustion.
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestBudget_ReserveRefundsOnCancelledWait(t *testing.T) {
	// 1/min with burst 1: the first reserve passes, the second blocks on
	// the limiter long enough for the context to expire.
	b := NewBudget(2, 1)
	require.NoError(t, b.Reserve(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := b.Reserve(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBudgetExhausted)

	// The aborted reserve must not burn a solve.
	assert.Equal(t, int64(1), b.Remaining())
}
