package challenge

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Budget bounds the process-wide solving spend. All applicant tasks share
// one Budget: the counter caps total paid solves, the limiter spaces them
// out so concurrent tasks cannot burst through the service quota.
type Budget struct {
	remaining atomic.Int64
	limiter   *rate.Limiter
}

// NewBudget creates a Budget allowing at most maxSolves solves, paced to
// perMinute sustained.
func NewBudget(maxSolves, perMinute int) *Budget {
	b := &Budget{
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1),
	}
	b.remaining.Store(int64(maxSolves))
	return b
}

// Reserve charges one solve against the budget, waiting on the central
// limiter. It fails fast with ErrBudgetExhausted once the ceiling is hit so
// callers surface the condition instead of hanging.
func (b *Budget) Reserve(ctx context.Context) error {
	for {
		cur := b.remaining.Load()
		if cur <= 0 {
			return ErrBudgetExhausted
		}
		if b.remaining.CompareAndSwap(cur, cur-1) {
			break
		}
	}
	if err := b.limiter.Wait(ctx); err != nil {
		b.remaining.Add(1)
		return err
	}
	return nil
}

// Remaining reports how many solves are left.
func (b *Budget) Remaining() int64 { return b.remaining.Load() }
