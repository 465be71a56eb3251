package challenge

import (
	"context"
	"errors"
)

// Error kinds of the solving boundary. ErrUnsolvable is terminal for the
// challenge: the retry budget is spent and whatever was blocked on this
// solve has to surface the failure instead of waiting.
var (
	ErrSolveTimeout    = errors.New("challenge: solve timed out")
	ErrSolveRejected   = errors.New("challenge: solve rejected by service")
	ErrBudgetExhausted = errors.New("challenge: solve budget exhausted")
	ErrUnsolvable      = errors.New("challenge: unsolvable")
)

// Challenge is the transient anti-automation artifact observed on a portal
// page. It lives only within a single navigation step and is never stored.
type Challenge struct {
	Kind    string
	SiteKey string
	PageURL string
}

// Solver converts an observed Challenge into a solved token. This boundary
// is the single point of real-money cost in the system and its latency is
// measured in seconds, occasionally tens of seconds; callers must treat it
// as a slow, fallible dependency.
type Solver interface {
	Solve(ctx context.Context, ch Challenge) (string, error)
}
