package poller

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/devnight0507/reverse-bot/internal/browser"
	"github.com/devnight0507/reverse-bot/internal/challenge"
	"github.com/devnight0507/reverse-bot/internal/events"
	"github.com/devnight0507/reverse-bot/internal/logger"
	"github.com/devnight0507/reverse-bot/internal/navigator"
)

// State is the poller's position in its cycle, exposed for status
// reporting.
type State string

const (
	StateIdle      State = "idle"
	StatePolling   State = "polling"
	StateBackoff   State = "backoff"
	StateSlotFound State = "slot_found"
)

// ErrorKind buckets check failures for backoff and degradation tracking.
type ErrorKind string

const (
	ErrorNetwork    ErrorKind = "network"
	ErrorNavigation ErrorKind = "navigation"
	ErrorChallenge  ErrorKind = "challenge"
	ErrorSession    ErrorKind = "session"
)

// ResultKind is the outcome of one check.
type ResultKind int

const (
	ResultNone ResultKind = iota
	ResultFound
	ResultError
)

// Result is what one availability check produced.
type Result struct {
	Kind    ResultKind
	Slots   []navigator.Slot
	ErrKind ErrorKind
	Err     error
}

// SlotSource runs one availability check. Satisfied by *navigator.Navigator.
type SlotSource interface {
	CheckSlots(ctx context.Context, eng browser.Engine, q navigator.SlotQuery) ([]navigator.Slot, error)
}

// Options tunes one poller's cadence.
type Options struct {
	Interval   time.Duration
	BackoffMin time.Duration
	BackoffMax time.Duration
	// DegradedThreshold is the run of same-kind errors after which a
	// PollerDegraded event is emitted.
	DegradedThreshold int
}

// Poller runs the availability check loop for one applicant. Consecutive
// failures of the same kind back off exponentially with jitter; a long
// streak raises a single PollerDegraded event until the streak breaks.
// Polling never stops on its own.
type Poller struct {
	src         SlotSource
	query       navigator.SlotQuery
	applicantID uint
	sink        events.Sink
	log         logger.Logger
	opts        Options

	mu           sync.Mutex
	state        State
	errStreak    int
	streakKind   ErrorKind
	degradedSent bool

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a poller for one applicant's query.
func New(src SlotSource, q navigator.SlotQuery, applicantID uint, sink events.Sink, log logger.Logger, opts Options) *Poller {
	if opts.DegradedThreshold <= 0 {
		opts.DegradedThreshold = 3
	}
	if opts.BackoffMin <= 0 {
		opts.BackoffMin = opts.Interval
	}
	if opts.BackoffMax < opts.BackoffMin {
		opts.BackoffMax = opts.BackoffMin
	}
	return &Poller{
		src:         src,
		query:       q,
		applicantID: applicantID,
		sink:        sink,
		log:         log,
		opts:        opts,
		state:       StateIdle,
		sleep:       sleepCtx,
	}
}

// State returns the poller's current state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Poll runs one availability check on the given engine and classifies the
// outcome. The engine is passed per call because a session re-acquire
// swaps it out underneath the loop.
func (p *Poller) Poll(ctx context.Context, eng browser.Engine) Result {
	p.setState(StatePolling)

	slots, err := p.src.CheckSlots(ctx, eng, p.query)
	if err != nil {
		kind := classifyErr(err)
		p.recordError(ctx, kind, err)
		return Result{Kind: ResultError, ErrKind: kind, Err: err}
	}

	p.resetStreak()
	if len(slots) > 0 {
		p.setState(StateSlotFound)
		return Result{Kind: ResultFound, Slots: slots}
	}
	p.setState(StateIdle)
	return Result{Kind: ResultNone}
}

// Wait sleeps until the next check is due: the regular interval after a
// clean check, jittered exponential backoff while an error streak is
// running.
func (p *Poller) Wait(ctx context.Context) error {
	p.mu.Lock()
	streak := p.errStreak
	p.mu.Unlock()

	d := p.opts.Interval
	if streak > 0 {
		p.setState(StateBackoff)
		d = p.backoff(streak)
	}
	return p.sleep(ctx, d)
}

// Resume puts the poller back into its cycle after a booking attempt ended
// without committing.
func (p *Poller) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateIdle
}

// backoff computes min(BackoffMin * 2^(streak-1), BackoffMax) with +-20%
// jitter so parallel pollers do not synchronize against the portal.
func (p *Poller) backoff(streak int) time.Duration {
	d := p.opts.BackoffMin
	for i := 1; i < streak && d < p.opts.BackoffMax; i++ {
		d *= 2
	}
	if d > p.opts.BackoffMax {
		d = p.opts.BackoffMax
	}
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * jitter)
}

func (p *Poller) recordError(ctx context.Context, kind ErrorKind, err error) {
	p.mu.Lock()
	if kind == p.streakKind {
		p.errStreak++
	} else {
		p.streakKind = kind
		p.errStreak = 1
		p.degradedSent = false
	}
	streak := p.errStreak
	fire := streak >= p.opts.DegradedThreshold && !p.degradedSent
	if fire {
		p.degradedSent = true
	}
	p.state = StateBackoff
	p.mu.Unlock()

	p.log.Warn("availability check failed",
		logger.Uint("applicant_id", p.applicantID),
		logger.String("kind", string(kind)),
		logger.Int("streak", streak),
		logger.Error(err))

	if fire {
		p.sink.Publish(ctx, events.Event{
			ApplicantID: p.applicantID,
			Kind:        events.KindPollerDegraded,
			At:          time.Now().UTC(),
			Detail: map[string]string{
				"error_kind": string(kind),
				"streak":     strconv.Itoa(streak),
				"last_error": err.Error(),
			},
		})
	}
}

func (p *Poller) resetStreak() {
	p.mu.Lock()
	p.errStreak = 0
	p.streakKind = ""
	p.degradedSent = false
	p.mu.Unlock()
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// classifyErr buckets a check failure. Session kind triggers a re-login in
// the orchestrator; everything else just backs off.
func classifyErr(err error) ErrorKind {
	switch {
	case errors.Is(err, navigator.ErrSessionExpired):
		return ErrorSession
	case errors.Is(err, challenge.ErrUnsolvable),
		errors.Is(err, challenge.ErrBudgetExhausted),
		errors.Is(err, challenge.ErrSolveTimeout),
		errors.Is(err, challenge.ErrSolveRejected):
		return ErrorChallenge
	}
	var nav *navigator.NavigationError
	if errors.As(err, &nav) {
		if classifyNavCause(nav) == ErrorNetwork {
			return ErrorNetwork
		}
		return ErrorNavigation
	}
	return ErrorNetwork
}

// classifyNavCause separates transport failures wrapped in a navigation
// error from genuine unexpected-page failures.
func classifyNavCause(nav *navigator.NavigationError) ErrorKind {
	if nav.Observed == navigator.PageUnknown && nav.Cause != nil {
		return ErrorNetwork
	}
	return ErrorNavigation
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
