package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/devnight0507/reverse-bot/internal/browser"
	"github.com/devnight0507/reverse-bot/internal/events"
	"github.com/devnight0507/reverse-bot/internal/logger"
	"github.com/devnight0507/reverse-bot/internal/model"
	"github.com/devnight0507/reverse-bot/internal/navigator"
	"github.com/devnight0507/reverse-bot/internal/poller"
	"github.com/devnight0507/reverse-bot/internal/session"
	"github.com/devnight0507/reverse-bot/internal/store"
)

// Sessions is the slice of the session manager the orchestrator uses.
type Sessions interface {
	Acquire(ctx context.Context, app *model.Applicant) (*session.Session, error)
	Invalidate(ctx context.Context, credentialKey string)
}

// Portal bundles the navigation steps the orchestrator drives. Satisfied
// by *navigator.Navigator.
type Portal interface {
	CheckSlots(ctx context.Context, eng browser.Engine, q navigator.SlotQuery) ([]navigator.Slot, error)
	OpenBookingForm(ctx context.Context, eng browser.Engine, slot navigator.Slot) error
	SubmitBooking(ctx context.Context, eng browser.Engine, d navigator.Details) (*navigator.Receipt, error)
}

// Options tunes the monitoring loops.
type Options struct {
	Interval          time.Duration
	BackoffMin        time.Duration
	BackoffMax        time.Duration
	DegradedThreshold int
	// StepTimeout bounds each individual portal step. Booking steps run on
	// a context detached from shutdown so a stop signal never abandons a
	// submission mid-flight.
	StepTimeout time.Duration
}

// TaskStatus is one applicant task's live state, read by the operator API.
type TaskStatus struct {
	ApplicantID uint         `json:"applicant_id"`
	PollerState poller.State `json:"poller_state"`
	LastCheckAt time.Time    `json:"last_check_at,omitempty"`
	LastError   string       `json:"last_error,omitempty"`
	Attempts    int          `json:"attempts"`
}

// Summary is the monitor status snapshot.
type Summary struct {
	Running bool         `json:"running"`
	Tasks   []TaskStatus `json:"tasks"`
}

// Orchestrator runs one monitoring task per applicant: acquire a session,
// poll for slots, and race through the booking transaction when one shows
// up. Tasks are independent; one applicant's failure never stops the rest.
type Orchestrator struct {
	store    store.Store
	sessions Sessions
	portal   Portal
	sink     events.Sink
	log      logger.Logger
	opts     Options

	mu      sync.Mutex
	running bool
	tasks   map[uint]*TaskStatus
	// runCancel ends the active background run; nil while stopped.
	runCancel context.CancelFunc
	runGen    uint64
}

// Operator control errors, mapped to HTTP conflicts by the API.
var (
	ErrAlreadyRunning = errors.New("orchestrator: monitor already running")
	ErrNotRunning     = errors.New("orchestrator: monitor not running")
)

// New creates an orchestrator.
func New(st store.Store, sessions Sessions, portal Portal, sink events.Sink, log logger.Logger, opts Options) *Orchestrator {
	return &Orchestrator{
		store:    st,
		sessions: sessions,
		portal:   portal,
		sink:     sink,
		log:      log,
		opts:     opts,
		tasks:    make(map[uint]*TaskStatus),
	}
}

// Run starts one task per monitoring applicant and blocks until all tasks
// return, which happens when every applicant reached a final status or the
// context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	apps, err := o.store.ListMonitoringApplicants(ctx)
	if err != nil {
		return fmt.Errorf("list applicants: %w", err)
	}
	o.setRunning(true)
	defer o.setRunning(false)

	o.log.Info("monitor starting", logger.Int("applicants", len(apps)))

	var g errgroup.Group
	for i := range apps {
		app := apps[i]
		g.Go(func() error {
			o.runApplicant(ctx, app)
			return nil
		})
	}
	return g.Wait()
}

// Start launches Run in the background over a fresh listing of monitoring
// applicants. Detached from any request context: the run outlives the HTTP
// call that triggered it and ends only via Stop, shutdown, or every task
// reaching a final status.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	if o.runCancel != nil {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.runCancel = cancel
	o.runGen++
	gen := o.runGen
	o.mu.Unlock()

	go func() {
		if err := o.Run(ctx); err != nil {
			o.log.Error("monitor run failed", logger.Error(err))
		}
		o.mu.Lock()
		if o.runGen == gen {
			o.runCancel = nil
		}
		o.mu.Unlock()
	}()
	return nil
}

// Stop cancels the active background run. In-flight booking steps still
// finish; only the loops between steps observe the cancellation.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	cancel := o.runCancel
	o.runCancel = nil
	o.runGen++
	o.mu.Unlock()
	if cancel == nil {
		return ErrNotRunning
	}
	cancel()
	return nil
}

// Status returns a snapshot of all applicant tasks.
func (o *Orchestrator) Status() Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := Summary{Running: o.running}
	for _, t := range o.tasks {
		out.Tasks = append(out.Tasks, *t)
	}
	sort.Slice(out.Tasks, func(i, j int) bool {
		return out.Tasks[i].ApplicantID < out.Tasks[j].ApplicantID
	})
	return out
}

func (o *Orchestrator) runApplicant(ctx context.Context, app model.Applicant) {
	log := o.log.With(logger.Uint("applicant_id", app.ID))
	p := poller.New(o.portal, queryFor(&app), app.ID, o.sink, log, poller.Options{
		Interval:          o.opts.Interval,
		BackoffMin:        o.opts.BackoffMin,
		BackoffMax:        o.opts.BackoffMax,
		DegradedThreshold: o.opts.DegradedThreshold,
	})
	o.track(app.ID, func(t *TaskStatus) { t.PollerState = p.State() })

	for ctx.Err() == nil {
		sess, err := o.sessions.Acquire(ctx, &app)
		if err != nil {
			var authErr *session.AuthError
			if errors.As(err, &authErr) {
				log.Error("credentials rejected, stopping task", logger.Error(err))
				o.finish(ctx, &app, model.ApplicantFailed)
				return
			}
			if ctx.Err() != nil {
				return
			}
			log.Warn("session acquire failed, retrying", logger.Error(err))
			o.track(app.ID, func(t *TaskStatus) { t.LastError = err.Error() })
			if sleepCtx(ctx, o.opts.BackoffMin) != nil {
				return
			}
			continue
		}

		if done := o.pollLoop(ctx, &app, sess, p, log); done {
			return
		}
		// Session went stale mid-loop; re-acquire.
	}
}

// pollLoop drives the check cycle on one live session. Returns true when
// the applicant reached a final status, false when the session must be
// re-established.
func (o *Orchestrator) pollLoop(ctx context.Context, app *model.Applicant, sess *session.Session, p *poller.Poller, log logger.Logger) bool {
	for ctx.Err() == nil {
		stepCtx, cancel := context.WithTimeout(ctx, o.opts.StepTimeout)
		res := p.Poll(stepCtx, sess.Engine)
		cancel()

		o.track(app.ID, func(t *TaskStatus) {
			t.PollerState = p.State()
			t.LastCheckAt = time.Now().UTC()
			if res.Err != nil {
				t.LastError = res.Err.Error()
			} else {
				t.LastError = ""
			}
		})

		switch res.Kind {
		case poller.ResultError:
			if res.ErrKind == poller.ErrorSession {
				log.Info("session expired, re-establishing")
				o.sessions.Invalidate(ctx, sess.CredentialKey)
				return false
			}
			if p.Wait(ctx) != nil {
				return true
			}

		case poller.ResultNone:
			if p.Wait(ctx) != nil {
				return true
			}

		case poller.ResultFound:
			slot := chooseSlot(res.Slots)
			log.Info("slot found",
				logger.String("slot_id", slot.ID),
				logger.Time("date", slot.Date),
				logger.String("time", slot.Time))

			switch o.book(ctx, app, sess, slot, log) {
			case bookCommitted:
				o.finish(ctx, app, model.ApplicantBooked)
				return true
			case bookTerminalFail:
				o.finish(ctx, app, model.ApplicantFailed)
				return true
			case bookSessionLost:
				o.sessions.Invalidate(ctx, sess.CredentialKey)
				return false
			case bookResume:
				p.Resume()
				if p.Wait(ctx) != nil {
					return true
				}
			}
		}
	}
	return true
}

type bookOutcome int

const (
	bookCommitted bookOutcome = iota
	bookTerminalFail
	bookSessionLost
	bookResume
)

// book runs the reservation transaction for one discovered slot. Steps run
// on a context detached from shutdown, bounded only by the step timeout,
// so cancellation between steps is honoured but never mid-step.
func (o *Orchestrator) book(ctx context.Context, app *model.Applicant, sess *session.Session, slot navigator.Slot, log logger.Logger) bookOutcome {
	attempt := &model.BookingAttempt{
		ID:          uuid.NewString(),
		ApplicantID: app.ID,
		SlotID:      slot.ID,
		SlotDate:    slot.Date,
		SlotTime:    slot.Time,
		Center:      app.Center,
		Category:    app.Category,
		State:       model.AttemptDiscovered,
	}
	if err := o.store.CreateAttempt(ctx, attempt); err != nil {
		log.Error("recording booking attempt failed", logger.Error(err))
		return bookResume
	}
	o.track(app.ID, func(t *TaskStatus) { t.Attempts++ })

	base := context.WithoutCancel(ctx)

	stepCtx, cancel := context.WithTimeout(base, o.opts.StepTimeout)
	err := o.portal.OpenBookingForm(stepCtx, sess.Engine, slot)
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, navigator.ErrSlotExpired):
			// Lost the race before holding anything. Quietly resume.
			log.Info("slot taken before form opened", logger.String("slot_id", slot.ID))
			o.failAttempt(base, attempt, "slot_expired")
			return bookResume
		case errors.Is(err, navigator.ErrSessionExpired):
			o.failAttempt(base, attempt, "session_expired")
			return bookSessionLost
		default:
			log.Warn("opening booking form failed", logger.Error(err))
			o.failAttempt(base, attempt, "open_form_failed")
			o.publishFailed(base, app.ID, attempt, "open_form_failed", err)
			return bookResume
		}
	}

	attempt.State = model.AttemptFormOpened
	if err := o.store.UpdateAttempt(base, attempt); err != nil {
		log.Error("persisting attempt state failed", logger.Error(err))
	}

	details := detailsFor(app)

	// Record the dispatch before it happens: if the process dies inside
	// SubmitBooking, the row shows a submission may have reached the portal.
	attempt.State = model.AttemptSubmitted
	attempt.SubmittedHash = hashDetails(details)
	if err := o.store.UpdateAttempt(base, attempt); err != nil {
		log.Error("persisting attempt state failed", logger.Error(err))
	}

	stepCtx, cancel = context.WithTimeout(base, o.opts.StepTimeout)
	receipt, err := o.portal.SubmitBooking(stepCtx, sess.Engine, details)
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, navigator.ErrSlotExpired):
			log.Info("slot lost at confirmation", logger.String("slot_id", slot.ID))
			o.failAttempt(base, attempt, "slot_expired")
			o.publishFailed(base, app.ID, attempt, "slot_expired", err)
			return bookResume
		case errors.Is(err, navigator.ErrSubmissionRejected):
			log.Warn("submission rejected", logger.Error(err))
			o.failAttempt(base, attempt, "submission_rejected")
			o.publishFailed(base, app.ID, attempt, "submission_rejected", err)
			return bookResume
		default:
			// The submission was dispatched and the outcome is unknown. A
			// retry could double-book, so this is terminal until an operator
			// reconciles it against the portal.
			log.Error("submission outcome unconfirmed", logger.Error(err))
			o.failAttempt(base, attempt, "submission_unconfirmed")
			o.publishFailed(base, app.ID, attempt, "submission_unconfirmed", err)
			return bookTerminalFail
		}
	}

	attempt.State = model.AttemptCommitted
	attempt.ConfirmationCode = receipt.ConfirmationCode
	if err := o.store.UpdateAttempt(base, attempt); err != nil {
		log.Error("persisting committed attempt failed", logger.Error(err))
	}
	log.Info("booking committed",
		logger.String("slot_id", slot.ID),
		logger.String("confirmation_code", receipt.ConfirmationCode))
	o.sink.Publish(base, events.Event{
		ApplicantID: app.ID,
		Kind:        events.KindBookingCommitted,
		At:          time.Now().UTC(),
		Detail: map[string]string{
			"attempt_id":        attempt.ID,
			"slot_id":           slot.ID,
			"slot_date":         slot.Date.Format("2006-01-02"),
			"slot_time":         slot.Time,
			"confirmation_code": receipt.ConfirmationCode,
		},
	})
	return bookCommitted
}

func (o *Orchestrator) failAttempt(ctx context.Context, attempt *model.BookingAttempt, reason string) {
	attempt.State = model.AttemptFailed
	attempt.FailReason = reason
	if err := o.store.UpdateAttempt(ctx, attempt); err != nil {
		o.log.Error("persisting failed attempt",
			logger.String("attempt_id", attempt.ID),
			logger.Error(err))
	}
}

func (o *Orchestrator) publishFailed(ctx context.Context, applicantID uint, attempt *model.BookingAttempt, reason string, cause error) {
	o.sink.Publish(ctx, events.Event{
		ApplicantID: applicantID,
		Kind:        events.KindBookingFailed,
		At:          time.Now().UTC(),
		Detail: map[string]string{
			"attempt_id": attempt.ID,
			"slot_id":    attempt.SlotID,
			"reason":     reason,
			"error":      cause.Error(),
		},
	})
}

func (o *Orchestrator) finish(ctx context.Context, app *model.Applicant, status string) {
	if err := o.store.UpdateApplicantStatus(context.WithoutCancel(ctx), app.ID, status); err != nil {
		o.log.Error("updating applicant status failed",
			logger.Uint("applicant_id", app.ID),
			logger.Error(err))
	}
	o.track(app.ID, func(t *TaskStatus) { t.PollerState = poller.StateIdle })
}

func (o *Orchestrator) track(id uint, fn func(*TaskStatus)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[id]
	if !ok {
		t = &TaskStatus{ApplicantID: id}
		o.tasks[id] = t
	}
	fn(t)
}

func (o *Orchestrator) setRunning(v bool) {
	o.mu.Lock()
	o.running = v
	o.mu.Unlock()
}

// chooseSlot picks the earliest date in the window; the whole point of the
// exercise is the soonest possible appointment.
func chooseSlot(slots []navigator.Slot) navigator.Slot {
	best := slots[0]
	for _, s := range slots[1:] {
		if s.Date.Before(best.Date) {
			best = s
		}
	}
	return best
}

func queryFor(app *model.Applicant) navigator.SlotQuery {
	return navigator.SlotQuery{
		Center:      app.Center,
		Category:    app.Category,
		Subcategory: app.Subcategory,
		WindowStart: app.WindowStart,
		WindowEnd:   app.WindowEnd,
	}
}

func detailsFor(app *model.Applicant) navigator.Details {
	return navigator.Details{
		FirstName:      app.FirstName,
		LastName:       app.LastName,
		Email:          app.Email,
		Phone:          app.Phone,
		PassportNumber: app.PassportNumber,
		DateOfBirth:    app.DateOfBirth,
		Nationality:    app.Nationality,
	}
}

func hashDetails(d navigator.Details) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s",
		d.FirstName, d.LastName, d.Email, d.Phone,
		d.PassportNumber, d.DateOfBirth, d.Nationality)))
	return hex.EncodeToString(sum[:])
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
