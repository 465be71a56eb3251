package navigator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/devnight0507/reverse-bot/internal/browser"
	"github.com/devnight0507/reverse-bot/internal/challenge"
	"github.com/devnight0507/reverse-bot/internal/logger"
)

const defaultChallengeRetries = 2

// Options tunes the navigator's pacing behaviour.
type Options struct {
	// Think-time bounds applied on throttled paths (login, polling).
	// The slot-found booking path is never paced: once a slot shows up
	// the race is on.
	ThinkMin time.Duration
	ThinkMax time.Duration
	// ChallengeRetries caps how often a reappearing challenge is solved
	// and the step resubmitted before giving up.
	ChallengeRetries int
}

// Navigator drives the browsing engine through the portal's known page
// graph, one method per step. Challenges observed mid-step are solved and
// the step resubmitted internally; callers only see the added latency.
// Navigator holds no per-session state, so one instance serves all
// applicant tasks.
type Navigator struct {
	solver challenge.Solver
	log    logger.Logger
	opts   Options
}

// New creates a Navigator using the given solver for observed challenges.
func New(solver challenge.Solver, log logger.Logger, opts Options) *Navigator {
	if opts.ChallengeRetries <= 0 {
		opts.ChallengeRetries = defaultChallengeRetries
	}
	return &Navigator{solver: solver, log: log, opts: opts}
}

// Login performs a fresh portal login on the given engine. Returns
// ErrCredentialsRejected when the portal refuses the credentials and a
// NavigationError when the page graph does not behave as expected.
func (n *Navigator) Login(ctx context.Context, eng browser.Engine, email, password string) error {
	page, err := eng.Navigate(ctx, pathLogin)
	if err != nil {
		return navErr(StepLogin, PageUnknown, err)
	}

	switch st := classify(page); st {
	case PageDashboard:
		// Restored cookies were still live.
		return nil
	case PageLogin:
	default:
		return navErr(StepLogin, st, nil)
	}

	n.think(ctx)

	form := browser.Form{
		Action: pathLogin,
		Fields: map[string]string{
			"email":    email,
			"password": password,
		},
	}
	result, err := n.submitStep(ctx, eng, StepLogin, PageLogin, page, form)
	if err != nil {
		return err
	}

	switch st := classify(result); st {
	case PageDashboard:
		return nil
	case PageLogin:
		msg := result.Text(selErrorAlert)
		if msg == "" {
			msg = "login refused"
		}
		return fmt.Errorf("%w: %s", ErrCredentialsRejected, msg)
	default:
		return navErr(StepLogin, st, nil)
	}
}

// CheckSession probes whether the engine's current context is still
// authenticated, with one live dashboard request.
func (n *Navigator) CheckSession(ctx context.Context, eng browser.Engine) (bool, error) {
	page, err := eng.Navigate(ctx, pathDashboard)
	if err != nil {
		return false, navErr(StepSessionScan, PageUnknown, err)
	}
	switch st := classify(page); st {
	case PageDashboard:
		return true, nil
	case PageLogin:
		return false, nil
	default:
		return false, navErr(StepSessionScan, st, nil)
	}
}

// CheckSlots runs one availability check for the query. A pure read: it
// selects the center and category and reads the result list, never touching
// booking state. An empty slice means no slots inside the window.
func (n *Navigator) CheckSlots(ctx context.Context, eng browser.Engine, q SlotQuery) ([]Slot, error) {
	page, err := eng.Navigate(ctx, pathAppointment)
	if err != nil {
		return nil, navErr(StepSlotSearch, PageUnknown, err)
	}

	switch st := classify(page); st {
	case PageLogin:
		return nil, ErrSessionExpired
	case PageSlotSearch:
	default:
		return nil, navErr(StepSlotSearch, st, nil)
	}

	n.think(ctx)

	form := browser.Form{
		Action: pathAppointment + "/search",
		Fields: map[string]string{
			"center":      q.Center,
			"category":    q.Category,
			"subcategory": q.Subcategory,
		},
	}
	result, err := n.submitStep(ctx, eng, StepSlotSearch, PageSlotSearch, page, form)
	if err != nil {
		return nil, err
	}

	switch st := classify(result); st {
	case PageLogin:
		return nil, ErrSessionExpired
	case PageSlotSearch:
	default:
		return nil, navErr(StepSlotSearch, st, nil)
	}

	if result.Has(selNoSlots) {
		return nil, nil
	}

	var slots []Slot
	for _, node := range result.All(selSlot) {
		date, err := time.Parse("2006-01-02", node.Attrs[attrSlotDate])
		if err != nil {
			n.log.Warn("unparseable slot date on search page",
				logger.String("raw", node.Attrs[attrSlotDate]))
			continue
		}
		if !q.InWindow(date) {
			continue
		}
		slots = append(slots, Slot{
			ID:   node.Attrs[attrSlotID],
			Date: date,
			Time: node.Attrs[attrSlotTime],
		})
	}
	return slots, nil
}

// OpenBookingForm claims the slot and opens the booking form. Unpaced:
// this is the latency-critical edge of the race. ErrSlotExpired means
// another actor got there first.
func (n *Navigator) OpenBookingForm(ctx context.Context, eng browser.Engine, slot Slot) error {
	page, err := eng.ReadState(ctx)
	if err != nil {
		return navErr(StepOpenForm, PageUnknown, err)
	}

	form := browser.Form{
		Action: pathAppointment + "/select",
		Fields: map[string]string{
			"slot_id": slot.ID,
		},
	}
	result, err := n.submitStep(ctx, eng, StepOpenForm, PageSlotSearch, page, form)
	if err != nil {
		return err
	}

	if result.Has(selSlotGone) {
		return ErrSlotExpired
	}
	switch st := classify(result); st {
	case PageBookingForm:
		return nil
	case PageLogin:
		return ErrSessionExpired
	default:
		return navErr(StepOpenForm, st, nil)
	}
}

// SubmitBooking submits the applicant details on the open booking form and
// reads the outcome. Unpaced. A challenge reappearing here is solved
// transparently like on any other step.
func (n *Navigator) SubmitBooking(ctx context.Context, eng browser.Engine, d Details) (*Receipt, error) {
	page, err := eng.ReadState(ctx)
	if err != nil {
		return nil, navErr(StepSubmit, PageUnknown, err)
	}
	if st := classify(page); st != PageBookingForm {
		return nil, navErr(StepSubmit, st, nil)
	}

	form := browser.Form{
		Action: pathAppointment + "/confirm",
		Fields: map[string]string{
			"first_name":      d.FirstName,
			"last_name":       d.LastName,
			"email":           d.Email,
			"phone":           d.Phone,
			"passport_number": d.PassportNumber,
			"date_of_birth":   d.DateOfBirth,
			"nationality":     d.Nationality,
			"terms_accepted":  "true",
		},
	}
	result, err := n.submitStep(ctx, eng, StepSubmit, PageBookingForm, page, form)
	if err != nil {
		return nil, err
	}

	switch {
	case result.Has(selSlotGone):
		// Partial hold lost between form open and confirm.
		return nil, ErrSlotExpired
	case result.Has(selConfirmCode):
		return &Receipt{
			ConfirmationCode: result.Text(selConfirmCode),
			IssuedAt:         time.Now().UTC(),
		}, nil
	case result.Has(selSuccessAlert):
		// Portal confirmed without printing a code; still committed.
		return &Receipt{IssuedAt: time.Now().UTC()}, nil
	case result.Has(selErrorAlert):
		return nil, fmt.Errorf("%w: %s", ErrSubmissionRejected, result.Text(selErrorAlert))
	default:
		return nil, ErrSubmissionUnclear
	}
}

// submitStep submits a form, solving an observed challenge first and
// resubmitting (bounded) when the portal answers with the same page plus a
// fresh challenge. stuck names the page state that indicates the submit
// was blocked rather than processed.
func (n *Navigator) submitStep(ctx context.Context, eng browser.Engine, step string, stuck PageState, page browser.Page, form browser.Form) (browser.Page, error) {
	for attempt := 0; ; attempt++ {
		if page.Has(selChallenge) {
			token, err := n.solveChallenge(ctx, page)
			if err != nil {
				return nil, err
			}
			form.Fields[challengeField] = token
		}

		result, err := eng.SubmitForm(ctx, form)
		if err != nil {
			return nil, navErr(step, PageUnknown, err)
		}

		if classify(result) == stuck && result.Has(selChallenge) {
			if attempt >= n.opts.ChallengeRetries {
				// Still walled after every paid solve. Surfacing a
				// challenge-kind failure keeps this out of the
				// credential and navigation buckets.
				return nil, fmt.Errorf("%w: challenge wall persisted at %s after %d submits",
					challenge.ErrUnsolvable, step, attempt+1)
			}
			n.log.Info("challenge reappeared mid-step, resolving",
				logger.String("step", step),
				logger.Int("attempt", attempt+1))
			page = result
			continue
		}
		return result, nil
	}
}

func (n *Navigator) solveChallenge(ctx context.Context, page browser.Page) (string, error) {
	siteKey, ok := page.Attr(selChallenge, attrSiteKey)
	if !ok {
		return "", navErr(StepSessionScan, classify(page),
			errors.New("challenge widget without site key"))
	}
	return n.solver.Solve(ctx, challenge.Challenge{
		Kind:    challengeKind,
		SiteKey: siteKey,
		PageURL: page.URL(),
	})
}

// think sleeps a random human-ish interval on throttled paths.
func (n *Navigator) think(ctx context.Context) {
	if n.opts.ThinkMax <= 0 {
		return
	}
	span := n.opts.ThinkMax - n.opts.ThinkMin
	d := n.opts.ThinkMin
	if span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
