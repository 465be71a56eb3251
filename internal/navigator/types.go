package navigator

import (
	"errors"
	"fmt"
	"time"
)

// SlotQuery is the unit of one availability check. Immutable once issued.
type SlotQuery struct {
	Center      string
	Category    string
	Subcategory string
	WindowStart time.Time
	WindowEnd   time.Time
}

// InWindow reports whether a date falls inside the query's preferred range.
// A zero window accepts every date.
func (q SlotQuery) InWindow(d time.Time) bool {
	if !q.WindowStart.IsZero() && d.Before(q.WindowStart) {
		return false
	}
	if !q.WindowEnd.IsZero() && d.After(q.WindowEnd) {
		return false
	}
	return true
}

// Slot is one discrete appointment opportunity observed on the portal.
type Slot struct {
	ID   string
	Date time.Time
	Time string
}

// Details is the applicant payload submitted on the booking form.
type Details struct {
	FirstName      string
	LastName       string
	Email          string
	Phone          string
	PassportNumber string
	DateOfBirth    string
	Nationality    string
}

// Receipt is the portal's confirmation of a committed booking.
type Receipt struct {
	ConfirmationCode string
	IssuedAt         time.Time
}

// Step names used in NavigationError reporting.
const (
	StepLogin       = "login"
	StepSlotSearch  = "slot_search"
	StepOpenForm    = "open_booking_form"
	StepSubmit      = "submit_booking"
	StepSessionScan = "session_check"
)

// Sentinel failures of individual steps.
var (
	// ErrCredentialsRejected means the portal refused the login form.
	ErrCredentialsRejected = errors.New("navigator: credentials rejected")
	// ErrSessionExpired means the portal bounced an authenticated step
	// back to the login page.
	ErrSessionExpired = errors.New("navigator: session expired")
	// ErrSlotExpired means the slot was gone by the time we acted on it.
	// An expected race, not a failure of the portal or the bot.
	ErrSlotExpired = errors.New("navigator: slot no longer available")
	// ErrSubmissionRejected means the portal refused the booking form.
	ErrSubmissionRejected = errors.New("navigator: submission rejected")
	// ErrSubmissionUnclear means the submission went out but neither a
	// confirmation nor a rejection came back. Never auto-retried.
	ErrSubmissionUnclear = errors.New("navigator: submission outcome unclear")
)

// NavigationError reports a portal page that does not match the expected
// step: layout drift, lockout, rate-limit interstitials. Always surfaced,
// never silently swallowed.
type NavigationError struct {
	Step     string
	Observed PageState
	Cause    error
}

func (e *NavigationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("navigation failed at %s (observed %s): %v", e.Step, e.Observed, e.Cause)
	}
	return fmt.Sprintf("navigation failed at %s (observed %s)", e.Step, e.Observed)
}

func (e *NavigationError) Unwrap() error { return e.Cause }

func navErr(step string, observed PageState, cause error) *NavigationError {
	return &NavigationError{Step: step, Observed: observed, Cause: cause}
}
