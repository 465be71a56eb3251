package navigator

import "github.com/devnight0507/reverse-bot/internal/browser"

// Portal paths, relative to the configured base URL.
const (
	pathLogin       = "/login"
	pathDashboard   = "/dashboard"
	pathAppointment = "/book-appointment"
)

// Selectors for the portal's page elements. Kept in one place so layout
// drift is a one-file fix.
const (
	selLoginForm     = "form#login-form"
	selEmailInput    = "input[name='email']"
	selPasswordInput = "input[name='password']"
	selDashboard     = "#dashboard"
	selNewBooking    = "form#new-booking"
	selSearchForm    = "form#slot-search"
	selBookingForm   = "form#booking-form"
	selSlot          = ".slot-available"
	selNoSlots       = ".alert-info"
	selSlotGone      = ".slot-expired"
	selConfirmCode   = ".confirmation-code"
	selSuccessAlert  = ".alert-success"
	selErrorAlert    = ".alert-danger"
	selLockout       = ".account-lockout"
	selRateLimited   = ".rate-limited"

	selChallenge   = "[data-sitekey]"
	attrSiteKey    = "data-sitekey"
	challengeField = "challenge-response"
	challengeKind  = "turnstile"
)

// Slot node attributes.
const (
	attrSlotID   = "data-slot-id"
	attrSlotDate = "data-date"
	attrSlotTime = "data-time"
)

// PageState names the portal's known pages. The navigation graph is kept
// explicit so a page that matches none of the expected states becomes a
// typed NavigationError instead of an unstructured crash.
type PageState int

const (
	PageUnknown PageState = iota
	PageLogin
	PageDashboard
	PageSlotSearch
	PageBookingForm
	PageConfirmation
	PageLockout
	PageRateLimited
)

func (s PageState) String() string {
	switch s {
	case PageLogin:
		return "login"
	case PageDashboard:
		return "dashboard"
	case PageSlotSearch:
		return "slot_search"
	case PageBookingForm:
		return "booking_form"
	case PageConfirmation:
		return "confirmation"
	case PageLockout:
		return "lockout"
	case PageRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// classify maps an observed page onto the known navigation graph.
func classify(p browser.Page) PageState {
	switch {
	case p.Has(selLockout):
		return PageLockout
	case p.Has(selRateLimited):
		return PageRateLimited
	case p.Has(selLoginForm):
		return PageLogin
	case p.Has(selBookingForm):
		return PageBookingForm
	case p.Has(selSearchForm):
		return PageSlotSearch
	case p.Has(selConfirmCode), p.Has(selSuccessAlert):
		return PageConfirmation
	case p.Has(selDashboard):
		return PageDashboard
	default:
		return PageUnknown
	}
}
