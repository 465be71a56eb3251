package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/devnight0507/reverse-bot/internal/browser"
	"github.com/devnight0507/reverse-bot/internal/challenge"
	"github.com/devnight0507/reverse-bot/internal/db"
	"github.com/devnight0507/reverse-bot/internal/events"
	"github.com/devnight0507/reverse-bot/internal/logger"
	"github.com/devnight0507/reverse-bot/internal/model"
	"github.com/devnight0507/reverse-bot/internal/navigator"
	"github.com/devnight0507/reverse-bot/internal/orchestrator"
	"github.com/devnight0507/reverse-bot/internal/session"
	"github.com/devnight0507/reverse-bot/internal/store"
)

// portalServer simulates the booking portal end to end: cookie login,
// slot search, slot claim and confirmation. The first search rounds come
// back empty so the poller has to wait at least once.
type portalServer struct {
	mu         sync.Mutex
	email      string
	password   string
	logins     int
	searches   int
	emptyHits  int
	slotTaken  bool
	booked     bool
	confirmFor string
}

const portalCookie = "portal_sid"

func (p *portalServer) authed(r *http.Request) bool {
	c, err := r.Cookie(portalCookie)
	return err == nil && c.Value == "sess-1"
}

func (p *portalServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, loginHTML(""))
	})

	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.logins++
		if r.FormValue("email") != p.email || r.FormValue("password") != p.password {
			fmt.Fprint(w, loginHTML("Invalid credentials."))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: portalCookie, Value: "sess-1", Path: "/"})
		fmt.Fprint(w, dashboardHTML)
	})

	mux.HandleFunc("GET /dashboard", func(w http.ResponseWriter, r *http.Request) {
		if !p.authed(r) {
			fmt.Fprint(w, loginHTML(""))
			return
		}
		fmt.Fprint(w, dashboardHTML)
	})

	mux.HandleFunc("GET /book-appointment", func(w http.ResponseWriter, r *http.Request) {
		if !p.authed(r) {
			fmt.Fprint(w, loginHTML(""))
			return
		}
		fmt.Fprint(w, searchHTML(""))
	})

	mux.HandleFunc("POST /book-appointment/search", func(w http.ResponseWriter, r *http.Request) {
		if !p.authed(r) {
			fmt.Fprint(w, loginHTML(""))
			return
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		p.searches++
		if p.booked || p.slotTaken || p.searches <= p.emptyHits {
			fmt.Fprint(w, searchHTML(`<div class="alert-info">No appointments available.</div>`))
			return
		}
		fmt.Fprint(w, searchHTML(
			`<div class="slot-available" data-slot-id="S-1" data-date="2026-09-15" data-time="10:30"></div>`))
	})

	mux.HandleFunc("POST /book-appointment/select", func(w http.ResponseWriter, r *http.Request) {
		if !p.authed(r) {
			fmt.Fprint(w, loginHTML(""))
			return
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if r.FormValue("slot_id") != "S-1" || p.booked || p.slotTaken {
			fmt.Fprint(w, searchHTML(`<div class="slot-expired">This slot is no longer available.</div>`))
			return
		}
		fmt.Fprint(w, bookingFormHTML)
	})

	mux.HandleFunc("POST /book-appointment/confirm", func(w http.ResponseWriter, r *http.Request) {
		if !p.authed(r) {
			fmt.Fprint(w, loginHTML(""))
			return
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.booked || p.slotTaken {
			fmt.Fprint(w, searchHTML(`<div class="slot-expired">This slot is no longer available.</div>`))
			return
		}
		if r.FormValue("terms_accepted") != "true" || r.FormValue("passport_number") == "" {
			fmt.Fprint(w, bookingFormHTML)
			return
		}
		p.booked = true
		p.confirmFor = r.FormValue("passport_number")
		fmt.Fprint(w, `<html><body><div class="confirmation-code">VFS-1001</div></body></html>`)
	})

	return mux
}

func loginHTML(alert string) string {
	var b strings.Builder
	b.WriteString(`<html><body>`)
	if alert != "" {
		fmt.Fprintf(&b, `<div class="alert-danger">%s</div>`, alert)
	}
	b.WriteString(`<form id="login-form" method="post" action="/login">` +
		`<input name="email"/><input name="password" type="password"/></form></body></html>`)
	return b.String()
}

const dashboardHTML = `<html><body><div id="dashboard">Welcome back</div></body></html>`

func searchHTML(results string) string {
	return `<html><body><form id="slot-search" method="post" action="/book-appointment/search">` +
		`<select name="center"></select><select name="category"></select></form>` +
		results + `</body></html>`
}

const bookingFormHTML = `<html><body>` +
	`<form id="booking-form" method="post" action="/book-appointment/confirm">` +
	`<input name="first_name"/><input name="last_name"/><input name="passport_number"/>` +
	`</form></body></html>`

// noChallengeSolver fails loudly; the simulated portal never serves a
// challenge widget, so any call is a navigation bug.
type noChallengeSolver struct{}

func (noChallengeSolver) Solve(context.Context, challenge.Challenge) (string, error) {
	return "", errors.New("unexpected challenge solve")
}

func TestEndToEnd_MonitorAndBook(t *testing.T) {
	portal := &portalServer{
		email:     "ada@portal.example",
		password:  "open-sesame",
		emptyHits: 2,
	}
	srv := httptest.NewServer(portal.handler())
	defer srv.Close()

	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gormDB))
	st := store.NewGormStore(gormDB)

	ctx := context.Background()
	app := &model.Applicant{
		FirstName:      "Ada",
		LastName:       "Lovelace",
		Email:          "ada@example.com",
		Phone:          "+90 555 000 0000",
		PassportNumber: "P900100",
		DateOfBirth:    "1990-12-10",
		Nationality:    "TR",
		CredentialKey:  "cred-ada",
		PortalEmail:    portal.email,
		PortalPassword: portal.password,
		Center:         "Istanbul",
		Category:       "ShortStay",
		WindowStart:    time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		WindowEnd:      time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC),
		Status:         model.ApplicantMonitoring,
	}
	require.NoError(t, st.CreateApplicant(ctx, app))

	log := logger.NewNop()
	sink := events.NewStoreSink(st, log)
	nav := navigator.New(noChallengeSolver{}, log, navigator.Options{})
	factory := func() (browser.Engine, error) {
		return browser.NewHTTPEngine(browser.Options{
			BaseURL: srv.URL,
			Timeout: 5 * time.Second,
		})
	}
	sessions := session.NewManager(st, nav, factory, sink, log, session.Options{
		Restore: true,
		TTL:     time.Hour,
	})
	defer sessions.Close()

	mon := orchestrator.New(st, sessions, nav, sink, log, orchestrator.Options{
		Interval:          5 * time.Millisecond,
		BackoffMin:        5 * time.Millisecond,
		BackoffMax:        40 * time.Millisecond,
		DegradedThreshold: 3,
		StepTimeout:       5 * time.Second,
	})

	runCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	require.NoError(t, mon.Run(runCtx))
	require.NoError(t, runCtx.Err(), "monitor should finish by booking, not by timeout")

	// Portal side: exactly one login, the empty rounds were polled
	// through, and the booking carries the applicant's passport.
	portal.mu.Lock()
	assert.Equal(t, 1, portal.logins)
	assert.GreaterOrEqual(t, portal.searches, portal.emptyHits+1)
	assert.True(t, portal.booked)
	assert.Equal(t, "P900100", portal.confirmFor)
	portal.mu.Unlock()

	got, err := st.GetApplicant(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApplicantBooked, got.Status)

	attempts, err := st.ListAttempts(ctx, app.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, model.AttemptCommitted, attempts[0].State)
	assert.Equal(t, "S-1", attempts[0].SlotID)
	assert.Equal(t, "VFS-1001", attempts[0].ConfirmationCode)
	assert.NotEmpty(t, attempts[0].SubmittedHash)

	recs, err := st.ListEvents(ctx, app.ID, 50)
	require.NoError(t, err)
	kinds := make([]string, 0, len(recs))
	for _, r := range recs {
		kinds = append(kinds, r.Kind)
	}
	assert.Contains(t, kinds, string(events.KindSessionEstablished))
	assert.Contains(t, kinds, string(events.KindBookingCommitted))

	// The session token was persisted for restore on the next start.
	rec, err := st.LoadSessionToken(ctx, app.CredentialKey)
	require.NoError(t, err)
	assert.True(t, rec.Restorable(time.Now()))
}

func TestEndToEnd_RestartRestoresSession(t *testing.T) {
	portal := &portalServer{
		email:    "ada@portal.example",
		password: "open-sesame",
	}
	srv := httptest.NewServer(portal.handler())
	defer srv.Close()

	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gormDB))
	st := store.NewGormStore(gormDB)

	ctx := context.Background()
	app := &model.Applicant{
		FirstName:      "Ada",
		LastName:       "Lovelace",
		Email:          "ada@example.com",
		PassportNumber: "P900200",
		CredentialKey:  "cred-ada",
		PortalEmail:    portal.email,
		PortalPassword: portal.password,
		Center:         "Istanbul",
		Category:       "ShortStay",
		Status:         model.ApplicantMonitoring,
	}
	require.NoError(t, st.CreateApplicant(ctx, app))

	log := logger.NewNop()
	sink := events.NewStoreSink(st, log)
	nav := navigator.New(noChallengeSolver{}, log, navigator.Options{})
	factory := func() (browser.Engine, error) {
		return browser.NewHTTPEngine(browser.Options{BaseURL: srv.URL, Timeout: 5 * time.Second})
	}
	opts := session.Options{Restore: true, TTL: time.Hour}

	// First process: fresh login persists a restore token.
	first := session.NewManager(st, nav, factory, sink, log, opts)
	_, err = first.Acquire(ctx, app)
	require.NoError(t, err)
	first.Close()

	// Second process: the cookie token is restored, no second login.
	second := session.NewManager(st, nav, factory, sink, log, opts)
	defer second.Close()
	sess, err := second.Acquire(ctx, app)
	require.NoError(t, err)
	require.NotNil(t, sess)

	alive, err := nav.CheckSession(ctx, sess.Engine)
	require.NoError(t, err)
	assert.True(t, alive)

	portal.mu.Lock()
	assert.Equal(t, 1, portal.logins)
	portal.mu.Unlock()
}
