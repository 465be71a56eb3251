package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/devnight0507/reverse-bot/internal/browser"
	"github.com/devnight0507/reverse-bot/internal/events"
	"github.com/devnight0507/reverse-bot/internal/logger"
	"github.com/devnight0507/reverse-bot/internal/model"
	"github.com/devnight0507/reverse-bot/internal/navigator"
	"github.com/devnight0507/reverse-bot/internal/store"
)

// AuthError marks a login failure that retrying cannot fix: wrong
// credentials or a locked account. Callers must stop the applicant's task
// and flag it for operator review.
type AuthError struct {
	CredentialKey string
	Reason        string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %s", e.CredentialKey, e.Reason)
}

// Session is an authenticated portal context bound to one credential set.
type Session struct {
	CredentialKey string
	Engine        browser.Engine
	EstablishedAt time.Time
	LastUsedAt    time.Time
}

// portalAuth is the slice of the navigator the manager needs.
type portalAuth interface {
	Login(ctx context.Context, eng browser.Engine, email, password string) error
	CheckSession(ctx context.Context, eng browser.Engine) (bool, error)
}

// Options configures a Manager.
type Options struct {
	// Restore enables loading persisted session tokens on startup instead
	// of always logging in fresh.
	Restore bool
	// TTL bounds how long a persisted token is considered restorable.
	TTL time.Duration
}

// Manager owns one live session per credential set. Acquire is safe for
// concurrent use and idempotent: a second call for the same credentials
// returns the existing session without touching the portal's login
// endpoint or spending any challenge solves.
type Manager struct {
	store     store.Store
	nav       portalAuth
	newEngine browser.Factory
	sink      events.Sink
	log       logger.Logger
	opts      Options
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*sync.Mutex
}

// NewManager creates a session manager.
func NewManager(st store.Store, nav portalAuth, factory browser.Factory, sink events.Sink, log logger.Logger, opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = 12 * time.Hour
	}
	return &Manager{
		store:     st,
		nav:       nav,
		newEngine: factory,
		sink:      sink,
		log:       log,
		opts:      opts,
		now:       time.Now,
		sessions:  make(map[string]*Session),
		locks:     make(map[string]*sync.Mutex),
	}
}

// keyLock returns the per-credential mutex so concurrent Acquire calls for
// the same credentials serialize instead of racing two logins.
func (m *Manager) keyLock(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// Acquire returns a live session for the applicant's credential set,
// reusing the cached one when it is still valid, restoring a persisted
// token when allowed, and logging in fresh as the last resort.
func (m *Manager) Acquire(ctx context.Context, app *model.Applicant) (*Session, error) {
	key := app.CredentialKey
	lock := m.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if s := m.cached(key); s != nil {
		ok, err := m.nav.CheckSession(ctx, s.Engine)
		if err == nil && ok {
			s.LastUsedAt = m.now()
			return s, nil
		}
		m.log.Info("cached session no longer valid, discarding",
			logger.String("credential_key", key))
		m.drop(key)
	}

	eng, err := m.newEngine()
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	if m.opts.Restore {
		if s, ok := m.tryRestore(ctx, eng, key, app.ID); ok {
			return s, nil
		}
	}

	if err := m.nav.Login(ctx, eng, app.PortalEmail, app.PortalPassword); err != nil {
		eng.Close()
		if errors.Is(err, navigator.ErrCredentialsRejected) {
			return nil, &AuthError{CredentialKey: key, Reason: err.Error()}
		}
		return nil, fmt.Errorf("login: %w", err)
	}

	s := m.install(key, eng)
	m.persistToken(ctx, key, eng)
	m.sink.Publish(ctx, events.Event{
		ApplicantID: app.ID,
		Kind:        events.KindSessionEstablished,
		At:          s.EstablishedAt,
		Detail:      map[string]string{"credential_key": key, "mode": "login"},
	})
	return s, nil
}

// tryRestore attempts to revive a persisted token inside the fresh engine.
// A token that loads but fails the liveness probe is deleted so the next
// attempt goes straight to login.
func (m *Manager) tryRestore(ctx context.Context, eng browser.Engine, key string, appID uint) (*Session, bool) {
	rec, err := m.store.LoadSessionToken(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.log.Warn("loading session token failed", logger.String("credential_key", key), logger.Error(err))
		}
		return nil, false
	}
	if !rec.Restorable(m.now()) {
		m.deleteToken(ctx, key)
		return nil, false
	}
	if err := eng.RestoreState(ctx, rec.Token); err != nil {
		m.log.Warn("restoring session state failed", logger.String("credential_key", key), logger.Error(err))
		m.deleteToken(ctx, key)
		return nil, false
	}
	ok, err := m.nav.CheckSession(ctx, eng)
	if err != nil || !ok {
		m.log.Info("persisted session token is stale",
			logger.String("credential_key", key))
		m.deleteToken(ctx, key)
		return nil, false
	}

	s := m.install(key, eng)
	m.sink.Publish(ctx, events.Event{
		ApplicantID: appID,
		Kind:        events.KindSessionEstablished,
		At:          s.EstablishedAt,
		Detail:      map[string]string{"credential_key": key, "mode": "restored"},
	})
	return s, true
}

// Invalidate discards the cached session and its persisted token, so the
// next Acquire establishes a fresh one. Called when the portal starts
// answering with login pages mid-flight.
func (m *Manager) Invalidate(ctx context.Context, key string) {
	m.mu.Lock()
	s := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()
	if s != nil {
		s.Engine.Close()
	}
	m.deleteToken(ctx, key)
}

// Close shuts down every live engine.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, s := range m.sessions {
		if err := s.Engine.Close(); err != nil {
			m.log.Warn("closing engine failed", logger.String("credential_key", key), logger.Error(err))
		}
		delete(m.sessions, key)
	}
}

func (m *Manager) cached(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[key]
}

func (m *Manager) drop(key string) {
	m.mu.Lock()
	s := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()
	if s != nil {
		s.Engine.Close()
	}
}

func (m *Manager) install(key string, eng browser.Engine) *Session {
	now := m.now()
	s := &Session{
		CredentialKey: key,
		Engine:        eng,
		EstablishedAt: now,
		LastUsedAt:    now,
	}
	m.mu.Lock()
	m.sessions[key] = s
	m.mu.Unlock()
	return s
}

// persistToken exports the engine state and saves it for restarts. Failing
// to persist never fails the acquire; the session itself is live.
func (m *Manager) persistToken(ctx context.Context, key string, eng browser.Engine) {
	state, err := eng.ExportState(ctx)
	if err != nil {
		m.log.Warn("exporting session state failed", logger.String("credential_key", key), logger.Error(err))
		return
	}
	now := m.now()
	rec := &model.SessionRecord{
		CredentialKey: key,
		Token:         state,
		ExpiresAt:     now.Add(m.opts.TTL),
		LastUsedAt:    now,
	}
	if err := m.store.SaveSessionToken(ctx, rec); err != nil {
		m.log.Warn("saving session token failed", logger.String("credential_key", key), logger.Error(err))
	}
}

func (m *Manager) deleteToken(ctx context.Context, key string) {
	if err := m.store.DeleteSessionToken(ctx, key); err != nil {
		m.log.Warn("deleting session token failed", logger.String("credential_key", key), logger.Error(err))
	}
}
