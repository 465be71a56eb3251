package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPEngine_NavigateAndQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		fmt.Fprint(w, `<html><body>
			<div id="dashboard">Welcome back</div>
			<div class="slot-available" data-slot-id="s1" data-date="2026-09-10">09:00</div>
			<div class="slot-available" data-slot-id="s2" data-date="2026-09-11">10:30</div>
		</body></html>`)
	}))
	defer server.Close()

	eng, err := NewHTTPEngine(Options{BaseURL: server.URL, UserAgent: "test-agent"})
	require.NoError(t, err)
	defer eng.Close()

	page, err := eng.Navigate(context.Background(), "/dashboard")
	require.NoError(t, err)

	assert.True(t, page.Has("#dashboard"))
	assert.False(t, page.Has("#missing"))
	assert.Equal(t, "Welcome back", page.Text("#dashboard"))

	nodes := page.All(".slot-available")
	require.Len(t, nodes, 2)
	assert.Equal(t, "s1", nodes[0].Attrs["data-slot-id"])
	assert.Equal(t, "2026-09-10", nodes[0].Attrs["data-date"])
	assert.Equal(t, "09:00", nodes[0].Text)

	id, ok := page.Attr(".slot-available", "data-slot-id")
	assert.True(t, ok)
	assert.Equal(t, "s1", id)

	// ReadState hands back the last loaded page.
	current, err := eng.ReadState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, page.URL(), current.URL())
}

func TestHTTPEngine_SubmitForm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/login", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "user@example.com", r.PostForm.Get("email"))
		assert.Equal(t, "secret", r.PostForm.Get("password"))

		http.SetCookie(w, &http.Cookie{Name: "portal_session", Value: "abc123"})
		fmt.Fprint(w, `<html><body><div id="dashboard"></div></body></html>`)
	}))
	defer server.Close()

	eng, err := NewHTTPEngine(Options{BaseURL: server.URL})
	require.NoError(t, err)
	defer eng.Close()

	page, err := eng.SubmitForm(context.Background(), Form{
		Action: "/login",
		Fields: map[string]string{"email": "user@example.com", "password": "secret"},
	})
	require.NoError(t, err)
	assert.True(t, page.Has("#dashboard"))
}

func TestHTTPEngine_ServerErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	eng, err := NewHTTPEngine(Options{BaseURL: server.URL})
	require.NoError(t, err)
	defer eng.Close()

	_, err = eng.Navigate(context.Background(), "/dashboard")
	assert.Error(t, err)
}

func TestHTTPEngine_StateRoundTrip(t *testing.T) {
	var lastCookie string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("portal_session"); err == nil {
			lastCookie = c.Value
		} else {
			lastCookie = ""
		}
		if r.URL.Path == "/login" {
			http.SetCookie(w, &http.Cookie{Name: "portal_session", Value: "tok-1"})
		}
		fmt.Fprint(w, `<html><body></body></html>`)
	}))
	defer server.Close()

	first, err := NewHTTPEngine(Options{BaseURL: server.URL})
	require.NoError(t, err)
	_, err = first.Navigate(context.Background(), "/login")
	require.NoError(t, err)

	state, err := first.ExportState(context.Background())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// A fresh engine restored from the exported state carries the cookie.
	second, err := NewHTTPEngine(Options{BaseURL: server.URL})
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.RestoreState(context.Background(), state))

	_, err = second.Navigate(context.Background(), "/dashboard")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", lastCookie)
}

func TestHTTPEngine_RestoreStateRejectsGarbage(t *testing.T) {
	eng, err := NewHTTPEngine(Options{BaseURL: "http://portal.local"})
	require.NoError(t, err)
	defer eng.Close()

	assert.Error(t, eng.RestoreState(context.Background(), []byte("not json")))
}

func TestHTTPEngine_ExecuteScriptUnsupported(t *testing.T) {
	eng, err := NewHTTPEngine(Options{BaseURL: "http://portal.local"})
	require.NoError(t, err)
	defer eng.Close()

	_, err = eng.ExecuteScript(context.Background(), "return 1")
	assert.ErrorIs(t, err, ErrScriptUnsupported)
}
