package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/devnight0507/reverse-bot/config"
	"github.com/devnight0507/reverse-bot/internal/db"
	"github.com/devnight0507/reverse-bot/internal/model"
	"github.com/devnight0507/reverse-bot/internal/orchestrator"
	"github.com/devnight0507/reverse-bot/internal/store"
)

type fakeMonitor struct {
	summary  orchestrator.Summary
	startErr error
	stopErr  error
	starts   int
	stops    int
}

func (f *fakeMonitor) Status() orchestrator.Summary { return f.summary }

func (f *fakeMonitor) Start() error {
	f.starts++
	return f.startErr
}

func (f *fakeMonitor) Stop() error {
	f.stops++
	return f.stopErr
}

func setupRouter(t *testing.T, monitor MonitorStatus) (*gin.Engine, store.Store) {
	gin.SetMode(gin.TestMode)

	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gormDB))
	st := store.NewGormStore(gormDB)

	cfg := config.ServerConfig{RateLimitPerSec: 1000, RateLimitBurst: 1000, CacheTTLSeconds: 1}
	router := NewRouter(st, &webpush.Options{VAPIDPublicKey: "pub-key"}, monitor, cfg)
	return router, st
}

func applicantBody() map[string]any {
	return map[string]any{
		"first_name":      "Ada",
		"last_name":       "Lovelace",
		"email":           "ada@example.com",
		"passport_number": "P600",
		"credential_key":  "cred-1",
		"portal_email":    "ada@portal.example",
		"portal_password": "secret",
		"center":          "IST",
		"category":        "ShortStay",
		"window_start":    "2026-09-01",
		"window_end":      "2026-09-30",
	}
}

func postJSON(router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestCreateApplicant(t *testing.T) {
	router, st := setupRouter(t, nil)

	w := postJSON(router, "/api/applicants", applicantBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// The password never appears in API responses.
	assert.NotContains(t, w.Body.String(), "secret")

	apps, err := st.ListApplicants(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, model.ApplicantMonitoring, apps[0].Status)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), apps[0].WindowStart.UTC())
}

func TestCreateApplicant_Validation(t *testing.T) {
	router, _ := setupRouter(t, nil)

	t.Run("missing required fields", func(t *testing.T) {
		body := applicantBody()
		delete(body, "portal_password")
		w := postJSON(router, "/api/applicants", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed window", func(t *testing.T) {
		body := applicantBody()
		body["window_start"] = "next tuesday"
		w := postJSON(router, "/api/applicants", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("inverted window", func(t *testing.T) {
		body := applicantBody()
		body["window_start"] = "2026-09-30"
		body["window_end"] = "2026-09-01"
		w := postJSON(router, "/api/applicants", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetApplicant(t *testing.T) {
	router, st := setupRouter(t, nil)
	w := postJSON(router, "/api/applicants", applicantBody())
	require.Equal(t, http.StatusCreated, w.Code)

	apps, err := st.ListApplicants(context.Background())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, fmt.Sprintf("/api/applicants/%d", apps[0].ID), nil)
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/api/applicants/9999", nil)
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/api/applicants/abc", nil)
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetMonitorStatus(t *testing.T) {
	t.Run("monitor running", func(t *testing.T) {
		monitor := &fakeMonitor{summary: orchestrator.Summary{
			Running: true,
			Tasks:   []orchestrator.TaskStatus{{ApplicantID: 1, PollerState: "polling"}},
		}}
		router, _ := setupRouter(t, monitor)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/api/monitor/status", nil)
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"running":true`)
	})

	t.Run("api-only mode", func(t *testing.T) {
		router, _ := setupRouter(t, nil)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/api/monitor/status", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestMonitorControls(t *testing.T) {
	t.Run("start and stop", func(t *testing.T) {
		monitor := &fakeMonitor{}
		router, _ := setupRouter(t, monitor)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodPost, "/api/monitor/start", nil)
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, 1, monitor.starts)

		w = httptest.NewRecorder()
		req, _ = http.NewRequest(http.MethodPost, "/api/monitor/stop", nil)
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, 1, monitor.stops)
	})

	t.Run("double start conflicts", func(t *testing.T) {
		monitor := &fakeMonitor{startErr: orchestrator.ErrAlreadyRunning}
		router, _ := setupRouter(t, monitor)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodPost, "/api/monitor/start", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("api-only mode", func(t *testing.T) {
		router, _ := setupRouter(t, nil)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodPost, "/api/monitor/start", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestSubscriptionLifecycle(t *testing.T) {
	router, _ := setupRouter(t, nil)

	put := func() *httptest.ResponseRecorder {
		raw := `{"endpoint":"https://push.example/ep1","p256dh":"key","auth":"auth"}`
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodPut, "/api/subscriptions", strings.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		return w
	}

	require.Equal(t, http.StatusCreated, put().Code)
	// Replaying the subscription upserts instead of erroring.
	require.Equal(t, http.StatusCreated, put().Code)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/subscriptions?endpoint=https%3A%2F%2Fpush.example%2Fep1", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodDelete, "/api/subscriptions", strings.NewReader(`{"endpoint":"https://push.example/ep1"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/api/subscriptions?endpoint=https%3A%2F%2Fpush.example%2Fep1", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetVAPIDPublicKey(t *testing.T) {
	router, _ := setupRouter(t, nil)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/vapid_public_key", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"public_key":"pub-key"}`, w.Body.String())
}
