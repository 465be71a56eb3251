package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"github.com/devnight0507/reverse-bot/internal/orchestrator"
	"github.com/devnight0507/reverse-bot/internal/store"
)

// MonitorStatus exposes the orchestrator's live state and run controls to
// the API.
type MonitorStatus interface {
	Status() orchestrator.Summary
	Start() error
	Stop() error
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store   store.Store
	webpush *webpush.Options
	monitor MonitorStatus
}

// NewHandler creates a new API handler. monitor may be nil when the bot
// runs in API-only mode.
func NewHandler(s store.Store, webpushOptions *webpush.Options, monitor MonitorStatus) *Handler {
	return &Handler{
		store:   s,
		webpush: webpushOptions,
		monitor: monitor,
	}
}
