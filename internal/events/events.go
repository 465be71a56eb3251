package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/devnight0507/reverse-bot/internal/logger"
	"github.com/devnight0507/reverse-bot/internal/model"
	"github.com/devnight0507/reverse-bot/internal/store"
)

// Kind enumerates the lifecycle transitions the core reports.
type Kind string

const (
	KindSessionEstablished Kind = "SessionEstablished"
	KindPollerDegraded     Kind = "PollerDegraded"
	KindBookingCommitted   Kind = "BookingCommitted"
	KindBookingFailed      Kind = "BookingFailed"
)

// Event is an immutable record of a state transition.
type Event struct {
	ApplicantID uint
	Kind        Kind
	At          time.Time
	Detail      map[string]string
}

// Sink receives lifecycle events. Publish is fire-and-forget: sinks must
// never block the automation core or propagate their failures into it.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

// Fanout delivers each event to every sink in order.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, ev Event) {
	for _, s := range f {
		s.Publish(ctx, ev)
	}
}

// storeSink persists events as append-only records.
type storeSink struct {
	store store.Store
	log   logger.Logger
}

// NewStoreSink returns a Sink that appends events to the store. Write
// errors are logged, not surfaced; history loss is preferable to stalling
// a booking in flight.
func NewStoreSink(s store.Store, log logger.Logger) Sink {
	return &storeSink{store: s, log: log}
}

func (s *storeSink) Publish(ctx context.Context, ev Event) {
	detail, err := json.Marshal(ev.Detail)
	if err != nil {
		detail = []byte("{}")
	}
	rec := &model.EventRecord{
		ApplicantID: ev.ApplicantID,
		Kind:        string(ev.Kind),
		Detail:      string(detail),
		CreatedAt:   ev.At,
	}
	if err := s.store.AppendEvent(ctx, rec); err != nil {
		s.log.Error("failed to append event",
			logger.Uint("applicant_id", ev.ApplicantID),
			logger.String("kind", string(ev.Kind)),
			logger.Error(err))
	}
}
