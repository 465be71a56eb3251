package notification

import (
	"context"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"github.com/devnight0507/reverse-bot/internal/events"
	"github.com/devnight0507/reverse-bot/internal/logger"
	"github.com/devnight0507/reverse-bot/internal/model"
)

// PushSender defines the interface for sending a web push notification.
type PushSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of PushSender using the webpush
// library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool fans booking lifecycle events out to the notification
// channels: web push to every stored subscription, plus Telegram when
// configured. It implements events.Sink; Publish never blocks the
// automation core, a full queue drops the event with a warning.
type WorkerPool struct {
	size     int
	jobs     chan events.Event
	db       *gorm.DB
	webpush  *webpush.Options
	sender   PushSender
	telegram TelegramSender
	log      logger.Logger
}

// NewWorkerPool creates a new worker pool. telegram may be nil.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options, telegram TelegramSender, log logger.Logger) *WorkerPool {
	return &WorkerPool{
		size:     size,
		jobs:     make(chan events.Event, size*4),
		db:       db,
		webpush:  webpushOptions,
		sender:   &WebPushSender{},
		telegram: telegram,
		log:      log,
	}
}

// SetSender replaces the push sender, for tests.
func (wp *WorkerPool) SetSender(s PushSender) { wp.sender = s }

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// Publish queues an event for delivery. Non-blocking.
func (wp *WorkerPool) Publish(ctx context.Context, ev events.Event) {
	select {
	case wp.jobs <- ev:
	default:
		wp.log.Warn("notification queue full, dropping event",
			logger.Uint("applicant_id", ev.ApplicantID),
			logger.String("kind", string(ev.Kind)))
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug("notification worker started", logger.Int("worker", id))
	for {
		select {
		case ev := <-wp.jobs:
			wp.deliver(ctx, ev)
		case <-ctx.Done():
			wp.log.Debug("notification worker shutting down", logger.Int("worker", id))
			return
		}
	}
}

func (wp *WorkerPool) deliver(ctx context.Context, ev events.Event) {
	message := formatMessage(ev)
	if message == "" {
		return
	}

	wp.sendWebPush(ctx, ev, message)

	if wp.telegram != nil {
		if err := wp.telegram.SendMessage(ctx, message); err != nil {
			wp.log.Error("telegram delivery failed",
				logger.Uint("applicant_id", ev.ApplicantID),
				logger.Error(err))
		}
	}
}

func (wp *WorkerPool) sendWebPush(ctx context.Context, ev events.Event, message string) {
	var subscriptions []model.PushSubscription
	if err := wp.db.WithContext(ctx).Find(&subscriptions).Error; err != nil {
		wp.log.Error("fetching push subscriptions failed", logger.Error(err))
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	wp.log.Info("sending push notifications",
		logger.Int("subscriptions", len(subscriptions)),
		logger.String("kind", string(ev.Kind)))

	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, []byte(message))
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.Error("sending push notification failed",
			logger.String("endpoint", sub.Endpoint),
			logger.Error(err))
		return
	}
	defer resp.Body.Close()

	// Expired subscription, remove it.
	if resp.StatusCode == http.StatusGone {
		wp.log.Info("push subscription expired, deleting",
			logger.String("endpoint", sub.Endpoint))
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			wp.log.Error("deleting expired subscription failed",
				logger.String("endpoint", sub.Endpoint),
				logger.Error(err))
		}
	}
}

// formatMessage renders the operator-facing text for an event. Kinds with
// no operator value return empty and are skipped.
func formatMessage(ev events.Event) string {
	switch ev.Kind {
	case events.KindBookingCommitted:
		code := ev.Detail["confirmation_code"]
		if code == "" {
			code = "(no code issued)"
		}
		return fmt.Sprintf("Appointment booked for applicant %d: %s %s, confirmation %s",
			ev.ApplicantID, ev.Detail["slot_date"], ev.Detail["slot_time"], code)
	case events.KindBookingFailed:
		return fmt.Sprintf("Booking failed for applicant %d (%s): %s",
			ev.ApplicantID, ev.Detail["reason"], ev.Detail["error"])
	case events.KindPollerDegraded:
		return fmt.Sprintf("Monitoring degraded for applicant %d: repeated %s errors",
			ev.ApplicantID, ev.Detail["error_kind"])
	case events.KindSessionEstablished:
		// Routine, log-only.
		return ""
	default:
		return ""
	}
}
