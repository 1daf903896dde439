// Package notification delivers created notifications to the recipients'
// browsers over Web Push.
package notification

import (
	"context"
	"net/http"
	"sync"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/TALOGEN777/cleanroom-flow-notify/config"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/metrics"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/model"
)

// PushTitle is the title shown on every push notification.
const PushTitle = "Cleanroom Ready"

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Payload is the JSON body delivered to the service worker.
type Payload struct {
	Title          string                 `json:"title"`
	Body           string                 `json:"body"`
	RoomID         string                 `json:"room_id"`
	NotificationID string                 `json:"notification_id"`
	Type           model.NotificationType `json:"type"`
}

// Options builds the webpush options from the push configuration.
func Options(cfg config.PushConfig) *webpush.Options {
	return &webpush.Options{
		Subscriber:      cfg.Subject,
		VAPIDPublicKey:  cfg.PublicKey,
		VAPIDPrivateKey: cfg.PrivateKey,
		TTL:             cfg.TTL,
	}
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size    int
	jobs    chan model.Notification
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan model.Notification, size*64),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
	}
}

// Serve runs the workers until ctx is done.
func (wp *WorkerPool) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < wp.size; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			wp.worker(ctx, id)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (wp *WorkerPool) String() string {
	return "push-worker-pool"
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Debug().Int("worker", id).Msg("push worker started")
	for {
		select {
		case n := <-wp.jobs:
			wp.sendNotificationsFor(ctx, n)
		case <-ctx.Done():
			log.Debug().Int("worker", id).Msg("push worker shutting down")
			return
		}
	}
}

// Dispatch queues a notification for delivery. When the queue is full the
// push is dropped; the notification itself is already stored.
func (wp *WorkerPool) Dispatch(n model.Notification) {
	select {
	case wp.jobs <- n:
	default:
		log.Warn().Str("notification_id", n.ID).Msg("push queue full, dropping push")
		metrics.RecordPush("dropped")
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan model.Notification {
	return wp.jobs
}

// sendNotificationsFor pushes n to every subscription of its recipient.
func (wp *WorkerPool) sendNotificationsFor(ctx context.Context, n model.Notification) {
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Where("user_id = ?", n.RecipientID).
		Find(&subscriptions).Error
	if err != nil {
		log.Error().Err(err).Str("recipient_id", n.RecipientID).Msg("failed to fetch push subscriptions")
		metrics.RecordPush("error")
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(Payload{
		Title:          PushTitle,
		Body:           n.Message,
		RoomID:         n.RoomID,
		NotificationID: n.ID,
		Type:           n.NotificationType,
	})
	if err != nil {
		log.Error().Err(err).Str("notification_id", n.ID).Msg("failed to encode push payload")
		return
	}

	log.Debug().Int("subscriptions", len(subscriptions)).Str("recipient_id", n.RecipientID).Msg("sending push notifications")
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
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
		log.Warn().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to send push notification")
		metrics.RecordPush("error")
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		log.Info().Str("endpoint", sub.Endpoint).Msg("push subscription expired, deleting")
		metrics.RecordPush("expired")
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to delete expired subscription")
		}
	case resp.StatusCode >= 300:
		log.Warn().Int("status", resp.StatusCode).Str("endpoint", sub.Endpoint).Msg("push service rejected notification")
		metrics.RecordPush("error")
	default:
		metrics.RecordPush("sent")
	}
}
