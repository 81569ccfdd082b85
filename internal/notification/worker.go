package notification

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"bus-tracking-backend/internal/model"
)

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

// SubscriptionStore is the part of the store the workers need.
type SubscriptionStore interface {
	SubscriptionsForUsers(ctx context.Context, userIDs []int64) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// Push is one persisted notification waiting to be delivered to its users' devices.
type Push struct {
	NotificationID int64
	Kind           model.EventKind
	Title          string
	Body           string
	UserIDs        []int64
}

type payload struct {
	NotificationID int64  `json:"notification_id"`
	Kind           string `json:"kind"`
	Title          string `json:"title"`
	Body           string `json:"body"`
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size    int
	jobs    chan Push
	subs    SubscriptionStore
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool with a bounded queue.
func NewWorkerPool(size, queueSize int, subs SubscriptionStore, webpushOptions *webpush.Options) *WorkerPool {
	if queueSize < size {
		queueSize = size
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Push, queueSize),
		subs:    subs,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Worker %d started", id)
	for {
		select {
		case job := <-wp.jobs:
			wp.deliver(ctx, job)
		case <-ctx.Done():
			log.Printf("Worker %d shutting down", id)
			return
		}
	}
}

// Enqueue hands a push to the workers without blocking. It reports false when
// the queue is full and the push was dropped.
func (wp *WorkerPool) Enqueue(p Push) bool {
	select {
	case wp.jobs <- p:
		return true
	default:
		return false
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Push {
	return wp.jobs
}

// deliver fetches the users' subscriptions and pushes the notification to each.
func (wp *WorkerPool) deliver(ctx context.Context, job Push) {
	if len(job.UserIDs) == 0 {
		return
	}
	subscriptions, err := wp.subs.SubscriptionsForUsers(ctx, job.UserIDs)
	if err != nil {
		log.Printf("Error fetching subscriptions for notification %d: %v", job.NotificationID, err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	body, err := json.Marshal(payload{
		NotificationID: job.NotificationID,
		Kind:           string(job.Kind),
		Title:          job.Title,
		Body:           job.Body,
	})
	if err != nil {
		log.Printf("Error encoding notification %d: %v", job.NotificationID, err)
		return
	}

	log.Printf("Sending notification %d to %d devices", job.NotificationID, len(subscriptions))
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, body)
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
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Expired or unsubscribed endpoints are pruned.
	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.subs.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
