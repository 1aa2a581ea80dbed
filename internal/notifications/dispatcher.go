// Package notifications turns workflow notifications into queued deliveries
// and performs those deliveries in the worker.
package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/procurepro/procurepro/internal/observability"
	"github.com/procurepro/procurepro/jobs"
)

// Delivery channels.
const (
	ChannelEmail = "email"
	ChannelWeb   = "web"
)

// Enqueuer hands tasks to the queue.
type Enqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload jobs.SendEmailPayload) error
	EnqueueWebNotification(ctx context.Context, payload jobs.WebNotificationPayload) error
}

// Recorder counts notification hand-offs.
type Recorder interface {
	RecordNotification(channel, outcome string)
}

// Dispatcher implements the procurement notifier by enqueuing one task per
// message. Delivery happens later in the worker.
type Dispatcher struct {
	queue   Enqueuer
	metrics Recorder
	logger  *slog.Logger
	newKey  func() string
}

// NewDispatcher builds a Dispatcher. metrics may be nil.
func NewDispatcher(queue Enqueuer, metrics Recorder, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{queue: queue, metrics: metrics, logger: logger, newKey: uuid.NewString}
}

// SendEmail enqueues an email to a single address.
func (d *Dispatcher) SendEmail(ctx context.Context, to, subject, body string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return fmt.Errorf("notifications: email recipient required")
	}
	err := d.queue.EnqueueSendEmail(ctx, jobs.SendEmailPayload{
		Key:     d.newKey(),
		To:      to,
		Subject: subject,
		Body:    body,
	})
	d.record(ChannelEmail, err)
	if err != nil {
		return fmt.Errorf("notifications: enqueue email to %s: %w", to, err)
	}
	return nil
}

// SendWebNotification enqueues an in-app notification for a user.
func (d *Dispatcher) SendWebNotification(ctx context.Context, userID, title, message string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("notifications: user id required")
	}
	err := d.queue.EnqueueWebNotification(ctx, jobs.WebNotificationPayload{
		Key:     d.newKey(),
		UserID:  userID,
		Title:   title,
		Message: message,
	})
	d.record(ChannelWeb, err)
	if err != nil {
		return fmt.Errorf("notifications: enqueue web notification for %s: %w", userID, err)
	}
	return nil
}

func (d *Dispatcher) record(channel string, err error) {
	outcome := observability.OutcomeEnqueued
	if err != nil {
		outcome = observability.OutcomeFailed
		d.logger.Debug("notification enqueue failed", slog.String("channel", channel), slog.Any("error", err))
	}
	if d.metrics != nil {
		d.metrics.RecordNotification(channel, outcome)
	}
}
