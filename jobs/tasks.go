package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueNotifications carries email and web notification deliveries.
	QueueNotifications = "notifications"

	// TaskTypeSendEmail delivers one transactional email.
	TaskTypeSendEmail = "notification:email"
	// TaskTypeWebNotification stores one in-app notification.
	TaskTypeWebNotification = "notification:web"
	// TaskTypeIdempotencyCleanup prunes old delivery keys.
	TaskTypeIdempotencyCleanup = "maintenance:idempotency_cleanup"

	notificationMaxRetry = 8
)

// ErrInvalidPayload marks a task whose payload can never be processed.
var ErrInvalidPayload = errors.New("jobs: invalid payload")

// SendEmailPayload describes the information required to send an email.
// Key deduplicates redelivered tasks.
type SendEmailPayload struct {
	Key     string `json:"key"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// WebNotificationPayload describes an in-app notification for a user.
type WebNotificationPayload struct {
	Key     string `json:"key"`
	UserID  string `json:"user_id"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// IdempotencyCleanupPayload configures the key retention window.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	if payload.Key == "" || payload.To == "" {
		return nil, fmt.Errorf("%w: email key and recipient are required", ErrInvalidPayload)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data,
		asynq.Queue(QueueNotifications), asynq.MaxRetry(notificationMaxRetry)), nil
}

// NewWebNotificationTask constructs an Asynq task.
func NewWebNotificationTask(payload WebNotificationPayload) (*asynq.Task, error) {
	if payload.Key == "" || payload.UserID == "" {
		return nil, fmt.Errorf("%w: notification key and user are required", ErrInvalidPayload)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeWebNotification, data,
		asynq.Queue(QueueNotifications), asynq.MaxRetry(notificationMaxRetry)), nil
}

// NewIdempotencyCleanupTask builds the periodic cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// DecodeSendEmail parses a TaskTypeSendEmail payload.
func DecodeSendEmail(t *asynq.Task) (SendEmailPayload, error) {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("%w: %v: %w", ErrInvalidPayload, err, asynq.SkipRetry)
	}
	if payload.Key == "" || payload.To == "" {
		return payload, fmt.Errorf("%w: missing key or recipient: %w", ErrInvalidPayload, asynq.SkipRetry)
	}
	return payload, nil
}

// DecodeWebNotification parses a TaskTypeWebNotification payload.
func DecodeWebNotification(t *asynq.Task) (WebNotificationPayload, error) {
	var payload WebNotificationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("%w: %v: %w", ErrInvalidPayload, err, asynq.SkipRetry)
	}
	if payload.Key == "" || payload.UserID == "" {
		return payload, fmt.Errorf("%w: missing key or user: %w", ErrInvalidPayload, asynq.SkipRetry)
	}
	return payload, nil
}

// DecodeIdempotencyCleanup parses a TaskTypeIdempotencyCleanup payload.
func DecodeIdempotencyCleanup(t *asynq.Task) (IdempotencyCleanupPayload, error) {
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("%w: %v: %w", ErrInvalidPayload, err, asynq.SkipRetry)
	}
	return payload, nil
}
