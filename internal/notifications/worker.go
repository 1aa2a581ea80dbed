package notifications

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/multierr"

	jobmetrics "github.com/procurepro/procurepro/internal/jobs"
	"github.com/procurepro/procurepro/internal/shared"
	"github.com/procurepro/procurepro/jobs"
)

const defaultKeyRetention = 7 * 24 * time.Hour

// Claims records processed delivery keys.
type Claims interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// Sink stores delivered notifications.
type Sink interface {
	Insert(ctx context.Context, n Notification) error
}

// Worker performs queued deliveries. Every task key is claimed before the
// side effect runs and released again when it fails, so Asynq retries resend
// while duplicates of a completed delivery are dropped.
type Worker struct {
	mailer  Mailer
	sink    Sink
	claims  Claims
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewWorker builds the delivery handlers. metrics may be nil.
func NewWorker(mailer Mailer, sink Sink, claims Claims, metrics *jobmetrics.Metrics, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{mailer: mailer, sink: sink, claims: claims, metrics: metrics, logger: logger, now: time.Now}
}

// Handlers lists the task handlers to register with the Asynq worker.
func (w *Worker) Handlers() []jobs.TaskHandler {
	return []jobs.TaskHandler{
		{Type: jobs.TaskTypeSendEmail, Handler: w.HandleEmail},
		{Type: jobs.TaskTypeWebNotification, Handler: w.HandleWebNotification},
		{Type: jobs.TaskTypeIdempotencyCleanup, Handler: w.HandleCleanup},
	}
}

// HandleEmail sends the email and appends it to the delivery log.
func (w *Worker) HandleEmail(ctx context.Context, t *asynq.Task) error {
	tracker := w.metrics.Track(jobs.TaskTypeSendEmail)
	payload, err := jobs.DecodeSendEmail(t)
	if err != nil {
		return tracker.End(err)
	}
	return tracker.End(w.once(ctx, payload.Key, jobs.TaskTypeSendEmail, func(ctx context.Context) error {
		if err := w.mailer.Send(ctx, payload.To, payload.Subject, payload.Body); err != nil {
			return err
		}
		now := w.now().UTC()
		entry := Notification{
			ID:          IDForKey(payload.Key),
			Channel:     ChannelEmail,
			Recipient:   payload.To,
			Title:       payload.Subject,
			Message:     payload.Body,
			CreatedAt:   now,
			DeliveredAt: &now,
		}
		// The mail is out; a failed log write must not trigger a resend.
		if err := w.sink.Insert(ctx, entry); err != nil {
			w.logger.Warn("email delivery log", slog.String("key", payload.Key), slog.Any("error", err))
		}
		return nil
	}))
}

// HandleWebNotification stores the notification in the user's inbox.
func (w *Worker) HandleWebNotification(ctx context.Context, t *asynq.Task) error {
	tracker := w.metrics.Track(jobs.TaskTypeWebNotification)
	payload, err := jobs.DecodeWebNotification(t)
	if err != nil {
		return tracker.End(err)
	}
	return tracker.End(w.once(ctx, payload.Key, jobs.TaskTypeWebNotification, func(ctx context.Context) error {
		now := w.now().UTC()
		return w.sink.Insert(ctx, Notification{
			ID:          IDForKey(payload.Key),
			UserID:      payload.UserID,
			Channel:     ChannelWeb,
			Title:       payload.Title,
			Message:     payload.Message,
			CreatedAt:   now,
			DeliveredAt: &now,
		})
	}))
}

// HandleCleanup prunes delivery keys older than the payload's retention.
func (w *Worker) HandleCleanup(ctx context.Context, t *asynq.Task) error {
	tracker := w.metrics.Track(jobs.TaskTypeIdempotencyCleanup)
	payload, err := jobs.DecodeIdempotencyCleanup(t)
	if err != nil {
		return tracker.End(err)
	}
	retention := payload.Retention
	if retention <= 0 {
		retention = defaultKeyRetention
	}
	return tracker.End(w.claims.Cleanup(ctx, retention))
}

func (w *Worker) once(ctx context.Context, key, module string, deliver func(context.Context) error) error {
	if err := w.claims.CheckAndInsert(ctx, key, module); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			w.metrics.Duplicate(module)
			w.logger.Debug("duplicate delivery skipped", slog.String("type", module), slog.String("key", key))
			return nil
		}
		return err
	}
	if err := deliver(ctx); err != nil {
		if releaseErr := w.claims.Delete(context.WithoutCancel(ctx), key); releaseErr != nil {
			err = multierr.Append(err, releaseErr)
		}
		return err
	}
	return nil
}
