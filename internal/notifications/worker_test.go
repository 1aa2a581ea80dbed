package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/procurepro/procurepro/internal/jobs"
	"github.com/procurepro/procurepro/internal/shared"
	"github.com/procurepro/procurepro/jobs"
)

type fakeMailer struct {
	sent []string
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to, _, _ string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, to)
	return nil
}

type memorySink struct {
	rows map[string]Notification
	err  error
}

func (s *memorySink) Insert(_ context.Context, n Notification) error {
	if s.err != nil {
		return s.err
	}
	if s.rows == nil {
		s.rows = make(map[string]Notification)
	}
	s.rows[n.ID.String()] = n
	return nil
}

type memoryClaims struct {
	mu       sync.Mutex
	keys     map[string]string
	cleanups []time.Duration
}

func (c *memoryClaims) CheckAndInsert(_ context.Context, key, module string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys == nil {
		c.keys = make(map[string]string)
	}
	if _, ok := c.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	c.keys[key] = module
	return nil
}

func (c *memoryClaims) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, key)
	return nil
}

func (c *memoryClaims) Cleanup(_ context.Context, olderThan time.Duration) error {
	c.cleanups = append(c.cleanups, olderThan)
	return nil
}

func newTestWorker(mailer *fakeMailer, sink *memorySink, claims *memoryClaims) *Worker {
	w := NewWorker(mailer, sink, claims, jobmetrics.NewMetrics(prometheus.NewRegistry()), discardLogger())
	w.now = func() time.Time { return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) }
	return w
}

func emailTask(t *testing.T, key string) *asynq.Task {
	t.Helper()
	task, err := jobs.NewSendEmailTask(jobs.SendEmailPayload{Key: key, To: "bids@v1.example.com", Subject: "RFQ", Body: "Please quote"})
	require.NoError(t, err)
	return task
}

func TestHandleEmailDeliversOnce(t *testing.T) {
	mailer, sink, claims := &fakeMailer{}, &memorySink{}, &memoryClaims{}
	w := newTestWorker(mailer, sink, claims)
	task := emailTask(t, "key-1")

	require.NoError(t, w.HandleEmail(context.Background(), task))
	require.NoError(t, w.HandleEmail(context.Background(), task))

	require.Equal(t, []string{"bids@v1.example.com"}, mailer.sent)
	logged := sink.rows[IDForKey("key-1").String()]
	require.Equal(t, ChannelEmail, logged.Channel)
	require.Equal(t, "bids@v1.example.com", logged.Recipient)
	require.NotNil(t, logged.DeliveredAt)
}

func TestHandleEmailReleasesKeyOnFailure(t *testing.T) {
	boom := errors.New("smtp refused")
	mailer, claims := &fakeMailer{err: boom}, &memoryClaims{}
	w := newTestWorker(mailer, &memorySink{}, claims)
	task := emailTask(t, "key-2")

	require.ErrorIs(t, w.HandleEmail(context.Background(), task), boom)
	require.NotContains(t, claims.keys, "key-2")

	mailer.err = nil
	require.NoError(t, w.HandleEmail(context.Background(), task))
	require.Len(t, mailer.sent, 1)
}

func TestHandleEmailIgnoresLogFailure(t *testing.T) {
	mailer := &fakeMailer{}
	w := newTestWorker(mailer, &memorySink{err: errors.New("db down")}, &memoryClaims{})

	require.NoError(t, w.HandleEmail(context.Background(), emailTask(t, "key-3")))
	require.Len(t, mailer.sent, 1)
}

func TestHandleWebNotification(t *testing.T) {
	sink, claims := &memorySink{}, &memoryClaims{}
	w := newTestWorker(&fakeMailer{}, sink, claims)
	task, err := jobs.NewWebNotificationTask(jobs.WebNotificationPayload{Key: "web-1", UserID: "approver-a", Title: "Approval required", Message: "PR-1"})
	require.NoError(t, err)

	require.NoError(t, w.HandleWebNotification(context.Background(), task))
	row := sink.rows[IDForKey("web-1").String()]
	require.Equal(t, "approver-a", row.UserID)
	require.Equal(t, ChannelWeb, row.Channel)
	require.Nil(t, row.ReadAt)

	sink.err = errors.New("db down")
	again, err := jobs.NewWebNotificationTask(jobs.WebNotificationPayload{Key: "web-2", UserID: "approver-a", Title: "t"})
	require.NoError(t, err)
	require.Error(t, w.HandleWebNotification(context.Background(), again))
	require.NotContains(t, claims.keys, "web-2")
}

func TestHandleMalformedTaskSkipsRetry(t *testing.T) {
	w := newTestWorker(&fakeMailer{}, &memorySink{}, &memoryClaims{})
	err := w.HandleEmail(context.Background(), asynq.NewTask(jobs.TaskTypeSendEmail, []byte("not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleCleanupDefaultsRetention(t *testing.T) {
	claims := &memoryClaims{}
	w := newTestWorker(&fakeMailer{}, &memorySink{}, claims)

	task, err := jobs.NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, w.HandleCleanup(context.Background(), task))
	task, err = jobs.NewIdempotencyCleanupTask(time.Hour)
	require.NoError(t, err)
	require.NoError(t, w.HandleCleanup(context.Background(), task))

	require.Equal(t, []time.Duration{defaultKeyRetention, time.Hour}, claims.cleanups)
	require.Len(t, w.Handlers(), 3)
}

func TestIDForKeyIsStable(t *testing.T) {
	require.Equal(t, IDForKey("abc"), IDForKey("abc"))
	require.NotEqual(t, IDForKey("abc"), IDForKey("abd"))
}

func TestBuildMessageHeaders(t *testing.T) {
	msg := buildMessage("no-reply@procurepro.local", "a@example.com", "Hello", "Body")
	require.Equal(t, []string{"a@example.com"}, msg.GetHeader("To"))
	require.Equal(t, []string{"Hello"}, msg.GetHeader("Subject"))
}
