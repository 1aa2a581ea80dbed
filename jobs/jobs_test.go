package jobs

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

func TestSendEmailTaskRoundTrip(t *testing.T) {
	task, err := NewSendEmailTask(SendEmailPayload{Key: "k1", To: "a@example.com", Subject: "Hi", Body: "Body"})
	require.NoError(t, err)
	require.Equal(t, TaskTypeSendEmail, task.Type())

	payload, err := DecodeSendEmail(task)
	require.NoError(t, err)
	require.Equal(t, "a@example.com", payload.To)
	require.Equal(t, "k1", payload.Key)
}

func TestTaskConstructorsRejectIncompletePayloads(t *testing.T) {
	_, err := NewSendEmailTask(SendEmailPayload{To: "a@example.com"})
	require.ErrorIs(t, err, ErrInvalidPayload)
	_, err = NewWebNotificationTask(WebNotificationPayload{Key: "k"})
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDecodeSkipsRetryOnGarbage(t *testing.T) {
	_, err := DecodeWebNotification(asynq.NewTask(TaskTypeWebNotification, []byte("{")))
	require.ErrorIs(t, err, ErrInvalidPayload)
	require.ErrorIs(t, err, asynq.SkipRetry)

	_, err = DecodeSendEmail(asynq.NewTask(TaskTypeSendEmail, []byte(`{"key":"k"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type fakeInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	info, ok := f.infos[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func serveHealth(t *testing.T, inspector QueueInspector) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(inspector, slog.New(slog.NewTextHandler(io.Discard, nil))).MountRoutes)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	return rr
}

func TestHealthReportsQueues(t *testing.T) {
	rr := serveHealth(t, fakeInspector{infos: map[string]*asynq.QueueInfo{
		QueueNotifications: {Queue: QueueNotifications, Pending: 4, Retry: 1},
	}})
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Queues []queueHealth `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, []queueHealth{
		{Queue: QueueNotifications, Pending: 4, Retry: 1},
		{Queue: QueueDefault},
	}, body.Queues)
}

func TestHealthUnavailable(t *testing.T) {
	rr := serveHealth(t, fakeInspector{err: errors.New("redis down")})
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
