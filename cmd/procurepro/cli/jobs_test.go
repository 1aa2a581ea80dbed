package cli

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/procurepro/procurepro/jobs"
)

type recordingClient struct {
	tasks  []*asynq.Task
	closed bool
}

func (c *recordingClient) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	c.tasks = append(c.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (c *recordingClient) Close() error {
	c.closed = true
	return nil
}

type queueInfos map[string]*asynq.QueueInfo

func (q queueInfos) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	info, ok := q[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	if info == nil {
		return nil, errors.New("redis timeout")
	}
	return info, nil
}

func (queueInfos) Close() error { return nil }

func TestTriggerCleanup(t *testing.T) {
	client := &recordingClient{}
	c := &JobsCLI{client: client, retention: 48 * time.Hour}

	info, err := c.Trigger(context.Background(), jobs.TaskTypeIdempotencyCleanup)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskTypeIdempotencyCleanup, info.Type)
	require.Len(t, client.tasks, 1)

	payload, err := jobs.DecodeIdempotencyCleanup(client.tasks[0])
	require.NoError(t, err)
	require.Equal(t, 48*time.Hour, payload.Retention)

	_, err = c.Trigger(context.Background(), "report:nightly")
	require.Error(t, err)

	require.NoError(t, c.Close())
	require.True(t, client.closed)
}

func TestInspectQueues(t *testing.T) {
	c := &JobsCLI{inspector: queueInfos{
		jobs.QueueNotifications: {Queue: jobs.QueueNotifications, Pending: 4, Retry: 1},
	}}
	stats, err := c.InspectQueues()
	require.NoError(t, err)
	require.Equal(t, []QueueStats{
		{Queue: jobs.QueueNotifications, Pending: 4, Retry: 1},
		{Queue: jobs.QueueDefault},
	}, stats)

	c.inspector = queueInfos{jobs.QueueNotifications: nil}
	_, err = c.InspectQueues()
	require.Error(t, err)
}

func TestJobsCLIRequiresConfiguration(t *testing.T) {
	_, err := NewJobsCLI(asynq.RedisClientOpt{}, time.Hour)
	require.Error(t, err)

	var empty *JobsCLI
	_, err = empty.Trigger(context.Background(), jobs.TaskTypeIdempotencyCleanup)
	require.Error(t, err)
}
