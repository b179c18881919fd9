package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/groupspend/groupspend/jobs"
)

type fakeClient struct {
	tasks []*asynq.Task
}

func (f *fakeClient) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (f *fakeClient) Close() error { return nil }

type fakeInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
	retry []*asynq.TaskInfo
	queue string
}

func (f *fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	if info, ok := f.infos[queue]; ok {
		return info, nil
	}
	return nil, asynq.ErrQueueNotFound
}

func (f *fakeInspector) ListRetryTasks(queue string, _ ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	f.queue = queue
	return f.retry, nil
}

func (f *fakeInspector) Close() error { return nil }

func TestTriggerWarmup(t *testing.T) {
	client := &fakeClient{}
	c := &JobsCLI{client: client}

	info, err := c.TriggerWarmup(context.Background(), 48*time.Hour)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskBalancesWarmup, info.Type)
	require.Len(t, client.tasks, 1)

	var payload jobs.BalancesWarmupPayload
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &payload))
	require.Equal(t, 48, payload.LookbackHours)
}

func TestInspectQueues(t *testing.T) {
	c := &JobsCLI{inspector: &fakeInspector{infos: map[string]*asynq.QueueInfo{
		jobs.QueueScans: {Queue: jobs.QueueScans, Pending: 2, Retry: 1, Archived: 3},
	}}}

	stats, err := c.InspectQueues()
	require.NoError(t, err)
	require.Equal(t, []QueueStats{
		{Queue: jobs.QueueScans, Pending: 2, Retry: 1, Archived: 3},
		{Queue: jobs.QueueDefault},
	}, stats)

	var buf bytes.Buffer
	require.NoError(t, WriteStats(&buf, stats))
	require.Contains(t, buf.String(), "QUEUE")
	require.Contains(t, buf.String(), "scans")

	c.inspector = &fakeInspector{err: errors.New("redis down")}
	_, err = c.InspectQueues()
	require.ErrorContains(t, err, "inspect scans")
}

func TestListRetryingUsesScanQueue(t *testing.T) {
	inspector := &fakeInspector{retry: []*asynq.TaskInfo{{ID: "a"}}}
	c := &JobsCLI{inspector: inspector}

	tasks, err := c.ListRetrying(0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, jobs.QueueScans, inspector.queue)
}

func TestUnconfiguredCLI(t *testing.T) {
	var c *JobsCLI
	_, err := c.TriggerWarmup(context.Background(), time.Hour)
	require.Error(t, err)
	_, err = c.InspectQueues()
	require.Error(t, err)
}

func TestNewJobsCLIRejectsBadAddress(t *testing.T) {
	_, err := NewJobsCLI("redis://cache/notadb")
	require.Error(t, err)
}
