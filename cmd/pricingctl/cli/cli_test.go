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

	"github.com/odyssey-erp/odyssey-pricing/jobs"
)

type stubEnqueuer struct {
	tasks []*asynq.Task
}

func (s *stubEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

type stubInspector struct {
	queues    map[string]*asynq.QueueInfo
	scheduled []*asynq.TaskInfo
	err       error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.queues[queue], nil
}

func (s stubInspector) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return s.scheduled, s.err
}

func TestTriggerSweep(t *testing.T) {
	enq := &stubEnqueuer{}
	info, err := NewJobsCLI(enq, nil).TriggerSweep(context.Background(), 2*time.Hour)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskQuoteSweep, info.Type)
	require.Len(t, enq.tasks, 1)

	var payload jobs.QuoteSweepPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, 2*time.Hour, payload.Grace)

	_, err = NewJobsCLI(nil, nil).TriggerSweep(context.Background(), 0)
	require.Error(t, err)
}

func TestInspectQueuesRendersTableAndJSON(t *testing.T) {
	insp := stubInspector{queues: map[string]*asynq.QueueInfo{
		jobs.QueueEvents:  {Queue: jobs.QueueEvents, Pending: 4, Retry: 1},
		jobs.QueueDefault: {Queue: jobs.QueueDefault, Scheduled: 2, Paused: true},
	}}
	stats, err := NewJobsCLI(nil, insp).InspectQueues(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 2)
	require.Equal(t, jobs.QueueEvents, stats[0].Queue)
	require.Equal(t, 4, stats[0].Pending)
	require.True(t, stats[1].Paused)

	var table bytes.Buffer
	require.NoError(t, RenderQueues(&table, stats, false))
	require.Contains(t, table.String(), "QUEUE")
	require.Contains(t, table.String(), jobs.QueueEvents)

	var raw bytes.Buffer
	require.NoError(t, RenderQueues(&raw, stats, true))
	var decoded []QueueStats
	require.NoError(t, json.Unmarshal(raw.Bytes(), &decoded))
	require.Equal(t, stats, decoded)
}

func TestInspectQueuesPropagatesErrors(t *testing.T) {
	_, err := NewJobsCLI(nil, stubInspector{err: errors.New("redis down")}).InspectQueues(context.Background())
	require.ErrorContains(t, err, "redis down")
}

func TestListScheduled(t *testing.T) {
	next := time.Date(2026, time.May, 1, 0, 15, 0, 0, time.UTC)
	insp := stubInspector{scheduled: []*asynq.TaskInfo{{ID: "a", Type: jobs.TaskQuoteSweep, Queue: jobs.QueueDefault, NextProcessAt: next}}}
	tasks, err := NewJobsCLI(nil, insp).ListScheduled(context.Background(), 0)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, RenderTasks(&out, tasks))
	require.Contains(t, out.String(), "2026-05-01T00:15:00Z")

	out.Reset()
	require.NoError(t, RenderTasks(&out, nil))
	require.Equal(t, "no scheduled tasks\n", out.String())
}

type stubBumper struct{ version int64 }

func (s *stubBumper) Bump(context.Context) (int64, error) {
	s.version++
	return s.version, nil
}

func TestRulesInvalidate(t *testing.T) {
	b := &stubBumper{version: 6}
	v, err := NewRulesCLI(b).Invalidate(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 7, v)

	_, err = NewRulesCLI(nil).Invalidate(context.Background())
	require.Error(t, err)
}
