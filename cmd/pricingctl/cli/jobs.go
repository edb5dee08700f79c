// Package cli holds the operator commands of pricingctl.
package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pricing/jobs"
)

// Enqueuer submits tasks to asynq.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Inspector reads queue state. *asynq.Inspector satisfies it.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
}

// JobsCLI wraps manual management helpers for the pricing queues.
type JobsCLI struct {
	client    Enqueuer
	inspector Inspector
}

// NewJobsCLI wires the helpers to an enqueuer and an inspector.
func NewJobsCLI(client Enqueuer, inspector Inspector) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector}
}

// TriggerSweep enqueues a quote sweep with the given grace period.
func (c *JobsCLI) TriggerSweep(ctx context.Context, grace time.Duration) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := jobs.NewQuoteSweepTask(jobs.QuoteSweepPayload{Grace: grace})
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
	Paused    bool   `json:"paused"`
}

// InspectQueues reports the state of every worker queue, events first.
func (c *JobsCLI) InspectQueues(ctx context.Context) ([]QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	var out []QueueStats
	for _, queue := range []string{jobs.QueueEvents, jobs.QueueDefault} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := c.inspector.GetQueueInfo(queue)
		if err != nil {
			return nil, fmt.Errorf("jobs cli: queue %s: %w", queue, err)
		}
		stats := QueueStats{Queue: queue}
		if info != nil {
			stats.Pending = info.Pending
			stats.Active = info.Active
			stats.Scheduled = info.Scheduled
			stats.Retry = info.Retry
			stats.Archived = info.Archived
			stats.Paused = info.Paused
		}
		out = append(out, stats)
	}
	return out, nil
}

// ListScheduled returns scheduled sweep tasks on the default queue.
func (c *JobsCLI) ListScheduled(_ context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}
