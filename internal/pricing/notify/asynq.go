package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pricing/internal/pricing"
)

const (
	// TaskQuoteCalculated is the asynq task type carrying quote.calculated events.
	TaskQuoteCalculated = pricing.EventQuoteCalculated
	// QueueEvents is the queue quote events are delivered on.
	QueueEvents = "events"
)

// NewQuoteCalculatedTask encodes the event as an asynq task.
func NewQuoteCalculatedTask(evt pricing.QuoteCalculatedEvent) (*asynq.Task, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskQuoteCalculated, data), nil
}

// DecodeQuoteCalculated reads the event back from a task.
func DecodeQuoteCalculated(t *asynq.Task) (pricing.QuoteCalculatedEvent, error) {
	var evt pricing.QuoteCalculatedEvent
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return pricing.QuoteCalculatedEvent{}, fmt.Errorf("notify: decode %s: %w", t.Type(), err)
	}
	return evt, nil
}

// Enqueuer is satisfied by asynq.Client and jobs.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqPublisher delivers events through the asynq queue. The quote id is the
// task id, so republishing the same quote is a no-op.
type AsynqPublisher struct {
	client   Enqueuer
	maxRetry int
}

// NewAsynqPublisher constructs the publisher.
func NewAsynqPublisher(client Enqueuer) *AsynqPublisher {
	return &AsynqPublisher{client: client, maxRetry: 5}
}

var _ pricing.Notifier = (*AsynqPublisher)(nil)

// Publish implements pricing.Notifier.
func (p *AsynqPublisher) Publish(ctx context.Context, evt pricing.QuoteCalculatedEvent) error {
	task, err := NewQuoteCalculatedTask(evt)
	if err != nil {
		return err
	}
	_, err = p.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueEvents),
		asynq.TaskID(evt.QuoteID.String()),
		asynq.MaxRetry(p.maxRetry),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("notify: enqueue %s: %w", TaskQuoteCalculated, err)
	}
	return nil
}
