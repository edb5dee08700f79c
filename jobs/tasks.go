package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pricing/internal/pricing/notify"
)

const (
	// QueueDefault is the queue for maintenance tasks.
	QueueDefault = "default"
	// QueueEvents carries quote.calculated events.
	QueueEvents = notify.QueueEvents
	// TaskQuoteCalculated is consumed into the audit trail.
	TaskQuoteCalculated = notify.TaskQuoteCalculated
	// TaskQuoteSweep deletes expired quotes.
	TaskQuoteSweep = "pricing:quotes:sweep"
)

// QuoteSweepPayload configures one sweep run.
type QuoteSweepPayload struct {
	// Grace keeps quotes for this long after they expire.
	Grace time.Duration `json:"grace"`
}

// NewQuoteSweepTask constructs the sweep task.
func NewQuoteSweepTask(payload QuoteSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskQuoteSweep, data), nil
}
