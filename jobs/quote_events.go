package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pricing/internal/audit"
	jobmetrics "github.com/odyssey-erp/odyssey-pricing/internal/jobs"
	"github.com/odyssey-erp/odyssey-pricing/internal/pricing"
	"github.com/odyssey-erp/odyssey-pricing/internal/pricing/notify"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// AuditActor is recorded as the actor of worker-written audit entries.
const AuditActor = "pricing-worker"

// Event transports reported in metrics and audit metadata.
const (
	TransportAsynq = "asynq"
	TransportRedis = "redis"
)

var errMalformedEvent = errors.New("quote events: event requires tenant_id and quote_id")

// QuoteEventsJob writes quote.calculated events into the audit trail.
type QuoteEventsJob struct {
	Audit   audit.Recorder
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewQuoteEventsJob wires dependencies for the event consumer.
func NewQuoteEventsJob(recorder audit.Recorder, logger *slog.Logger, metrics *jobmetrics.Metrics) *QuoteEventsJob {
	return &QuoteEventsJob{
		Audit:   recorder,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes asynq quote.calculated tasks.
func (j *QuoteEventsJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("quote events: handler not configured")
	}
	evt, err := notify.DecodeQuoteCalculated(t)
	if err != nil {
		j.logger().Warn("drop malformed quote event", slog.Any("error", err))
		return asynq.SkipRetry
	}
	err = j.record(ctx, evt, TransportAsynq)
	if errors.Is(err, errMalformedEvent) {
		return asynq.SkipRetry
	}
	return err
}

// HandleEvent processes events received over Redis pub/sub.
func (j *QuoteEventsJob) HandleEvent(ctx context.Context, evt pricing.QuoteCalculatedEvent) error {
	if j == nil {
		return errors.New("quote events: handler not configured")
	}
	return j.record(ctx, evt, TransportRedis)
}

func (j *QuoteEventsJob) record(ctx context.Context, evt pricing.QuoteCalculatedEvent, transport string) (resultErr error) {
	tracker := j.metrics().Track(TaskQuoteCalculated)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if evt.TenantID == "" || evt.QuoteID == uuid.Nil {
		return errMalformedEvent
	}
	at := evt.OccurredAt
	if at.IsZero() {
		at = j.now()
	}
	entry := audit.Entry{
		TenantID: evt.TenantID,
		Actor:    AuditActor,
		Action:   audit.ActionQuoteCalculated,
		Entity:   audit.EntityQuote,
		EntityID: evt.QuoteID.String(),
		Meta: map[string]any{
			"customer_id": evt.CustomerID,
			"sku":         evt.SKU,
			"qty":         evt.Qty.String(),
			"transport":   transport,
		},
		At: at,
	}
	if j.Audit == nil {
		return errors.New("quote events: audit recorder not configured")
	}
	if err := j.Audit.Record(ctx, entry); err != nil {
		j.logger().Error("record quote event",
			slog.String("quote_id", entry.EntityID),
			slog.String("tenant_id", evt.TenantID),
			slog.Any("error", err))
		return err
	}
	j.metrics().EventHandled(transport)
	return nil
}

func (j *QuoteEventsJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *QuoteEventsJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *QuoteEventsJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
