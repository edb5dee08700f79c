package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pricing/internal/audit"
	jobmetrics "github.com/odyssey-erp/odyssey-pricing/internal/jobs"
)

// Sweeper deletes quotes that expired before cutoff.
type Sweeper interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// QuoteSweepJob removes expired quotes from stores without native TTL.
type QuoteSweepJob struct {
	Store   Sweeper
	Audit   audit.Recorder
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewQuoteSweepJob wires dependencies for the sweeper.
func NewQuoteSweepJob(store Sweeper, recorder audit.Recorder, logger *slog.Logger, metrics *jobmetrics.Metrics) *QuoteSweepJob {
	return &QuoteSweepJob{
		Store:   store,
		Audit:   recorder,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskQuoteSweep tasks.
func (j *QuoteSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("quote sweep: handler not configured")
	}
	var payload QuoteSweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.Grace < 0 {
		payload.Grace = 0
	}

	tracker := j.metrics().Track(TaskQuoteSweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	started := time.Now()
	now := j.now()
	cutoff := now.Add(-payload.Grace)
	logger := j.logger().With(slog.Time("cutoff", cutoff))

	deleted, err := j.Store.DeleteExpired(ctx, cutoff)
	if err != nil {
		resultErr = err
		logger.Error("sweep expired quotes", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddSwept(deleted)
	logger.Info("swept expired quotes", slog.Int64("deleted", deleted), slog.Duration("duration", time.Since(started)))

	if deleted > 0 && j.Audit != nil {
		entry := audit.Entry{
			Actor:    AuditActor,
			Action:   audit.ActionQuotesSwept,
			Entity:   audit.EntityQuote,
			EntityID: "sweep:" + strconv.FormatInt(now.Unix(), 10),
			Meta:     map[string]any{"deleted": deleted, "cutoff": cutoff.Format(time.RFC3339)},
			At:       now,
		}
		if err := j.Audit.Record(ctx, entry); err != nil {
			logger.Warn("record sweep", slog.Any("error", err))
		}
	}
	return resultErr
}

func (j *QuoteSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *QuoteSweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *QuoteSweepJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
