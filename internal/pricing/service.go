package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-pricing/internal/platform/clock"
)

// DefaultQuoteTTL is the lifetime of a calculated quote.
const DefaultQuoteTTL = 24 * time.Hour

// Stage names used in logs and metrics.
const (
	StageBase      = "base"
	StageSeasonal  = "seasonal"
	StageCondition = "condition"
	StageDynamic   = "dynamic"
	StageCharges   = "charges"
	StageTax       = "tax"
)

// Calculation outcomes reported to the Recorder.
const (
	OutcomeCalculated  = "calculated"
	OutcomeRejected    = "rejected"
	OutcomeNotFound    = "not_found"
	OutcomeFailed      = "failed"
	OutcomePersistFail = "persistence_failure"
)

// ServiceConfig carries the optional collaborators of a Service.
type ServiceConfig struct {
	QuoteTTL  time.Duration
	Signer    *Signer
	Evaluator FormulaEvaluator
	Notifier  Notifier
	Metrics   Recorder
	Logger    *slog.Logger
	Clock     clock.Clock
}

// Service computes and stores quotes. Safe for concurrent use.
type Service struct {
	rules    RuleStore
	quotes   QuoteStore
	ttl      time.Duration
	signer   *Signer
	notifier Notifier
	metrics  Recorder
	logger   *slog.Logger
	clock    clock.Clock
	stages   []Stage
}

// NewService wires the rule and quote stores with the configured collaborators.
func NewService(rules RuleStore, quotes QuoteStore, cfg ServiceConfig) *Service {
	if cfg.QuoteTTL <= 0 {
		cfg.QuoteTTL = DefaultQuoteTTL
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	return &Service{
		rules:    rules,
		quotes:   quotes,
		ttl:      cfg.QuoteTTL,
		signer:   cfg.Signer,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		clock:    cfg.Clock,
		stages:   Stages(cfg.Evaluator),
	}
}

// Stages returns the ordered pipeline.
func Stages(eval FormulaEvaluator) []Stage {
	return []Stage{
		{Name: StageBase, Run: RunBase},
		{Name: StageSeasonal, Run: RunSeasonal},
		{Name: StageCondition, Run: RunConditions},
		{Name: StageDynamic, Run: DynamicStage(eval)},
		{Name: StageCharges, Run: RunCharges},
		{Name: StageTax, Run: RunTax},
	}
}

// Calculate runs the pipeline, persists the quote and publishes quote.calculated.
func (s *Service) Calculate(ctx context.Context, req Request) (Quote, error) {
	start := time.Now()
	quote, err := s.calculate(ctx, req)
	s.metrics.QuoteCalculated(outcomeOf(err), time.Since(start))
	return quote, err
}

func (s *Service) calculate(ctx context.Context, req Request) (Quote, error) {
	if err := req.Validate(); err != nil {
		return Quote{}, err
	}
	now := s.clock.Now().UTC()
	orderDate, err := req.OrderDate(now)
	if err != nil {
		return Quote{}, err
	}

	snap, err := LoadSnapshot(ctx, s.rules, req, now)
	if err != nil {
		return Quote{}, err
	}
	in := Input{Request: req, Now: now, OrderDate: orderDate, Snapshot: snap}
	st, err := Fold(ctx, s.stages, in, s.degraded(req))
	if err != nil {
		return Quote{}, err
	}

	net := Round2(st.Total)
	quote := Quote{
		ID:           uuid.New(),
		TenantID:     req.TenantID,
		Inputs:       req,
		Components:   st.Components,
		TotalNet:     net,
		TotalGross:   Round2(net.Add(st.Tax)),
		Currency:     st.Currency,
		CalculatedAt: now,
		ExpiresAt:    now.Add(s.ttl),
		CreatedBy:    ActorFromContext(ctx),
	}
	if s.signer != nil {
		sig, err := s.signer.Sign(quote)
		if err != nil {
			return Quote{}, fmt.Errorf("sign quote: %w", err)
		}
		quote.Signature = sig
	}

	saved, err := s.quotes.Save(ctx, quote)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}
	s.publish(ctx, saved)
	return saved, nil
}

func (s *Service) degraded(req Request) DegradedFunc {
	return func(stage string, err error) {
		s.metrics.StageDegraded(stage)
		s.logger.Warn("pricing stage degraded",
			slog.String("stage", stage),
			slog.String("tenant_id", req.TenantID),
			slog.String("sku", req.SKU),
			slog.Any("error", err))
	}
}

func (s *Service) publish(ctx context.Context, q Quote) {
	if s.notifier == nil {
		return
	}
	evt := QuoteCalculatedEvent{
		TenantID:   q.TenantID,
		QuoteID:    q.ID,
		CustomerID: q.Inputs.CustomerID,
		SKU:        q.Inputs.SKU,
		Qty:        q.Inputs.Qty,
		OccurredAt: q.CalculatedAt,
	}
	if err := s.notifier.Publish(ctx, evt); err != nil {
		s.logger.Error("publish quote.calculated",
			slog.String("quote_id", q.ID.String()),
			slog.String("tenant_id", q.TenantID),
			slog.Any("error", err))
	}
}

// Get returns a stored quote, treating expired quotes as absent.
func (s *Service) Get(ctx context.Context, tenantID string, id uuid.UUID) (Quote, error) {
	if tenantID == "" {
		return Quote{}, fmt.Errorf("%w: tenant_id failed required", ErrInvalidRequest)
	}
	quote, err := s.quotes.FindByID(ctx, tenantID, id)
	if err != nil {
		return Quote{}, err
	}
	if quote.Expired(s.clock.Now()) {
		return Quote{}, ErrQuoteNotFound
	}
	return quote, nil
}

// Verify reports whether the quote carries a valid signature.
func (s *Service) Verify(q Quote) bool {
	return s.signer.Verify(q)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeCalculated
	case errors.Is(err, ErrInvalidRequest):
		return OutcomeRejected
	case errors.Is(err, ErrRuleNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrPersistenceFailure):
		return OutcomePersistFail
	default:
		return OutcomeFailed
	}
}
