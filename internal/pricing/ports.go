package pricing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceListFinder returns the single active price list valid at the given time
// or an error wrapping ErrRuleNotFound.
type PriceListFinder interface {
	FindActivePriceList(ctx context.Context, tenantID string, at time.Time) (PriceList, error)
}

// SeasonalRuleFinder lists seasonal rule candidates.
type SeasonalRuleFinder interface {
	FindSeasonalRules(ctx context.Context, tenantID string, scope ProductScope, at time.Time) ([]SeasonalRule, error)
}

// ConditionSetFinder lists condition sets keyed to any of the keys.
type ConditionSetFinder interface {
	FindConditionSets(ctx context.Context, tenantID string, keys []string, at time.Time) ([]ConditionSet, error)
}

// FormulaFinder returns the active formula for a scope, or nil when none exists.
type FormulaFinder interface {
	FindDynamicFormula(ctx context.Context, tenantID, scope string, at time.Time) (*DynamicFormula, error)
}

// ChargeFinder lists fee/levy/surcharge records and VAT references.
type ChargeFinder interface {
	FindCharges(ctx context.Context, tenantID string, scope ChargeLookup, at time.Time) ([]TaxChargeRef, error)
	FindTax(ctx context.Context, tenantID string, scope ChargeLookup, at time.Time) ([]TaxChargeRef, error)
}

// RuleStore is the read-only rule capability injected per deployment.
type RuleStore interface {
	PriceListFinder
	SeasonalRuleFinder
	ConditionSetFinder
	FormulaFinder
	ChargeFinder
}

// FormulaResult is the evaluator output.
type FormulaResult struct {
	RoundedValue decimal.Decimal `json:"rounded_value"`
}

// FormulaEvaluator evaluates an opaque expression deterministically.
type FormulaEvaluator interface {
	Evaluate(ctx context.Context, expression string, vars map[string]any) (FormulaResult, error)
}

// QuoteStore persists calculated quotes. FindByID returns ErrQuoteNotFound once
// the quote has expired.
type QuoteStore interface {
	Save(ctx context.Context, quote Quote) (Quote, error)
	FindByID(ctx context.Context, tenantID string, id uuid.UUID) (Quote, error)
}

// Notifier publishes quote lifecycle events.
type Notifier interface {
	Publish(ctx context.Context, evt QuoteCalculatedEvent) error
}

// Recorder receives calculation metrics.
type Recorder interface {
	QuoteCalculated(outcome string, elapsed time.Duration)
	StageDegraded(stage string)
}

type noopRecorder struct{}

func (noopRecorder) QuoteCalculated(string, time.Duration) {}
func (noopRecorder) StageDegraded(string)                  {}
