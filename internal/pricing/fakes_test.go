package pricing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeRules struct {
	priceList    PriceList
	priceListErr error
	seasonal     []SeasonalRule
	seasonalErr  error
	sets         []ConditionSet
	setsErr      error
	formulas     map[string]*DynamicFormula
	formulaErr   error
	charges      []TaxChargeRef
	chargesErr   error
	taxes        []TaxChargeRef

	mu       sync.Mutex
	keysSeen []string
}

func (f *fakeRules) FindActivePriceList(context.Context, string, time.Time) (PriceList, error) {
	if f.priceListErr != nil {
		return PriceList{}, f.priceListErr
	}
	return f.priceList, nil
}

func (f *fakeRules) FindSeasonalRules(context.Context, string, ProductScope, time.Time) ([]SeasonalRule, error) {
	return f.seasonal, f.seasonalErr
}

func (f *fakeRules) FindConditionSets(_ context.Context, _ string, keys []string, _ time.Time) ([]ConditionSet, error) {
	f.mu.Lock()
	f.keysSeen = append(f.keysSeen, keys...)
	f.mu.Unlock()
	return f.sets, f.setsErr
}

func (f *fakeRules) FindDynamicFormula(_ context.Context, _ string, scope string, _ time.Time) (*DynamicFormula, error) {
	if f.formulaErr != nil {
		return nil, f.formulaErr
	}
	return f.formulas[scope], nil
}

func (f *fakeRules) FindCharges(context.Context, string, ChargeLookup, time.Time) ([]TaxChargeRef, error) {
	return f.charges, f.chargesErr
}

func (f *fakeRules) FindTax(context.Context, string, ChargeLookup, time.Time) ([]TaxChargeRef, error) {
	return f.taxes, nil
}

type fakeQuotes struct {
	mu      sync.Mutex
	saved   map[uuid.UUID]Quote
	saveErr error
}

func newFakeQuotes() *fakeQuotes {
	return &fakeQuotes{saved: make(map[uuid.UUID]Quote)}
}

func (f *fakeQuotes) Save(_ context.Context, q Quote) (Quote, error) {
	if f.saveErr != nil {
		return Quote{}, f.saveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[q.ID] = q
	return q, nil
}

func (f *fakeQuotes) FindByID(_ context.Context, tenantID string, id uuid.UUID) (Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.saved[id]
	if !ok || q.TenantID != tenantID {
		return Quote{}, ErrQuoteNotFound
	}
	return q, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []QuoteCalculatedEvent
	err    error
}

func (f *fakeNotifier) Publish(_ context.Context, evt QuoteCalculatedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return f.err
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []string
	degraded []string
}

func (f *fakeRecorder) QuoteCalculated(outcome string, _ time.Duration) {
	f.mu.Lock()
	f.outcomes = append(f.outcomes, outcome)
	f.mu.Unlock()
}

func (f *fakeRecorder) StageDegraded(stage string) {
	f.mu.Lock()
	f.degraded = append(f.degraded, stage)
	f.mu.Unlock()
}

type evaluatorFunc func(ctx context.Context, expression string, vars map[string]any) (FormulaResult, error)

func (f evaluatorFunc) Evaluate(ctx context.Context, expression string, vars map[string]any) (FormulaResult, error) {
	return f(ctx, expression, vars)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}
