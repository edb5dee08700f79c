package pricing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pricing/internal/platform/clock"
)

func scenarioRules() *fakeRules {
	return &fakeRules{
		priceList: PriceList{
			ID: "pl-2026", TenantID: "t1", Active: true,
			Lines: []PriceListLine{{
				SKU: "MILK-1L", BasePrice: dec("100"), Currency: "EUR", UOM: "pcs", Active: true,
				TierBreaks: []TierBreak{{MinQty: dec("50"), Price: dec("90")}},
			}},
		},
		seasonal: []SeasonalRule{{
			ID: "spring", TenantID: "t1", Active: true, Season: SeasonSpring,
			AdjustmentType: AdjustmentPercentage, AdjustmentValue: dec("10"), Priority: 1,
		}},
		sets: []ConditionSet{{
			ID: "cs-1", TenantID: "t1", Key: "cust-1", Active: true, ConflictStrategy: StrategyStack,
			Rules: []ConditionRule{{ID: "loyal", Type: "DISCOUNT", Scope: RuleScopeAll, Method: MethodPercent, Value: dec("-5")}},
		}},
		charges: []TaxChargeRef{{
			ID: "levy", TenantID: "t1", Type: ChargeLevy, Method: MethodAbsolute, RateOrAmount: dec("2"), Scope: ChargeScopeAll, Active: true,
		}},
		taxes: []TaxChargeRef{{
			ID: "vat", TenantID: "t1", Type: ChargeVAT, Method: MethodPercent, RateOrAmount: dec("19"), Scope: ChargeScopeAll, Active: true,
		}},
	}
}

func scenarioRequest() Request {
	return Request{
		TenantID:   "t1",
		SKU:        "MILK-1L",
		Qty:        dec("50"),
		CustomerID: "cust-1",
		Channel:    "web",
		Context:    map[string]any{ContextOrderDate: "2026-04-15"},
	}
}

type serviceFixture struct {
	svc      *Service
	rules    *fakeRules
	quotes   *fakeQuotes
	notifier *fakeNotifier
	metrics  *fakeRecorder
	clock    *clock.Fixed
}

func newFixture(t *testing.T, rules *fakeRules) serviceFixture {
	t.Helper()
	return newFixtureWith(t, rules, nil)
}

func newFixtureWith(t *testing.T, rules *fakeRules, eval FormulaEvaluator) serviceFixture {
	t.Helper()
	signer, err := NewSigner([]byte("test-signing-key"))
	require.NoError(t, err)
	f := serviceFixture{
		rules:    rules,
		quotes:   newFakeQuotes(),
		notifier: &fakeNotifier{},
		metrics:  &fakeRecorder{},
		clock:    clock.NewFixed(testNow),
	}
	f.svc = NewService(rules, f.quotes, ServiceConfig{
		Signer:    signer,
		Notifier:  f.notifier,
		Metrics:   f.metrics,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:     f.clock,
		Evaluator: eval,
	})
	return f
}

func TestCalculateScenario(t *testing.T) {
	f := newFixture(t, scenarioRules())
	ctx := ContextWithActor(context.Background(), "alice")

	quote, err := f.svc.Calculate(ctx, scenarioRequest())
	require.NoError(t, err)

	require.Len(t, quote.Components, 5)
	wantTypes := []ComponentType{ComponentBase, ComponentSeasonal, ComponentCondition, ComponentCharge, ComponentTax}
	wantValues := []string{"4500", "450", "-247.5", "100", "912.48"}
	for i, c := range quote.Components {
		require.Equal(t, wantTypes[i], c.Type)
		requireDecimal(t, wantValues[i], c.Value)
	}
	requireDecimal(t, "4950", *quote.Components[2].Basis)
	requireDecimal(t, "4802.5", quote.TotalNet)
	requireDecimal(t, "5714.98", quote.TotalGross)
	require.Equal(t, "4802.50", quote.TotalNet.StringFixed(2))
	require.Equal(t, "EUR", quote.Currency)
	require.Equal(t, "alice", quote.CreatedBy)
	require.Equal(t, testNow.Add(DefaultQuoteTTL), quote.ExpiresAt)
	require.Equal(t, QuoteCalculated, quote.Status(testNow))
	require.True(t, f.svc.Verify(quote))

	stored, err := f.quotes.FindByID(ctx, "t1", quote.ID)
	require.NoError(t, err)
	require.Equal(t, quote.Signature, stored.Signature)

	require.Len(t, f.notifier.events, 1)
	evt := f.notifier.events[0]
	require.Equal(t, quote.ID, evt.QuoteID)
	require.Equal(t, "cust-1", evt.CustomerID)
	requireDecimal(t, "50", evt.Qty)
	require.Equal(t, []string{OutcomeCalculated}, f.metrics.outcomes)
}

func TestCalculateWithoutCustomerSkipsConditions(t *testing.T) {
	f := newFixture(t, scenarioRules())
	req := scenarioRequest()
	req.CustomerID = ""

	quote, err := f.svc.Calculate(context.Background(), req)
	require.NoError(t, err)
	requireDecimal(t, "5050", quote.TotalNet)
	require.Empty(t, f.rules.keysSeen)
}

func TestCalculateSegmentsExtendConditionKeys(t *testing.T) {
	f := newFixture(t, scenarioRules())
	req := scenarioRequest()
	req.Context[ContextSegments] = []any{"gold", "cust-1", " "}

	_, err := f.svc.Calculate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, []string{"cust-1", "gold"}, f.rules.keysSeen)
}

func TestCalculateFormulaFallsBackToCommodity(t *testing.T) {
	rules := &fakeRules{
		priceList: scenarioRules().priceList,
		formulas: map[string]*DynamicFormula{
			"MILK-1L": {ID: "f-next", Scope: "MILK-1L", Expression: "index * 3", Active: true,
				Validity: Validity{ValidFrom: testNow.AddDate(0, 0, 30)}},
			"MILK": {ID: "f-now", Scope: "MILK", Expression: "index * 2", Active: true},
		},
	}
	eval := evaluatorFunc(func(_ context.Context, expr string, _ map[string]any) (FormulaResult, error) {
		require.Equal(t, "index * 2", expr)
		return FormulaResult{RoundedValue: dec("7")}, nil
	})
	f := newFixtureWith(t, rules, eval)
	req := scenarioRequest()
	req.CustomerID = ""
	req.Qty = dec("10")

	quote, err := f.svc.Calculate(context.Background(), req)
	require.NoError(t, err)
	requireDecimal(t, "70", quote.TotalNet)
	last := quote.Components[len(quote.Components)-1]
	require.Equal(t, ComponentDynamic, last.Type)
	require.Equal(t, "f-now", last.CalculatedFrom)
}

func TestCalculateSeasonalLookupDegrades(t *testing.T) {
	rules := scenarioRules()
	rules.seasonalErr = errors.New("redis: connection refused")
	f := newFixture(t, rules)

	quote, err := f.svc.Calculate(context.Background(), scenarioRequest())
	require.NoError(t, err)
	for _, c := range quote.Components {
		require.NotEqual(t, ComponentSeasonal, c.Type)
	}
	requireDecimal(t, "4375", quote.TotalNet)
	require.Equal(t, []string{StageSeasonal}, f.metrics.degraded)
}

func TestCalculateRejectsInvalidRequest(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Request)
	}{
		{"zero qty", func(r *Request) { r.Qty = dec("0") }},
		{"negative qty", func(r *Request) { r.Qty = dec("-1") }},
		{"missing tenant", func(r *Request) { r.TenantID = "" }},
		{"missing sku", func(r *Request) { r.SKU = "" }},
		{"bad order date", func(r *Request) { r.Context[ContextOrderDate] = "yesterday" }},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, scenarioRules())
			req := scenarioRequest()
			tt.mutate(&req)
			_, err := f.svc.Calculate(context.Background(), req)
			require.ErrorIs(t, err, ErrInvalidRequest)
			require.Empty(t, f.quotes.saved)
			require.Empty(t, f.notifier.events)
		})
	}
}

func TestCalculateMissingPriceList(t *testing.T) {
	rules := scenarioRules()
	rules.priceListErr = ErrRuleNotFound
	f := newFixture(t, rules)

	_, err := f.svc.Calculate(context.Background(), scenarioRequest())
	require.ErrorIs(t, err, ErrRuleNotFound)
	require.Empty(t, f.quotes.saved)
	require.Equal(t, []string{OutcomeNotFound}, f.metrics.outcomes)
}

func TestCalculateChargeLookupIsFatal(t *testing.T) {
	rules := scenarioRules()
	rules.chargesErr = errors.New("pg: timeout")
	f := newFixture(t, rules)

	_, err := f.svc.Calculate(context.Background(), scenarioRequest())
	require.ErrorIs(t, err, ErrRuleLookup)
	require.Empty(t, f.quotes.saved)
}

func TestCalculatePersistenceFailure(t *testing.T) {
	f := newFixture(t, scenarioRules())
	f.quotes.saveErr = errors.New("disk full")

	quote, err := f.svc.Calculate(context.Background(), scenarioRequest())
	require.ErrorIs(t, err, ErrPersistenceFailure)
	require.Equal(t, Quote{}, quote)
	require.Empty(t, f.notifier.events)
}

func TestCalculatePublishFailureKeepsQuote(t *testing.T) {
	f := newFixture(t, scenarioRules())
	f.notifier.err = errors.New("broker down")

	quote, err := f.svc.Calculate(context.Background(), scenarioRequest())
	require.NoError(t, err)
	require.Contains(t, f.quotes.saved, quote.ID)
}

func TestGetTreatsExpiredAsAbsent(t *testing.T) {
	f := newFixture(t, scenarioRules())
	ctx := context.Background()
	quote, err := f.svc.Calculate(ctx, scenarioRequest())
	require.NoError(t, err)

	f.clock.Set(quote.ExpiresAt)
	got, err := f.svc.Get(ctx, "t1", quote.ID)
	require.NoError(t, err)
	require.Equal(t, quote.ID, got.ID)

	f.clock.Advance(time.Nanosecond)
	_, err = f.svc.Get(ctx, "t1", quote.ID)
	require.ErrorIs(t, err, ErrQuoteNotFound)
	require.Equal(t, QuoteExpired, quote.Status(f.clock.Now()))

	_, err = f.svc.Get(ctx, "t2", quote.ID)
	require.ErrorIs(t, err, ErrQuoteNotFound)
	_, err = f.svc.Get(ctx, "t1", uuid.New())
	require.ErrorIs(t, err, ErrQuoteNotFound)
}

func TestSignatureDetectsTampering(t *testing.T) {
	signer, err := NewSigner([]byte("k"))
	require.NoError(t, err)
	q := Quote{ID: uuid.New(), TenantID: "t1", TotalNet: dec("10"), TotalGross: dec("11.9"), Currency: "EUR", CalculatedAt: testNow, ExpiresAt: testNow.Add(time.Hour)}
	q.Signature, err = signer.Sign(q)
	require.NoError(t, err)
	require.True(t, signer.Verify(q))

	q.TotalNet = dec("9")
	require.False(t, signer.Verify(q))

	_, err = NewSigner(make([]byte, 65))
	require.ErrorIs(t, err, ErrSigningKey)
	none, err := NewSigner(nil)
	require.NoError(t, err)
	require.False(t, none.Verify(q))
}
