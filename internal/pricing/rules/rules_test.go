package rules

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pricing/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-pricing/internal/pricing"
)

var now = time.Date(2026, time.April, 15, 10, 0, 0, 0, time.UTC)

const fixtureJSON = `{
  "price_lists": [
    {"id": "old", "tenant_id": "t1", "active": true, "valid_from": "2025-01-01T00:00:00Z",
     "lines": [{"sku": "MILK-1L", "base_price": "80", "currency": "EUR", "active": true}]},
    {"id": "new", "tenant_id": "t1", "active": true, "valid_from": "2026-01-01T00:00:00Z",
     "lines": [{"sku": "MILK-1L", "base_price": "100", "currency": "EUR", "active": true,
                "tier_breaks": [{"min_qty": 50, "price": 90}]}]}
  ],
  "seasonal_rules": [
    {"id": "spring", "tenant_id": "t1", "commodity": "MILK", "season": "SPRING", "adjustment_type": "PERCENTAGE", "adjustment_value": 10, "active": true},
    {"id": "bread", "tenant_id": "t1", "commodity": "BREAD", "season": "ALL", "adjustment_type": "FIXED", "adjustment_value": 1, "active": true}
  ],
  "condition_sets": [
    {"id": "cs1", "tenant_id": "t1", "key": "cust-1", "conflict_strategy": "STACK", "active": true,
     "rules": [{"id": "r1", "scope": "ALL", "method": "PCT", "value": -5}]},
    {"id": "cs2", "tenant_id": "t1", "key": "cust-2", "conflict_strategy": "STACK", "active": true}
  ],
  "dynamic_formulas": [
    {"id": "f1", "tenant_id": "t1", "scope": "MILK", "expression": "index * 2", "active": true}
  ],
  "tax_charges": [
    {"id": "levy", "tenant_id": "t1", "type": "LEVY", "method": "ABS", "rate_or_amount": 2, "scope": "ALL", "active": true},
    {"id": "sku-fee", "tenant_id": "t1", "type": "FEE", "method": "ABS", "rate_or_amount": 1, "scope": "SKU", "scope_value": "BREAD-1", "active": true},
    {"id": "vat", "tenant_id": "t1", "type": "VAT", "method": "PCT", "rate_or_amount": 19, "scope": "ALL", "active": true}
  ]
}`

func loadedStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	require.NoError(t, store.Load(strings.NewReader(fixtureJSON)))
	return store
}

func TestMemoryStoreLookups(t *testing.T) {
	store := loadedStore(t)
	ctx := context.Background()

	pl, err := store.FindActivePriceList(ctx, "t1", now)
	require.NoError(t, err)
	require.Equal(t, "new", pl.ID)
	require.Len(t, pl.Lines[0].TierBreaks, 1)

	_, err = store.FindActivePriceList(ctx, "t2", now)
	require.ErrorIs(t, err, pricing.ErrRuleNotFound)

	seasonal, err := store.FindSeasonalRules(ctx, "t1", pricing.ProductScope{ProductID: "MILK-1L", Commodity: "MILK"}, now)
	require.NoError(t, err)
	require.Len(t, seasonal, 1)
	require.Equal(t, "spring", seasonal[0].ID)

	sets, err := store.FindConditionSets(ctx, "t1", []string{"cust-1"}, now)
	require.NoError(t, err)
	require.Len(t, sets, 1)
	require.True(t, sets[0].Rules[0].Value.Equal(decimal.NewFromInt(-5)))

	f, err := store.FindDynamicFormula(ctx, "t1", "MILK", now)
	require.NoError(t, err)
	require.NotNil(t, f)
	none, err := store.FindDynamicFormula(ctx, "t1", "MILK-1L", now)
	require.NoError(t, err)
	require.Nil(t, none)

	lookup := pricing.ChargeLookup{SKU: "MILK-1L", Commodity: "MILK"}
	charges, err := store.FindCharges(ctx, "t1", lookup, now)
	require.NoError(t, err)
	require.Len(t, charges, 1)
	require.Equal(t, "levy", charges[0].ID)

	taxes, err := store.FindTax(ctx, "t1", lookup, now)
	require.NoError(t, err)
	require.Len(t, taxes, 1)
}

func TestMemoryStoreHonoursValidFrom(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.PutFormula(pricing.DynamicFormula{ID: "f-next", TenantID: "t1", Scope: "MILK", Expression: "index * 3", Active: true,
		Validity: pricing.Validity{ValidFrom: now.AddDate(0, 0, 30)}})
	store.PutFormula(pricing.DynamicFormula{ID: "f-now", TenantID: "t1", Scope: "MILK", Expression: "index * 2", Active: true})
	store.PutFormula(pricing.DynamicFormula{ID: "f-gone", TenantID: "t1", Scope: "BREAD", Expression: "1", Active: true,
		Validity: pricing.Validity{ValidTo: &now}})

	f, err := store.FindDynamicFormula(ctx, "t1", "MILK", now)
	require.NoError(t, err)
	require.Equal(t, "f-now", f.ID)

	f, err = store.FindDynamicFormula(ctx, "t1", "MILK", now.AddDate(0, 0, 31))
	require.NoError(t, err)
	require.Equal(t, "f-next", f.ID)

	f, err = store.FindDynamicFormula(ctx, "t1", "BREAD", now)
	require.NoError(t, err)
	require.Nil(t, f)

	candidates, err := store.FormulaCandidates(ctx, "t1", "MILK", now)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	store.PutPriceList(pricing.PriceList{ID: "future", TenantID: "t1", Active: true,
		Validity: pricing.Validity{ValidFrom: now.Add(24 * time.Hour)}})
	store.PutPriceList(pricing.PriceList{ID: "current", TenantID: "t1", Active: true})

	pl, err := store.FindActivePriceList(ctx, "t1", now)
	require.NoError(t, err)
	require.Equal(t, "current", pl.ID)

	pl, err = store.FindActivePriceList(ctx, "t1", now.Add(48*time.Hour))
	require.NoError(t, err)
	require.Equal(t, "future", pl.ID)
}

func TestMemoryStoreUpsertReplaces(t *testing.T) {
	store := loadedStore(t)
	store.PutPriceList(pricing.PriceList{ID: "new", TenantID: "t1", Active: false})

	pl, err := store.FindActivePriceList(context.Background(), "t1", now)
	require.NoError(t, err)
	require.Equal(t, "old", pl.ID)
}

type countingStore struct {
	*MemoryStore
	priceLists atomic.Int32
	sets       atomic.Int32
	fail       error
}

func (c *countingStore) PriceListCandidates(ctx context.Context, tenantID string, at time.Time) ([]pricing.PriceList, error) {
	c.priceLists.Add(1)
	if c.fail != nil {
		return nil, c.fail
	}
	return c.MemoryStore.PriceListCandidates(ctx, tenantID, at)
}

func (c *countingStore) FindConditionSets(ctx context.Context, tenantID string, keys []string, at time.Time) ([]pricing.ConditionSet, error) {
	c.sets.Add(1)
	return c.MemoryStore.FindConditionSets(ctx, tenantID, keys, at)
}

// plainStore hides the candidate listing of the wrapped store.
type plainStore struct {
	pricing.RuleStore
}

func newCached(t *testing.T, next pricing.RuleStore) (*CachedStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCachedStore(next, cache.NewVersioned(client, "pricing:rules", time.Minute, nil), nil), mr
}

func TestCachedStoreServesFromRedisUntilInvalidated(t *testing.T) {
	upstream := &countingStore{MemoryStore: loadedStore(t)}
	store, _ := newCached(t, upstream)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		pl, err := store.FindActivePriceList(ctx, "t1", now)
		require.NoError(t, err)
		require.Equal(t, "new", pl.ID)
		require.True(t, pl.Lines[0].TierBreaks[0].Price.Equal(decimal.NewFromInt(90)))
	}
	require.EqualValues(t, 1, upstream.priceLists.Load())

	_, err := store.FindConditionSets(ctx, "t1", []string{"gold", "cust-1"}, now)
	require.NoError(t, err)
	_, err = store.FindConditionSets(ctx, "t1", []string{"cust-1", "gold"}, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, upstream.sets.Load())

	require.NoError(t, store.Invalidate(ctx))
	_, err = store.FindActivePriceList(ctx, "t1", now)
	require.NoError(t, err)
	require.EqualValues(t, 2, upstream.priceLists.Load())
}

func TestCachedStoreDoesNotCacheErrors(t *testing.T) {
	upstream := &countingStore{MemoryStore: loadedStore(t), fail: pricing.ErrRuleNotFound}
	store, _ := newCached(t, upstream)
	ctx := context.Background()

	_, err := store.FindActivePriceList(ctx, "t1", now)
	require.ErrorIs(t, err, pricing.ErrRuleNotFound)
	_, err = store.FindActivePriceList(ctx, "t1", now)
	require.ErrorIs(t, err, pricing.ErrRuleNotFound)
	require.EqualValues(t, 2, upstream.priceLists.Load())
}

func TestCachedStoreFallsBackWhenRedisIsDown(t *testing.T) {
	upstream := &countingStore{MemoryStore: loadedStore(t)}
	store, mr := newCached(t, upstream)
	mr.Close()

	pl, err := store.FindActivePriceList(context.Background(), "t1", now)
	require.NoError(t, err)
	require.Equal(t, "new", pl.ID)

	upstream.fail = errors.New("pg down")
	_, err = store.FindActivePriceList(context.Background(), "t1", now)
	require.EqualError(t, err, "pg down")
}

func TestCachedStoreCachesFormulaMiss(t *testing.T) {
	store, _ := newCached(t, loadedStore(t))
	f, err := store.FindDynamicFormula(context.Background(), "t1", "BREAD", now)
	require.NoError(t, err)
	require.Nil(t, f)
	f, err = store.FindDynamicFormula(context.Background(), "t1", "MILK", now)
	require.NoError(t, err)
	require.Equal(t, "f1", f.ID)
}

func boundaryStore(boundary time.Time) *MemoryStore {
	store := NewMemoryStore()
	store.PutPriceList(pricing.PriceList{ID: "old", TenantID: "t1", Active: true,
		Validity: pricing.Validity{ValidFrom: now.AddDate(-1, 0, 0), ValidTo: &boundary}})
	store.PutPriceList(pricing.PriceList{ID: "next", TenantID: "t1", Active: true,
		Validity: pricing.Validity{ValidFrom: boundary}})
	store.PutFormula(pricing.DynamicFormula{ID: "f-old", TenantID: "t1", Scope: "MILK", Expression: "1", Active: true,
		Validity: pricing.Validity{ValidTo: &boundary}})
	store.PutFormula(pricing.DynamicFormula{ID: "f-next", TenantID: "t1", Scope: "MILK", Expression: "2", Active: true,
		Validity: pricing.Validity{ValidFrom: boundary}})
	return store
}

func TestCachedStoreSelectsAcrossValidityBoundary(t *testing.T) {
	boundary := now.Add(time.Hour)
	upstream := &countingStore{MemoryStore: boundaryStore(boundary)}
	ctx := context.Background()

	tests := []struct {
		name    string
		store   pricing.RuleStore
		counted bool
	}{
		{name: "candidates", store: upstream, counted: true},
		{name: "plain upstream", store: plainStore{boundaryStore(boundary)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := newCached(t, tt.store)

			pl, err := store.FindActivePriceList(ctx, "t1", boundary.Add(-time.Minute))
			require.NoError(t, err)
			require.Equal(t, "old", pl.ID)
			f, err := store.FindDynamicFormula(ctx, "t1", "MILK", boundary.Add(-time.Minute))
			require.NoError(t, err)
			require.Equal(t, "f-old", f.ID)

			pl, err = store.FindActivePriceList(ctx, "t1", boundary.Add(time.Minute))
			require.NoError(t, err)
			require.Equal(t, "next", pl.ID)
			f, err = store.FindDynamicFormula(ctx, "t1", "MILK", boundary.Add(time.Minute))
			require.NoError(t, err)
			require.Equal(t, "f-next", f.ID)

			if tt.counted {
				require.EqualValues(t, 1, upstream.priceLists.Load())
			}
		})
	}
}

func TestCachedStoreReportsMissingPriceList(t *testing.T) {
	store, _ := newCached(t, loadedStore(t))
	_, err := store.FindActivePriceList(context.Background(), "t1", time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	require.ErrorIs(t, err, pricing.ErrRuleNotFound)
}
