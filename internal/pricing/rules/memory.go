package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-pricing/internal/pricing"
)

// Fixture is the JSON document accepted by MemoryStore.Load.
type Fixture struct {
	PriceLists    []pricing.PriceList      `json:"price_lists"`
	Seasonal      []pricing.SeasonalRule   `json:"seasonal_rules"`
	ConditionSets []pricing.ConditionSet   `json:"condition_sets"`
	Formulas      []pricing.DynamicFormula `json:"dynamic_formulas"`
	TaxCharges    []pricing.TaxChargeRef   `json:"tax_charges"`
}

type tenantRules struct {
	priceLists []pricing.PriceList
	seasonal   []pricing.SeasonalRule
	sets       []pricing.ConditionSet
	formulas   []pricing.DynamicFormula
	charges    []pricing.TaxChargeRef
}

// MemoryStore keeps rules per tenant in process. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]*tenantRules
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: make(map[string]*tenantRules)}
}

var (
	_ pricing.RuleStore = (*MemoryStore)(nil)
	_ CandidateSource   = (*MemoryStore)(nil)
)

func (m *MemoryStore) tenant(id string) *tenantRules {
	t, ok := m.tenants[id]
	if !ok {
		t = &tenantRules{}
		m.tenants[id] = t
	}
	return t
}

// Load merges a JSON fixture into the store.
func (m *MemoryStore) Load(r io.Reader) error {
	var fx Fixture
	if err := json.NewDecoder(r).Decode(&fx); err != nil {
		return fmt.Errorf("rules: decode fixture: %w", err)
	}
	m.Apply(fx)
	return nil
}

// Apply merges fixture records into the store.
func (m *MemoryStore) Apply(fx Fixture) {
	for _, pl := range fx.PriceLists {
		m.PutPriceList(pl)
	}
	for _, r := range fx.Seasonal {
		m.PutSeasonalRule(r)
	}
	for _, s := range fx.ConditionSets {
		m.PutConditionSet(s)
	}
	for _, f := range fx.Formulas {
		m.PutFormula(f)
	}
	for _, c := range fx.TaxCharges {
		m.PutTaxCharge(c)
	}
}

// PutPriceList inserts or replaces a price list by id.
func (m *MemoryStore) PutPriceList(pl pricing.PriceList) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tenant(pl.TenantID)
	t.priceLists = upsert(t.priceLists, pl, func(x pricing.PriceList) string { return x.ID })
}

// PutSeasonalRule inserts or replaces a seasonal rule by id.
func (m *MemoryStore) PutSeasonalRule(r pricing.SeasonalRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tenant(r.TenantID)
	t.seasonal = upsert(t.seasonal, r, func(x pricing.SeasonalRule) string { return x.ID })
}

// PutConditionSet inserts or replaces a condition set by id.
func (m *MemoryStore) PutConditionSet(s pricing.ConditionSet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tenant(s.TenantID)
	t.sets = upsert(t.sets, s, func(x pricing.ConditionSet) string { return x.ID })
}

// PutFormula inserts or replaces a dynamic formula by id.
func (m *MemoryStore) PutFormula(f pricing.DynamicFormula) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tenant(f.TenantID)
	t.formulas = upsert(t.formulas, f, func(x pricing.DynamicFormula) string { return x.ID })
}

// PutTaxCharge inserts or replaces a charge or tax reference by id.
func (m *MemoryStore) PutTaxCharge(c pricing.TaxChargeRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tenant(c.TenantID)
	t.charges = upsert(t.charges, c, func(x pricing.TaxChargeRef) string { return x.ID })
}

func upsert[T any](items []T, item T, id func(T) string) []T {
	for i := range items {
		if id(items[i]) == id(item) {
			out := append([]T(nil), items...)
			out[i] = item
			return out
		}
	}
	return append(append([]T(nil), items...), item)
}

func (m *MemoryStore) snapshot(tenantID string) tenantRules {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.tenants[tenantID]; ok {
		return *t
	}
	return tenantRules{}
}

// FindActivePriceList implements pricing.PriceListFinder.
func (m *MemoryStore) FindActivePriceList(_ context.Context, tenantID string, at time.Time) (pricing.PriceList, error) {
	best, ok := pricing.SelectPriceList(m.snapshot(tenantID).priceLists, at)
	if !ok {
		return pricing.PriceList{}, fmt.Errorf("%w: no active price list for tenant %s", pricing.ErrRuleNotFound, tenantID)
	}
	return best, nil
}

// PriceListCandidates implements CandidateSource.
func (m *MemoryStore) PriceListCandidates(_ context.Context, tenantID string, at time.Time) ([]pricing.PriceList, error) {
	var out []pricing.PriceList
	for _, pl := range m.snapshot(tenantID).priceLists {
		if pl.Active && notExpired(pl.Validity, at) {
			out = append(out, pl)
		}
	}
	return out, nil
}

// FindSeasonalRules implements pricing.SeasonalRuleFinder.
func (m *MemoryStore) FindSeasonalRules(_ context.Context, tenantID string, scope pricing.ProductScope, at time.Time) ([]pricing.SeasonalRule, error) {
	var out []pricing.SeasonalRule
	for _, r := range m.snapshot(tenantID).seasonal {
		if r.Active && notExpired(r.Validity, at) && r.MatchesScope(scope) {
			out = append(out, r)
		}
	}
	return out, nil
}

// FindConditionSets implements pricing.ConditionSetFinder.
func (m *MemoryStore) FindConditionSets(_ context.Context, tenantID string, keys []string, at time.Time) ([]pricing.ConditionSet, error) {
	var out []pricing.ConditionSet
	for _, s := range m.snapshot(tenantID).sets {
		if !s.Active || !notExpired(s.Validity, at) {
			continue
		}
		for _, k := range keys {
			if s.Key == k {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

// FindDynamicFormula implements pricing.FormulaFinder.
func (m *MemoryStore) FindDynamicFormula(_ context.Context, tenantID, scope string, at time.Time) (*pricing.DynamicFormula, error) {
	return pricing.SelectFormula(m.snapshot(tenantID).formulas, scope, at), nil
}

// FormulaCandidates implements CandidateSource.
func (m *MemoryStore) FormulaCandidates(_ context.Context, tenantID, scope string, at time.Time) ([]pricing.DynamicFormula, error) {
	var out []pricing.DynamicFormula
	for _, f := range m.snapshot(tenantID).formulas {
		if f.Active && f.Scope == scope && notExpired(f.Validity, at) {
			out = append(out, f)
		}
	}
	return out, nil
}

// FindCharges implements pricing.ChargeFinder.
func (m *MemoryStore) FindCharges(_ context.Context, tenantID string, scope pricing.ChargeLookup, at time.Time) ([]pricing.TaxChargeRef, error) {
	return m.taxCharges(tenantID, scope, at, func(t pricing.ChargeType) bool { return t.IsNetCharge() })
}

// FindTax implements pricing.ChargeFinder.
func (m *MemoryStore) FindTax(_ context.Context, tenantID string, scope pricing.ChargeLookup, at time.Time) ([]pricing.TaxChargeRef, error) {
	return m.taxCharges(tenantID, scope, at, func(t pricing.ChargeType) bool { return t == pricing.ChargeVAT })
}

func (m *MemoryStore) taxCharges(tenantID string, scope pricing.ChargeLookup, at time.Time, keep func(pricing.ChargeType) bool) ([]pricing.TaxChargeRef, error) {
	var out []pricing.TaxChargeRef
	for _, c := range m.snapshot(tenantID).charges {
		if !c.Active || !keep(c.Type) || !notExpired(c.Validity, at) {
			continue
		}
		ok, err := c.Matches(scope)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func notExpired(v pricing.Validity, at time.Time) bool {
	return v.ValidTo == nil || at.Before(*v.ValidTo)
}
