package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Snapshot is the consistent rule view a single calculation observes.
type Snapshot struct {
	At            time.Time
	PriceList     PriceList
	Seasonal      []SeasonalRule
	SeasonalErr   error
	ConditionSets []ConditionSet
	Formula       *DynamicFormula
	FormulaErr    error
	Charges       []TaxChargeRef
	Taxes         []TaxChargeRef
}

// LoadSnapshot reads every rule the pipeline needs at one instant. Seasonal and
// formula lookup failures are recorded on the snapshot instead of failing.
func LoadSnapshot(ctx context.Context, store RuleStore, req Request, at time.Time) (Snapshot, error) {
	snap := Snapshot{At: at}
	charges := chargeLookup(req)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		list, err := store.FindActivePriceList(gctx, req.TenantID, at)
		if err != nil {
			if errors.Is(err, ErrRuleNotFound) {
				return err
			}
			return fmt.Errorf("%w: price list: %v", ErrRuleLookup, err)
		}
		snap.PriceList = list
		return nil
	})
	g.Go(func() error {
		rules, err := store.FindSeasonalRules(gctx, req.TenantID, req.ProductScope(), at)
		if err != nil {
			snap.SeasonalErr = err
			return nil
		}
		snap.Seasonal = rules
		return nil
	})
	g.Go(func() error {
		keys := req.ConditionKeys()
		if len(keys) == 0 {
			return nil
		}
		sets, err := store.FindConditionSets(gctx, req.TenantID, keys, at)
		if err != nil {
			return fmt.Errorf("%w: condition sets: %v", ErrRuleLookup, err)
		}
		snap.ConditionSets = sets
		return nil
	})
	g.Go(func() error {
		formula, err := findFormula(gctx, store, req, at)
		if err != nil {
			snap.FormulaErr = err
			return nil
		}
		snap.Formula = formula
		return nil
	})
	g.Go(func() error {
		refs, err := store.FindCharges(gctx, req.TenantID, charges, at)
		if err != nil {
			return fmt.Errorf("%w: charges: %v", ErrRuleLookup, err)
		}
		snap.Charges = refs
		return nil
	})
	g.Go(func() error {
		refs, err := store.FindTax(gctx, req.TenantID, charges, at)
		if err != nil {
			return fmt.Errorf("%w: tax: %v", ErrRuleLookup, err)
		}
		snap.Taxes = refs
		return nil
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// findFormula prefers a SKU scoped formula over the commodity prefix. A SKU
// formula that is inactive or outside its validity at at does not shadow the
// commodity formula.
func findFormula(ctx context.Context, store FormulaFinder, req Request, at time.Time) (*DynamicFormula, error) {
	formula, err := store.FindDynamicFormula(ctx, req.TenantID, req.SKU, at)
	if err != nil {
		return nil, err
	}
	if formula != nil && formula.Active && formula.ValidAt(at) {
		return formula, nil
	}
	commodity := CommodityPrefix(req.SKU)
	if commodity == req.SKU {
		return nil, nil
	}
	return store.FindDynamicFormula(ctx, req.TenantID, commodity, at)
}
