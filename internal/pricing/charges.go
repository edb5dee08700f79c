package pricing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Matches reports whether the reference scope covers the lookup.
func (r TaxChargeRef) Matches(lookup ChargeLookup) (bool, error) {
	switch r.Scope {
	case ChargeScopeAll:
		return true, nil
	case ChargeScopeSKU:
		return r.ScopeValue == lookup.SKU, nil
	case ChargeScopeCommodity:
		return strings.EqualFold(r.ScopeValue, lookup.Commodity), nil
	default:
		return false, fmt.Errorf("%w: unknown scope %q on charge %s", ErrInvalidRule, r.Scope, r.ID)
	}
}

func (r TaxChargeRef) specificity() int {
	switch r.Scope {
	case ChargeScopeSKU:
		return 2
	case ChargeScopeCommodity:
		return 1
	default:
		return 0
	}
}

// Amount computes the charge for qty against the basis.
func (r TaxChargeRef) Amount(qty, basis decimal.Decimal) (decimal.Decimal, error) {
	switch r.Method {
	case MethodAbsolute:
		return r.RateOrAmount.Mul(qty), nil
	case MethodPercent:
		return percentOf(r.RateOrAmount, basis), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown method %q on charge %s", ErrInvalidRule, r.Method, r.ID)
	}
}

func (r TaxChargeRef) usable(tenantID string, now time.Time) bool {
	return r.TenantID == tenantID && r.Active && r.ValidAt(now)
}

func (r TaxChargeRef) describe() string {
	if r.Description != "" {
		return r.Description
	}
	if r.Method == MethodPercent {
		return fmt.Sprintf("%s %s%%", strings.ToLower(string(r.Type)), r.RateOrAmount)
	}
	return fmt.Sprintf("%s %s per unit", strings.ToLower(string(r.Type)), r.RateOrAmount)
}

func chargeLookup(req Request) ChargeLookup {
	return ChargeLookup{SKU: req.SKU, Commodity: CommodityPrefix(req.SKU)}
}

// SelectCharges returns the applicable net charges in id order.
func SelectCharges(refs []TaxChargeRef, tenantID string, lookup ChargeLookup, now time.Time) ([]TaxChargeRef, error) {
	out := make([]TaxChargeRef, 0, len(refs))
	for _, ref := range refs {
		if !ref.Type.IsNetCharge() || !ref.usable(tenantID, now) {
			continue
		}
		ok, err := ref.Matches(lookup)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, ref)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RunCharges adds every fee, levy and surcharge to the net total.
func RunCharges(_ context.Context, in Input, st State) (State, error) {
	refs, err := SelectCharges(in.Snapshot.Charges, in.Request.TenantID, chargeLookup(in.Request), in.Now)
	if err != nil {
		return st, err
	}
	for _, ref := range refs {
		basis := st.Total
		amount, err := ref.Amount(in.Qty(), basis)
		if err != nil {
			return st, err
		}
		st.Total = st.Total.Add(amount)
		st = st.with(Component{
			Type:           ComponentCharge,
			Key:            strings.ToLower(string(ref.Type)) + ":" + ref.ID,
			Description:    ref.describe(),
			Value:          amount,
			Basis:          decimalPtr(basis),
			CalculatedFrom: ref.ID,
		})
	}
	return st, nil
}

// SelectTax picks one VAT reference: the most specific scope, then the lowest id.
func SelectTax(refs []TaxChargeRef, tenantID string, lookup ChargeLookup, now time.Time) (TaxChargeRef, bool, error) {
	var (
		best  TaxChargeRef
		found bool
	)
	for _, ref := range refs {
		if ref.Type != ChargeVAT || !ref.usable(tenantID, now) {
			continue
		}
		ok, err := ref.Matches(lookup)
		if err != nil {
			return TaxChargeRef{}, false, err
		}
		if !ok {
			continue
		}
		if !found || ref.specificity() > best.specificity() ||
			(ref.specificity() == best.specificity() && ref.ID < best.ID) {
			best = ref
			found = true
		}
	}
	return best, found, nil
}

// RunTax computes the informational VAT line. The net total is left untouched.
func RunTax(_ context.Context, in Input, st State) (State, error) {
	ref, ok, err := SelectTax(in.Snapshot.Taxes, in.Request.TenantID, chargeLookup(in.Request), in.Now)
	if err != nil || !ok {
		return st, err
	}
	net := Round2(st.Total)
	amount, err := ref.Amount(in.Qty(), net)
	if err != nil {
		return st, err
	}
	st.Tax = Round2(amount)
	return st.with(Component{
		Type:           ComponentTax,
		Key:            "vat:" + ref.ID,
		Description:    ref.describe(),
		Value:          st.Tax,
		Basis:          decimalPtr(net),
		CalculatedFrom: ref.ID,
	}), nil
}
