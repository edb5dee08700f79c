package pricing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// SelectTier returns the qualifying tier with the largest MinQty.
func SelectTier(breaks []TierBreak, qty decimal.Decimal) (TierBreak, bool) {
	var (
		best  TierBreak
		found bool
	)
	for _, tier := range breaks {
		if !tier.Qualifies(qty) {
			continue
		}
		if !found || tier.MinQty.GreaterThan(best.MinQty) {
			best = tier
			found = true
		}
	}
	return best, found
}

// UnitPrice resolves the tier price for qty, falling back to the base price.
func (l PriceListLine) UnitPrice(qty decimal.Decimal) decimal.Decimal {
	if tier, ok := SelectTier(l.TierBreaks, qty); ok {
		return tier.Price
	}
	return l.BasePrice
}

// RunBase sets the running total to unit price times quantity.
func RunBase(_ context.Context, in Input, st State) (State, error) {
	list := in.Snapshot.PriceList
	if !list.Active || !list.ValidAt(in.Now) {
		return st, fmt.Errorf("%w: no active price list for tenant %s", ErrRuleNotFound, in.Request.TenantID)
	}
	line, ok := list.Line(in.Request.SKU)
	if !ok {
		return st, fmt.Errorf("%w: sku %s has no active line in price list %s", ErrRuleNotFound, in.Request.SKU, list.ID)
	}
	unit := line.UnitPrice(in.Qty())
	value := unit.Mul(in.Qty())

	st.Total = value
	st.Currency = line.Currency
	return st.with(Component{
		Type:           ComponentBase,
		Key:            "base",
		Description:    fmt.Sprintf("%s x %s %s @ %s", in.Qty(), line.SKU, line.UOM, unit),
		Value:          value,
		CalculatedFrom: list.ID,
	}), nil
}
