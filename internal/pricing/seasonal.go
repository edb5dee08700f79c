package pricing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MatchesScope treats unset scope fields as wildcards.
func (r SeasonalRule) MatchesScope(scope ProductScope) bool {
	if r.ProductID != "" && r.ProductID != scope.ProductID {
		return false
	}
	if r.Commodity != "" && !strings.EqualFold(r.Commodity, scope.Commodity) {
		return false
	}
	if r.Category != "" && !strings.EqualFold(r.Category, scope.Category) {
		return false
	}
	return true
}

// AppliesOn reports whether the rule season or month range covers the date.
func (r SeasonalRule) AppliesOn(date time.Time) bool {
	if r.Season == SeasonAll || (r.Season != "" && r.Season == SeasonOf(date)) {
		return true
	}
	return r.MonthRange != nil && r.MonthRange.Contains(date.Month())
}

func (r SeasonalRule) specificity() int {
	n := 0
	if r.ProductID != "" {
		n += 4
	}
	if r.Commodity != "" {
		n += 2
	}
	if r.Category != "" {
		n++
	}
	return n
}

// Adjust applies the rule to a unit price. Unit price and delta are rounded to
// two decimals.
func (r SeasonalRule) Adjust(unit decimal.Decimal) (decimal.Decimal, error) {
	unit = Round2(unit)
	switch r.AdjustmentType {
	case AdjustmentPercentage:
		return Round2(percentOf(r.AdjustmentValue, unit)), nil
	case AdjustmentFixed:
		return Round2(r.AdjustmentValue), nil
	case AdjustmentMultiplier:
		return Round2(unit.Mul(r.AdjustmentValue).Sub(unit)), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown adjustment type %q on seasonal rule %s", ErrInvalidRule, r.AdjustmentType, r.ID)
	}
}

// SelectSeasonalRule picks the highest priority applicable rule. Equal
// priorities fall back to the more specific scope, then the lowest id.
func SelectSeasonalRule(rules []SeasonalRule, tenantID string, scope ProductScope, orderDate, now time.Time) (SeasonalRule, bool) {
	candidates := make([]SeasonalRule, 0, len(rules))
	for _, r := range rules {
		if r.TenantID != tenantID || !r.Active || !r.ValidAt(now) {
			continue
		}
		if !r.MatchesScope(scope) || !r.AppliesOn(orderDate) {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return SeasonalRule{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.specificity() != b.specificity() {
			return a.specificity() > b.specificity()
		}
		return a.ID < b.ID
	})
	return candidates[0], true
}

// RunSeasonal adjusts the running unit price by the winning seasonal rule.
func RunSeasonal(_ context.Context, in Input, st State) (State, error) {
	if in.Snapshot.SeasonalErr != nil {
		return st, fmt.Errorf("%w: seasonal lookup: %v", ErrRuleEvaluationDegraded, in.Snapshot.SeasonalErr)
	}
	rule, ok := SelectSeasonalRule(in.Snapshot.Seasonal, in.Request.TenantID, in.Request.ProductScope(), in.OrderDate, in.Now)
	if !ok {
		return st, nil
	}
	unit := Round2(st.Total.Div(in.Qty()))
	delta, err := rule.Adjust(unit)
	if err != nil {
		return st, fmt.Errorf("%w: %v", ErrRuleEvaluationDegraded, err)
	}
	basis := st.Total
	st.Total = unit.Add(delta).Mul(in.Qty())
	value := st.Total.Sub(basis)

	label := string(rule.Season)
	if rule.MonthRange != nil {
		label = fmt.Sprintf("months %d-%d", rule.MonthRange.Start, rule.MonthRange.End)
	}
	return st.with(Component{
		Type:           ComponentSeasonal,
		Key:            "seasonal:" + string(SeasonOf(in.OrderDate)),
		Description:    fmt.Sprintf("%s %s (%s): %s per unit", rule.AdjustmentType, rule.AdjustmentValue, label, delta),
		Value:          value,
		Basis:          decimalPtr(basis),
		CalculatedFrom: rule.ID,
	}), nil
}
