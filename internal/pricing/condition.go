package pricing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ConditionInput carries the request attributes condition rules match on.
type ConditionInput struct {
	SKU     string
	Qty     decimal.Decimal
	Channel string
	Keys    []string
	Now     time.Time
}

// AppliesTo reports whether the rule qualifies for the input.
func (r ConditionRule) AppliesTo(in ConditionInput) (bool, error) {
	switch r.Scope {
	case RuleScopeAll:
	case RuleScopeSKU:
		if r.Selector != in.SKU {
			return false, nil
		}
	default:
		return false, fmt.Errorf("%w: unknown scope %q on condition rule %s", ErrInvalidRule, r.Scope, r.ID)
	}
	if r.MinQty != nil && in.Qty.LessThan(*r.MinQty) {
		return false, nil
	}
	if r.MaxQty != nil && in.Qty.GreaterThan(*r.MaxQty) {
		return false, nil
	}
	if !channelMatches(r.Channel, in.Channel) {
		return false, nil
	}
	return r.ValidAt(in.Now), nil
}

func channelMatches(rule, requested string) bool {
	rule = strings.TrimSpace(rule)
	return rule == "" || strings.EqualFold(rule, "ALL") || strings.EqualFold(rule, requested)
}

// Adjustment computes the rule delta. PCT rules use basis.
func (r ConditionRule) Adjustment(qty, basis decimal.Decimal) (decimal.Decimal, error) {
	switch r.Method {
	case MethodAbsolute:
		return r.Value.Mul(qty), nil
	case MethodPercent:
		return percentOf(r.Value, basis), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown method %q on condition rule %s", ErrInvalidRule, r.Method, r.ID)
	}
}

// strategyFor resolves the rule level stackable override.
func (s ConditionSet) strategyFor(r ConditionRule) (ConflictStrategy, error) {
	if r.Stackable != nil {
		if *r.Stackable {
			return StrategyStack, nil
		}
		return StrategyMaxWins, nil
	}
	switch s.ConflictStrategy {
	case StrategyStack, StrategyMaxWins:
		return s.ConflictStrategy, nil
	default:
		return "", fmt.Errorf("%w: unknown conflict strategy %q on condition set %s", ErrInvalidRule, s.ConflictStrategy, s.ID)
	}
}

func hasKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// OrderConditionSets keeps applicable sets, highest priority first.
func OrderConditionSets(sets []ConditionSet, tenantID string, keys []string, now time.Time) []ConditionSet {
	out := make([]ConditionSet, 0, len(sets))
	for _, set := range sets {
		if set.TenantID != tenantID || !set.Active || !set.ValidAt(now) || !hasKey(keys, set.Key) {
			continue
		}
		out = append(out, set)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type contribution struct {
	order     int
	component Component
	value     decimal.Decimal
}

// ResolveConditions combines the qualifying rules of every set. Sets add up in
// priority order. Inside a set, stacking rules are summed and max-wins rules
// compete for the single largest magnitude. PCT rules use the running total
// plus everything accumulated so far as their basis.
func ResolveConditions(sets []ConditionSet, in ConditionInput, total decimal.Decimal) (decimal.Decimal, []Component, error) {
	accumulated := decimal.Zero
	var comps []Component
	for _, set := range sets {
		var (
			picked []contribution
			best   *contribution
		)
		for i, rule := range set.Rules {
			ok, err := rule.AppliesTo(in)
			if err != nil {
				return decimal.Zero, nil, err
			}
			if !ok {
				continue
			}
			strategy, err := set.strategyFor(rule)
			if err != nil {
				return decimal.Zero, nil, err
			}
			basis := total.Add(accumulated)
			adj, err := rule.Adjustment(in.Qty, basis)
			if err != nil {
				return decimal.Zero, nil, err
			}
			c := contribution{order: i, value: adj, component: Component{
				Type:           ComponentCondition,
				Key:            conditionKey(set, rule),
				Description:    conditionDescription(rule),
				Value:          adj,
				Basis:          decimalPtr(basis),
				CalculatedFrom: rule.ID,
			}}
			switch strategy {
			case StrategyStack:
				accumulated = accumulated.Add(adj)
				picked = append(picked, c)
			case StrategyMaxWins:
				if best == nil || adj.Abs().GreaterThan(best.value.Abs()) {
					cc := c
					best = &cc
				}
			}
		}
		if best != nil {
			accumulated = accumulated.Add(best.value)
			picked = append(picked, *best)
		}
		sort.SliceStable(picked, func(i, j int) bool { return picked[i].order < picked[j].order })
		for _, p := range picked {
			comps = append(comps, p.component)
		}
	}
	return accumulated, comps, nil
}

func conditionKey(set ConditionSet, rule ConditionRule) string {
	if rule.Type != "" {
		return set.Key + ":" + rule.Type
	}
	return set.Key
}

func conditionDescription(rule ConditionRule) string {
	if rule.Description != "" {
		return rule.Description
	}
	switch rule.Method {
	case MethodPercent:
		return fmt.Sprintf("%s%% %s", rule.Value, strings.ToLower(rule.Type))
	default:
		return fmt.Sprintf("%s per unit %s", rule.Value, strings.ToLower(rule.Type))
	}
}

// RunConditions applies customer and segment conditions.
func RunConditions(_ context.Context, in Input, st State) (State, error) {
	keys := in.Request.ConditionKeys()
	sets := OrderConditionSets(in.Snapshot.ConditionSets, in.Request.TenantID, keys, in.Now)
	if len(sets) == 0 {
		return st, nil
	}
	adj, comps, err := ResolveConditions(sets, ConditionInput{
		SKU:     in.Request.SKU,
		Qty:     in.Qty(),
		Channel: in.Request.Channel,
		Keys:    keys,
		Now:     in.Now,
	}, st.Total)
	if err != nil {
		return st, err
	}
	for _, c := range comps {
		st = st.with(c)
	}
	st.Total = st.Total.Add(adj)
	return st, nil
}
