package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-pricing/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-pricing/internal/pricing"
)

// CachedStore fronts a RuleStore with a versioned Redis cache. Concurrent
// misses for one key share a single upstream load. Redis failures fall back
// to the upstream store.
type CachedStore struct {
	next   pricing.RuleStore
	cache  *cache.Versioned
	group  singleflight.Group
	logger *slog.Logger
}

// NewCachedStore wraps next.
func NewCachedStore(next pricing.RuleStore, c *cache.Versioned, logger *slog.Logger) *CachedStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{next: next, cache: c, logger: logger}
}

var _ pricing.RuleStore = (*CachedStore)(nil)

// Invalidate drops every cached rule on all instances.
func (s *CachedStore) Invalidate(ctx context.Context) error {
	ver, err := s.cache.Bump(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("rule cache invalidated", slog.Int64("version", ver))
	return nil
}

// Listen follows invalidations published by other instances.
func (s *CachedStore) Listen(ctx context.Context) error {
	return s.cache.ListenForInvalidation(ctx, func(ver int64) {
		s.logger.Debug("rule cache version bumped", slog.Int64("version", ver))
	})
}

type loadError struct{ err error }

func (e loadError) Error() string { return e.err.Error() }
func (e loadError) Unwrap() error { return e.err }

// fetch reads through the cache. Loader errors pass through untouched; any
// other cache error triggers a direct upstream load.
func fetch[T any](ctx context.Context, s *CachedStore, load func(context.Context) (T, error), parts ...string) (T, error) {
	var zero T
	key, err := s.cache.BuildKey(ctx, parts...)
	if err != nil {
		s.logger.Warn("rule cache unavailable", slog.Any("error", err))
		return load(ctx)
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		var out T
		err := s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
			v, err := load(ctx)
			if err != nil {
				return nil, loadError{err}
			}
			return v, nil
		})
		return out, err
	})
	if err != nil {
		var le loadError
		if errors.As(err, &le) {
			return zero, le.err
		}
		s.logger.Warn("rule cache read failed", slog.String("key", key), slog.Any("error", err))
		return load(ctx)
	}
	return v.(T), nil
}

func normalizedKeys(keys []string) string {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// CandidateSource lists every active rule not yet expired at the given time,
// future-dated ones included. CachedStore caches candidates and selects the
// rule in force at each call, so a cached entry stays correct across a
// validity boundary.
type CandidateSource interface {
	PriceListCandidates(ctx context.Context, tenantID string, at time.Time) ([]pricing.PriceList, error)
	FormulaCandidates(ctx context.Context, tenantID, scope string, at time.Time) ([]pricing.DynamicFormula, error)
}

// FindActivePriceList caches the tenant's candidate lists and selects the one
// valid at at. Upstreams without candidates are read directly.
func (s *CachedStore) FindActivePriceList(ctx context.Context, tenantID string, at time.Time) (pricing.PriceList, error) {
	src, ok := s.next.(CandidateSource)
	if !ok {
		return s.next.FindActivePriceList(ctx, tenantID, at)
	}
	lists, err := fetch(ctx, s, func(ctx context.Context) ([]pricing.PriceList, error) {
		return src.PriceListCandidates(ctx, tenantID, at)
	}, "pricelists", tenantID)
	if err != nil {
		return pricing.PriceList{}, err
	}
	list, ok := pricing.SelectPriceList(lists, at)
	if !ok {
		return pricing.PriceList{}, fmt.Errorf("%w: no active price list for tenant %s", pricing.ErrRuleNotFound, tenantID)
	}
	return list, nil
}

// FindSeasonalRules caches per tenant and scope.
func (s *CachedStore) FindSeasonalRules(ctx context.Context, tenantID string, scope pricing.ProductScope, at time.Time) ([]pricing.SeasonalRule, error) {
	return fetch(ctx, s, func(ctx context.Context) ([]pricing.SeasonalRule, error) {
		return s.next.FindSeasonalRules(ctx, tenantID, scope, at)
	}, "seasonal", tenantID, scope.ProductID, strings.ToLower(scope.Commodity), strings.ToLower(scope.Category))
}

// FindConditionSets caches per tenant and key set.
func (s *CachedStore) FindConditionSets(ctx context.Context, tenantID string, keys []string, at time.Time) ([]pricing.ConditionSet, error) {
	return fetch(ctx, s, func(ctx context.Context) ([]pricing.ConditionSet, error) {
		return s.next.FindConditionSets(ctx, tenantID, keys, at)
	}, "conditions", tenantID, normalizedKeys(keys))
}

// FindDynamicFormula caches candidates per tenant and scope, including an
// empty set, and selects the formula valid at at.
func (s *CachedStore) FindDynamicFormula(ctx context.Context, tenantID, scope string, at time.Time) (*pricing.DynamicFormula, error) {
	src, ok := s.next.(CandidateSource)
	if !ok {
		return s.next.FindDynamicFormula(ctx, tenantID, scope, at)
	}
	formulas, err := fetch(ctx, s, func(ctx context.Context) ([]pricing.DynamicFormula, error) {
		return src.FormulaCandidates(ctx, tenantID, scope, at)
	}, "formulas", tenantID, scope)
	if err != nil {
		return nil, err
	}
	return pricing.SelectFormula(formulas, scope, at), nil
}

// FindCharges caches per tenant and lookup scope.
func (s *CachedStore) FindCharges(ctx context.Context, tenantID string, scope pricing.ChargeLookup, at time.Time) ([]pricing.TaxChargeRef, error) {
	return fetch(ctx, s, func(ctx context.Context) ([]pricing.TaxChargeRef, error) {
		return s.next.FindCharges(ctx, tenantID, scope, at)
	}, "charges", tenantID, scope.SKU, strings.ToLower(scope.Commodity))
}

// FindTax caches per tenant and lookup scope.
func (s *CachedStore) FindTax(ctx context.Context, tenantID string, scope pricing.ChargeLookup, at time.Time) ([]pricing.TaxChargeRef, error) {
	return fetch(ctx, s, func(ctx context.Context) ([]pricing.TaxChargeRef, error) {
		return s.next.FindTax(ctx, tenantID, scope, at)
	}, "tax", tenantID, scope.SKU, strings.ToLower(scope.Commodity))
}
