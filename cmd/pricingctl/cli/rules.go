package cli

import (
	"context"
	"errors"
)

// CacheBumper advances the rule cache version. *cache.Versioned satisfies it.
type CacheBumper interface {
	Bump(ctx context.Context) (int64, error)
}

// RulesCLI manages the shared rule cache.
type RulesCLI struct {
	cache CacheBumper
}

// NewRulesCLI constructs the helper.
func NewRulesCLI(cache CacheBumper) *RulesCLI {
	return &RulesCLI{cache: cache}
}

// Invalidate bumps the cache version so every API instance reloads rules.
func (c *RulesCLI) Invalidate(ctx context.Context) (int64, error) {
	if c == nil || c.cache == nil {
		return 0, errors.New("rules cli: cache not configured")
	}
	return c.cache.Bump(ctx)
}
