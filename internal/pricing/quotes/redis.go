package quotes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-pricing/internal/platform/clock"
	"github.com/odyssey-erp/odyssey-pricing/internal/pricing"
)

const redisKeyPrefix = "pricing:quote"

// RedisStore keeps quotes as JSON with a key TTL matching ExpiresAt.
type RedisStore struct {
	client *redis.Client
	clock  clock.Clock
}

// NewRedisStore constructs the store.
func NewRedisStore(client *redis.Client, clk clock.Clock) *RedisStore {
	if clk == nil {
		clk = clock.System{}
	}
	return &RedisStore{client: client, clock: clk}
}

var _ pricing.QuoteStore = (*RedisStore)(nil)

func redisKey(tenantID string, id uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s", redisKeyPrefix, tenantID, id)
}

// Save writes the quote once. A quote already past ExpiresAt is rejected.
func (s *RedisStore) Save(ctx context.Context, q pricing.Quote) (pricing.Quote, error) {
	ttl := q.ExpiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		return pricing.Quote{}, fmt.Errorf("quotes: quote %s already expired", q.ID)
	}
	raw, err := json.Marshal(q)
	if err != nil {
		return pricing.Quote{}, fmt.Errorf("quotes: encode: %w", err)
	}
	ok, err := s.client.SetNX(ctx, redisKey(q.TenantID, q.ID), raw, ttl).Result()
	if err != nil {
		return pricing.Quote{}, fmt.Errorf("quotes: redis set: %w", err)
	}
	if !ok {
		return pricing.Quote{}, fmt.Errorf("%w: %s", ErrDuplicateQuote, q.ID)
	}
	return q, nil
}

// FindByID loads a quote, treating expired entries as absent.
func (s *RedisStore) FindByID(ctx context.Context, tenantID string, id uuid.UUID) (pricing.Quote, error) {
	raw, err := s.client.Get(ctx, redisKey(tenantID, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return pricing.Quote{}, pricing.ErrQuoteNotFound
		}
		return pricing.Quote{}, fmt.Errorf("quotes: redis get: %w", err)
	}
	var q pricing.Quote
	if err := json.Unmarshal(raw, &q); err != nil {
		return pricing.Quote{}, fmt.Errorf("quotes: decode: %w", err)
	}
	return visible(q, tenantID, s.clock)
}
