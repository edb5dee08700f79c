package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLoaderRequired is returned by FetchJSON without a loader.
var ErrLoaderRequired = errors.New("platform/cache: loader required")

// Versioned is a namespaced JSON cache whose keys embed a global version.
// Bumping the version invalidates every key at once.
type Versioned struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	logger    *slog.Logger

	// local mirrors the Redis version while a listener keeps it current.
	local     atomic.Int64
	listening atomic.Bool
}

// NewVersioned builds a cache under namespace. A nil client disables caching.
func NewVersioned(client *redis.Client, namespace string, ttl time.Duration, logger *slog.Logger) *Versioned {
	if logger == nil {
		logger = slog.Default()
	}
	return &Versioned{client: client, namespace: namespace, ttl: ttl, logger: logger}
}

func (c *Versioned) versionKey() string {
	return c.namespace + ":version"
}

// Channel is the pub/sub channel carrying version bumps.
func (c *Versioned) Channel() string {
	return c.namespace + ".bump"
}

// Version returns the current version, initialising it when missing.
func (c *Versioned) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	if c.listening.Load() {
		if ver := c.local.Load(); ver > 0 {
			return ver, nil
		}
	}
	ver, err := c.client.Get(ctx, c.versionKey()).Int64()
	if errors.Is(err, redis.Nil) || (err == nil && ver <= 0) {
		// SetNX keeps a concurrent Bump from being overwritten.
		if err := c.client.SetNX(ctx, c.versionKey(), 1, 0).Err(); err != nil {
			return 0, err
		}
		if ver, err = c.client.Get(ctx, c.versionKey()).Int64(); err != nil {
			return 0, err
		}
	}
	if err != nil {
		return 0, err
	}
	c.local.Store(ver)
	return ver, nil
}

// BuildKey composes namespace, parts and the current version.
func (c *Versioned) BuildKey(ctx context.Context, parts ...string) (string, error) {
	if c == nil {
		return strings.Join(parts, ":"), nil
	}
	joined := strings.Join(append([]string{c.namespace}, parts...), ":")
	if c.client == nil {
		return joined, nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", joined, ver), nil
}

// FetchJSON loads a cached value into dest or populates it with loader.
// Redis write failures are logged and the loaded value is still returned.
func (c *Versioned) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return ErrLoaderRequired
	}
	if c != nil && c.client != nil {
		payload, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			return json.Unmarshal(payload, dest)
		}
		if !errors.Is(err, redis.Nil) {
			return err
		}
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if c != nil && c.client != nil {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("cache write failed", slog.String("key", key), slog.Any("error", err))
		}
	}
	return json.Unmarshal(raw, dest)
}

// Bump increments the version and announces it to other instances.
func (c *Versioned) Bump(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Incr(ctx, c.versionKey()).Result()
	if err != nil {
		return 0, err
	}
	c.local.Store(ver)
	if err := c.client.Publish(ctx, c.Channel(), strconv.FormatInt(ver, 10)).Err(); err != nil {
		return ver, err
	}
	return ver, nil
}

// ListenForInvalidation follows bumps published by other instances until ctx
// is cancelled. onBump may be nil.
func (c *Versioned) ListenForInvalidation(ctx context.Context, onBump func(version int64)) error {
	if c == nil || c.client == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, c.Channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("platform/cache: subscribe %s: %w", c.Channel(), err)
	}
	c.listening.Store(true)
	go func() {
		defer func() {
			c.listening.Store(false)
			_ = pubsub.Close()
		}()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ver, err := strconv.ParseInt(msg.Payload, 10, 64)
				if err != nil {
					c.logger.Warn("ignoring malformed cache bump", slog.String("payload", msg.Payload))
					continue
				}
				c.local.Store(ver)
				if onBump != nil {
					onBump(ver)
				}
			}
		}
	}()
	return nil
}
