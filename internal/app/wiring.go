package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-pricing/internal/audit"
	"github.com/odyssey-erp/odyssey-pricing/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-pricing/internal/platform/clock"
	"github.com/odyssey-erp/odyssey-pricing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-pricing/internal/pricing"
	"github.com/odyssey-erp/odyssey-pricing/internal/pricing/formula"
	"github.com/odyssey-erp/odyssey-pricing/internal/pricing/notify"
	"github.com/odyssey-erp/odyssey-pricing/internal/pricing/quotes"
	"github.com/odyssey-erp/odyssey-pricing/internal/pricing/rules"
)

// RuleCacheNamespace prefixes every cached rule key.
const RuleCacheNamespace = "pricing:rules"

// Resources holds the shared connections of a process.
type Resources struct {
	Config *Config
	Logger *slog.Logger
	Pool   *pgxpool.Pool
	Redis  *redis.Client
}

// Open connects to Redis and, when PG_DSN is set, Postgres.
func Open(ctx context.Context, cfg *Config, logger *slog.Logger, appName string) (*Resources, error) {
	res := &Resources{Config: cfg, Logger: logger}
	if cfg.PGDSN != "" {
		pool, err := db.New(ctx, cfg.PGDSN, db.Options{ApplicationName: appName})
		if err != nil {
			return nil, err
		}
		res.Pool = pool
	}
	client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		res.Close()
		return nil, err
	}
	res.Redis = client
	return res, nil
}

// Close releases every connection.
func (r *Resources) Close() {
	if r.Redis != nil {
		if err := r.Redis.Close(); err != nil {
			r.Logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if r.Pool != nil {
		r.Pool.Close()
	}
}

// AsynqRedis returns the asynq connection options for the configured Redis.
func (r *Resources) AsynqRedis() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: r.Config.RedisAddr, Password: r.Config.RedisPassword, DB: r.Config.RedisDB}
}

// RuleStore builds the rule store: Postgres behind the Redis cache, or the
// fixture file loaded into memory when no database is configured. The cached
// store is nil for the in-memory variant.
func (r *Resources) RuleStore() (pricing.RuleStore, *rules.CachedStore, error) {
	if r.Pool == nil {
		store, err := loadFixture(r.Config.RulesFixture)
		if err != nil {
			return nil, nil, err
		}
		r.Logger.Info("rules loaded from fixture", slog.String("path", r.Config.RulesFixture))
		return store, nil, nil
	}
	versioned := cache.NewVersioned(r.Redis, RuleCacheNamespace, r.Config.RuleCacheTTL, r.Logger)
	cached := rules.NewCachedStore(rules.NewPostgresStore(r.Pool), versioned, r.Logger)
	return cached, cached, nil
}

func loadFixture(path string) (*rules.MemoryStore, error) {
	if path == "" {
		return nil, errors.New("RULES_FIXTURE is required without PG_DSN")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rules fixture: %w", err)
	}
	defer f.Close()
	store := rules.NewMemoryStore()
	if err := store.Load(f); err != nil {
		return nil, err
	}
	return store, nil
}

// QuoteStore builds the store selected by QUOTE_STORE.
func (r *Resources) QuoteStore(ctx context.Context, clk clock.Clock) (pricing.QuoteStore, error) {
	switch r.Config.QuoteStore {
	case QuoteStorePostgres:
		if r.Pool == nil {
			return nil, errors.New("postgres quote store requires PG_DSN")
		}
		return quotes.NewPostgresStore(r.Pool, clk), nil
	case QuoteStoreDynamoDB:
		client, err := quotes.NewDynamoClient(ctx, quotes.DynamoConfig{
			Region:          r.Config.AWSRegion,
			Endpoint:        r.Config.DynamoDBEndpoint,
			AccessKeyID:     r.Config.AWSAccessKeyID,
			SecretAccessKey: r.Config.AWSSecretKey,
		})
		if err != nil {
			return nil, err
		}
		return quotes.NewDynamoStore(client, r.Config.DynamoDBTable, clk), nil
	default:
		return quotes.NewRedisStore(r.Redis, clk), nil
	}
}

// Evaluator returns the remote formula client, or the literal evaluator when
// no URL is configured.
func (r *Resources) Evaluator() (pricing.FormulaEvaluator, *formula.Client) {
	if r.Config.FormulaEvaluatorURL == "" {
		return formula.LiteralEvaluator{}, nil
	}
	client := formula.NewClient(r.Config.FormulaEvaluatorURL, r.Config.FormulaEvaluatorTimeout)
	return client, client
}

// Notifier builds the publisher selected by NOTIFY_BACKEND.
func (r *Resources) Notifier(enq notify.Enqueuer) pricing.Notifier {
	var out notify.Fanout
	if r.Config.NotifiesVia(NotifyAsynq) && enq != nil {
		out = append(out, notify.NewAsynqPublisher(enq))
	}
	if r.Config.NotifiesVia(NotifyRedis) {
		out = append(out, notify.NewRedisPublisher(r.Redis, r.Config.NotifyChannel))
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return out
	}
}

// AuditRecorder writes to audit_logs when Postgres is available and to the
// log otherwise.
func (r *Resources) AuditRecorder() audit.Recorder {
	if r.Pool != nil {
		return audit.NewPostgresLogger(r.Pool)
	}
	return audit.NewSlogLogger(r.Logger)
}

// Checks returns the readiness probes of the open connections.
func (r *Resources) Checks(evaluator *formula.Client) map[string]HealthCheck {
	checks := map[string]HealthCheck{
		"redis": func(ctx context.Context) error { return r.Redis.Ping(ctx).Err() },
	}
	if r.Pool != nil {
		checks["postgres"] = r.Pool.Ping
	}
	if evaluator != nil {
		checks["formula"] = evaluator.Ping
	}
	return checks
}

// Signer returns the quote signer, nil when QUOTE_SIGNING_KEY is empty.
func (r *Resources) Signer() (*pricing.Signer, error) {
	return pricing.NewSigner([]byte(r.Config.QuoteSigningKey))
}
