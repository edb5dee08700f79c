package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pricing/internal/audit"
	"github.com/odyssey-erp/odyssey-pricing/internal/platform/clock"
	"github.com/odyssey-erp/odyssey-pricing/internal/pricing/formula"
	"github.com/odyssey-erp/odyssey-pricing/internal/pricing/notify"
	"github.com/odyssey-erp/odyssey-pricing/internal/pricing/quotes"
)

type nopEnqueuer struct{}

func (nopEnqueuer) EnqueueContext(context.Context, *asynq.Task, ...asynq.Option) (*asynq.TaskInfo, error) {
	return &asynq.TaskInfo{}, nil
}

func openTestResources(t *testing.T, cfg *Config) *Resources {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg.RedisAddr = mr.Addr()
	cfg.PGDSN = ""
	res, err := Open(context.Background(), cfg, testLogger(), "pricing-test")
	require.NoError(t, err)
	t.Cleanup(res.Close)
	return res
}

func TestResourcesWithoutDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"price_lists":[{"id":"pl","tenant_id":"t1","active":true,
		"lines":[{"sku":"A","base_price":"1","currency":"EUR","active":true}]}]}`), 0o600))

	res := openTestResources(t, &Config{
		RulesFixture:  path,
		QuoteStore:    QuoteStoreRedis,
		NotifyBackend: NotifyBoth,
	})

	store, cached, err := res.RuleStore()
	require.NoError(t, err)
	require.Nil(t, cached)
	pl, err := store.FindActivePriceList(context.Background(), "t1", time.Now())
	require.NoError(t, err)
	require.Equal(t, "pl", pl.ID)

	qs, err := res.QuoteStore(context.Background(), clock.System{})
	require.NoError(t, err)
	require.IsType(t, &quotes.RedisStore{}, qs)

	eval, client := res.Evaluator()
	require.Nil(t, client)
	require.IsType(t, formula.LiteralEvaluator{}, eval)

	require.IsType(t, notify.Fanout{}, res.Notifier(nopEnqueuer{}))
	require.IsType(t, &audit.SlogLogger{}, res.AuditRecorder())

	checks := res.Checks(nil)
	require.Len(t, checks, 1)
	require.NoError(t, checks["redis"](context.Background()))
}

func TestResourcesNotifierSelection(t *testing.T) {
	res := openTestResources(t, &Config{NotifyBackend: NotifyNone})
	require.Nil(t, res.Notifier(nopEnqueuer{}))

	res.Config.NotifyBackend = NotifyRedis
	require.IsType(t, &notify.RedisPublisher{}, res.Notifier(nil))

	res.Config.NotifyBackend = NotifyAsynq
	require.IsType(t, &notify.AsynqPublisher{}, res.Notifier(nopEnqueuer{}))
	require.Nil(t, res.Notifier(nil))
}

func TestResourcesRejectsPostgresQuotesWithoutPool(t *testing.T) {
	res := openTestResources(t, &Config{QuoteStore: QuoteStorePostgres})
	_, err := res.QuoteStore(context.Background(), nil)
	require.Error(t, err)

	_, _, err = res.RuleStore()
	require.Error(t, err)
}

func TestResourcesSigner(t *testing.T) {
	res := openTestResources(t, &Config{})
	signer, err := res.Signer()
	require.NoError(t, err)
	require.Nil(t, signer)

	res.Config.QuoteSigningKey = "secret"
	signer, err = res.Signer()
	require.NoError(t, err)
	require.NotNil(t, signer)
}
