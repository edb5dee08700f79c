package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("QUOTE_STORE", "Postgres")
	t.Setenv("TENANT_ALLOWLIST", "t1,t2")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, QuoteStorePostgres, cfg.QuoteStore)
	require.Equal(t, 24*time.Hour, cfg.QuoteTTL)
	require.Equal(t, []string{"t1", "t2"}, cfg.Tenants)
	require.Equal(t, 5, cfg.WorkerConcurrency)
	require.Equal(t, ":9091", cfg.WorkerMetricsAddr)
	require.True(t, cfg.NotifiesVia(NotifyAsynq))
	require.False(t, cfg.NotifiesVia(NotifyRedis))
}

func TestLoadConfigReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("NOTIFY_BACKEND=both\nQUOTE_TTL=2h\n"), 0o600))
	t.Chdir(dir)
	t.Setenv("QUOTE_TTL", "3h")
	t.Cleanup(func() { _ = os.Unsetenv("NOTIFY_BACKEND") })

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, NotifyBoth, cfg.NotifyBackend)
	require.Equal(t, 3*time.Hour, cfg.QuoteTTL)
	require.True(t, cfg.NotifiesVia(NotifyRedis))
}

func TestLoadConfigRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown store":          {"QUOTE_STORE": "mongo"},
		"unknown notify backend": {"NOTIFY_BACKEND": "kafka"},
		"unsigned production":    {"APP_ENV": "production"},
		"no rules source":        {"PG_DSN": "", "RULES_FIXTURE": ""},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}
