package migrate

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmbeddedSourceIsOrdered(t *testing.T) {
	src, err := Source()
	require.NoError(t, err)
	defer src.Close()

	first, err := src.First()
	require.NoError(t, err)
	require.Equal(t, uint(1), first)

	var versions []uint
	for v := first; ; {
		versions = append(versions, v)
		next, err := src.Next(v)
		if err != nil {
			break
		}
		v = next
	}
	require.Equal(t, []uint{1, 2, 3}, versions)

	for _, v := range versions {
		up, _, err := src.ReadUp(v)
		require.NoError(t, err)
		body, err := io.ReadAll(up)
		require.NoError(t, err)
		_ = up.Close()
		require.True(t, strings.Contains(string(body), "CREATE TABLE"), "version %d", v)

		down, _, err := src.ReadDown(v)
		require.NoError(t, err)
		_ = down.Close()
	}
}

func TestSchemaCoversStores(t *testing.T) {
	raw, err := migrations.ReadFile("sql/000001_pricing_rules.up.sql")
	require.NoError(t, err)
	for _, table := range []string{"price_lists", "price_list_lines", "seasonal_rules", "condition_sets", "condition_rules", "dynamic_formulas", "tax_charges"} {
		require.Contains(t, string(raw), "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}

func TestDatabaseURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@h:5432/db?sslmode=disable", DatabaseURL("postgres://u:p@h:5432/db?sslmode=disable"))
	require.Equal(t, "pgx5://h/db", DatabaseURL("postgresql://h/db"))
	require.Equal(t, "pgx5://h/db", DatabaseURL("pgx5://h/db"))
}
