package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Versioned, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewVersioned(client, "test", time.Minute, nil), mr
}

func TestFetchJSONCachesUntilBump(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return map[string]int{"calls": calls}, nil
	}

	key, err := c.BuildKey(ctx, "rules", "t1")
	require.NoError(t, err)
	require.Equal(t, "test:rules:t1:1", key)

	var got map[string]int
	require.NoError(t, c.FetchJSON(ctx, key, &got, loader))
	require.NoError(t, c.FetchJSON(ctx, key, &got, loader))
	require.Equal(t, 1, calls)
	require.Equal(t, 1, got["calls"])

	ver, err := c.Bump(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, ver)

	key, err = c.BuildKey(ctx, "rules", "t1")
	require.NoError(t, err)
	require.NoError(t, c.FetchJSON(ctx, key, &got, loader))
	require.Equal(t, 2, calls)
}

func TestFetchJSONPropagatesLoaderError(t *testing.T) {
	c, _ := newTestCache(t)
	boom := errors.New("boom")
	var dest map[string]any
	err := c.FetchJSON(context.Background(), "k", &dest, func(context.Context) (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, c.FetchJSON(context.Background(), "k", &dest, nil), ErrLoaderRequired)
}

func TestNilClientBypassesCache(t *testing.T) {
	c := NewVersioned(nil, "test", time.Minute, nil)
	ctx := context.Background()
	key, err := c.BuildKey(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "test:a", key)

	var got []string
	require.NoError(t, c.FetchJSON(ctx, key, &got, func(context.Context) (any, error) { return []string{"x"}, nil }))
	require.Equal(t, []string{"x"}, got)
	_, err = c.Bump(ctx)
	require.NoError(t, err)
}

func TestListenForInvalidationFollowsPeers(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return client
	}
	local := NewVersioned(newClient(), "test", time.Minute, nil)
	peer := NewVersioned(newClient(), "test", time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bumps := make(chan int64, 1)
	require.NoError(t, local.ListenForInvalidation(ctx, func(v int64) { bumps <- v }))

	_, err := local.Version(ctx)
	require.NoError(t, err)
	_, err = peer.Bump(ctx)
	require.NoError(t, err)

	select {
	case v := <-bumps:
		require.EqualValues(t, 2, v)
	case <-time.After(2 * time.Second):
		t.Fatal("bump not received")
	}
	ver, err := local.Version(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, ver)
}
