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

type payload struct {
	Total string `json:"total"`
}

func newTestCache(t *testing.T) (*Versioned, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewVersioned(client, "tassa:test", time.Minute), client
}

func TestNewPingsServer(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := New(context.Background(), mr.Addr())
	require.NoError(t, err)
	require.NoError(t, client.Close())
}

func TestFetchJSONCachesUntilBump(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)
	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return payload{Total: "12.00"}, nil
	}

	key, err := c.BuildKey(ctx, "run", "abc")
	require.NoError(t, err)
	require.Equal(t, "tassa:test:run:abc:1", key)

	var got payload
	hit, err := c.FetchJSON(ctx, key, &got, loader)
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, "12.00", got.Total)

	hit, err = c.FetchJSON(ctx, key, &got, loader)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, 1, calls)

	ver, err := c.Bump(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, ver)
	key, err = c.BuildKey(ctx, "run", "abc")
	require.NoError(t, err)
	hit, err = c.FetchJSON(ctx, key, &got, loader)
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, 2, calls)
}

func TestFetchJSONDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	c, client := newTestCache(t)
	boom := errors.New("boom")
	var got payload
	_, err := c.FetchJSON(ctx, "tassa:test:k", &got, func(context.Context) (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	exists, err := client.Exists(ctx, "tassa:test:k").Result()
	require.NoError(t, err)
	require.Zero(t, exists)
}

func TestNilClientPassesThrough(t *testing.T) {
	c := NewVersioned(nil, "tassa", time.Minute)
	var got payload
	hit, err := c.FetchJSON(context.Background(), "k", &got, func(context.Context) (any, error) {
		return payload{Total: "1"}, nil
	})
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, "1", got.Total)
	ver, err := c.Bump(context.Background())
	require.NoError(t, err)
	require.Zero(t, ver)
}

func TestListenForInvalidation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, _ := newTestCache(t)
	bumps := make(chan int64, 1)
	require.NoError(t, c.ListenForInvalidation(ctx, func(v int64) { bumps <- v }))

	_, err := c.Bump(ctx)
	require.NoError(t, err)
	select {
	case v := <-bumps:
		require.EqualValues(t, 1, v)
	case <-time.After(2 * time.Second):
		t.Fatal("bump not received")
	}
}
