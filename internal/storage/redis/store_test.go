package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/SentientTree/internal/blackboard"
	"github.com/AaronLay10/SentientTree/internal/storage/redis"
)

func newStore(t *testing.T, opts ...redis.Option) (*redis.Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	store := redis.NewFromClient(client, opts...)
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestStore_RoundTrip(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	_, err := store.LoadEntries(ctx, "guard")
	assert.True(t, errors.Is(err, blackboard.ErrNoSnapshot))

	bb := blackboard.New()
	bb.Set("hp", 42)
	bb.Set("route", []string{"a", "b"})
	bb.Set("cooldown", 2*time.Second)
	require.NoError(t, blackboard.Save(ctx, store, "guard", bb))

	restored := blackboard.New()
	n, err := blackboard.Load(ctx, store, "guard", restored)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"hp", "route", "cooldown"}, restored.Keys())
	assert.Equal(t, 42, blackboard.Get[int](restored, "hp"))
	assert.Equal(t, []string{"a", "b"}, blackboard.Get[[]string](restored, "route"))
	assert.Equal(t, 2*time.Second, blackboard.Get[time.Duration](restored, "cooldown"))
}

func TestStore_EmptySnapshot(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveEntries(ctx, "empty", nil))
	entries, err := store.LoadEntries(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_PrefixAndTTL(t *testing.T) {
	store, mr := newStore(t, redis.WithPrefix("test:"), redis.WithTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, store.SaveEntries(ctx, "a", nil))
	assert.True(t, mr.Exists("test:a"))
	assert.Equal(t, time.Minute, mr.TTL("test:a"))

	scopes, err := store.Scopes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, scopes)

	mr.FastForward(2 * time.Minute)
	scopes, err = store.Scopes(ctx)
	require.NoError(t, err)
	assert.Empty(t, scopes)
}

func TestStore_Delete(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveEntries(ctx, "a", nil))
	require.NoError(t, store.Delete(ctx, "a"))

	_, err := store.LoadEntries(ctx, "a")
	assert.ErrorIs(t, err, blackboard.ErrNoSnapshot)
	require.NoError(t, store.Ping(ctx))
}
