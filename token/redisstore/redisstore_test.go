package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/reduanahmadswe/parcel-delivery-client/internal/errors"
	"github.com/reduanahmadswe/parcel-delivery-client/token"
	"github.com/reduanahmadswe/parcel-delivery-client/token/redisstore"
)

func newRedisStore(t *testing.T, options ...redisstore.Option) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store, err := redisstore.New(rdb, options...)
	require.NoError(t, err)
	return store, mr
}

func TestNewRequiresClient(t *testing.T) {
	_, err := redisstore.New(nil)
	require.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, token.KeyAccessToken, "a1"))

	got, err := store.Get(ctx, token.KeyAccessToken)
	require.NoError(t, err)
	require.Equal(t, "a1", got)

	require.NoError(t, store.Delete(ctx, token.KeyAccessToken))
	_, err = store.Get(ctx, token.KeyAccessToken)
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func TestKeysExpireWithTTL(t *testing.T) {
	store, mr := newRedisStore(t, redisstore.WithTTL(time.Hour))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, token.KeyAccessToken, "a1"))

	mr.FastForward(2 * time.Hour)

	_, err := store.Get(ctx, token.KeyAccessToken)
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func TestUnreachableBackendReturnsStorageError(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()

	_, err := store.Get(context.Background(), token.KeyAccessToken)
	require.ErrorIs(t, err, errors.ErrStorage)
	require.ErrorIs(t, store.Set(context.Background(), token.KeyAccessToken, "a1"), errors.ErrStorage)
}

func TestWatchSeesOtherInstances(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	// Two client processes sharing one Redis.
	rdbA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdbA.Close() })
	rdbB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdbB.Close() })

	storeA, err := redisstore.New(rdbA)
	require.NoError(t, err)
	storeB, err := redisstore.New(rdbB)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := storeA.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, storeB.Set(ctx, token.KeyAccessToken, "a1"))
	select {
	case ev := <-events:
		require.Equal(t, token.KeyAccessToken, ev.Key)
		require.Equal(t, token.EventSet, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a set event from the other instance")
	}

	require.NoError(t, storeB.Delete(ctx, token.KeyAccessToken))
	select {
	case ev := <-events:
		require.Equal(t, token.KeyAccessToken, ev.Key)
		require.Equal(t, token.EventDeleted, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a delete event from the other instance")
	}
}

func TestWatchIgnoresOwnWrites(t *testing.T) {
	store, _ := newRedisStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := store.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, token.KeyAccessToken, "a1"))
	require.NoError(t, store.Delete(ctx, token.KeyAccessToken))

	select {
	case ev := <-events:
		t.Fatalf("own writes must not be reported, got %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDeleteOnMissingKeyPublishesNothing(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdbA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdbA.Close() })
	rdbB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdbB.Close() })

	storeA, err := redisstore.New(rdbA)
	require.NoError(t, err)
	storeB, err := redisstore.New(rdbB)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := storeA.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, storeB.Delete(ctx, token.KeyAccessToken))

	select {
	case ev := <-events:
		t.Fatalf("no-op delete must not be reported, got %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}
