package idempotency_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/idempotency"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/messaging"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/telemetry"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*idempotency.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return idempotency.NewRedisStore(rdb, ttl), mr
}

func TestRedisStoreExpiresKeys(t *testing.T) {
	store, mr := newRedisStore(t, time.Hour)
	ctx := context.Background()

	seen, err := store.Seen(ctx, "phone-service:OrderCreated:1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.Mark(ctx, "phone-service:OrderCreated:1"))
	seen, err = store.Seen(ctx, "phone-service:OrderCreated:1")
	require.NoError(t, err)
	assert.True(t, seen)

	mr.FastForward(2 * time.Hour)
	seen, err = store.Seen(ctx, "phone-service:OrderCreated:1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisStoreSurfacesOutage(t *testing.T) {
	store, mr := newRedisStore(t, time.Hour)
	mr.Close()

	_, err := store.Seen(context.Background(), "k")
	assert.Error(t, err)
}

func TestMiddlewareSkipsRedelivery(t *testing.T) {
	store, _ := newRedisStore(t, time.Hour)
	metrics := telemetry.NewNopMetrics("phone-service")

	calls := 0
	h := messaging.Chain(func(context.Context, messaging.Envelope) error {
		calls++
		return nil
	}, idempotency.Middleware("phone-service", store, nil, metrics))

	env := messaging.NewEnvelope(messaging.BrandUpdated{ID: 1, Name: "Apple"}, "phone-service")
	require.NoError(t, h(context.Background(), env))
	require.NoError(t, h(context.Background(), env))
	assert.Equal(t, 1, calls)

	other := messaging.NewEnvelope(messaging.BrandUpdated{ID: 1, Name: "Apple"}, "phone-service")
	require.NoError(t, h(context.Background(), other))
	assert.Equal(t, 2, calls)
}

func TestMiddlewareDoesNotMarkFailures(t *testing.T) {
	store := idempotency.NewMemoryStore(time.Hour)
	fail := true
	calls := 0
	h := idempotency.Middleware("payment-service", store, nil, nil)(func(context.Context, messaging.Envelope) error {
		calls++
		if fail {
			return errors.New("db down")
		}
		return nil
	})

	env := messaging.NewEnvelope(messaging.BrandUpdated{ID: 1, Name: "x"}, "s")
	require.Error(t, h(context.Background(), env))
	fail = false
	require.NoError(t, h(context.Background(), env))
	require.NoError(t, h(context.Background(), env))
	assert.Equal(t, 2, calls)
}

func TestKeyIsScopedToService(t *testing.T) {
	env := messaging.NewEnvelope(messaging.BrandUpdated{ID: 1, Name: "x"}, "s")
	assert.NotEqual(t, idempotency.Key("a", env), idempotency.Key("b", env))
	assert.Equal(t, "a:BrandUpdated:"+env.ID.String(), idempotency.Key("a", env))
}
