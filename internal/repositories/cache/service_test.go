package cache

import (
	"context"
	"testing"
	"time"

	"caredit/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*CacheService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheService(client, time.Minute), mr
}

func TestCacheService_AccountRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestCache(t)

	got, err := svc.GetAccount(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, got, "miss returns nil")

	account := &models.Account{ID: 1, UserID: 7, Balance: decimal.RequireFromString("74950.00"), Currency: "XOF"}
	require.NoError(t, svc.CacheAccount(ctx, account, 0))

	got, err = svc.GetAccount(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Balance.Equal(account.Balance))

	require.NoError(t, svc.InvalidateAccount(ctx, 7))
	got, err = svc.GetAccount(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheService_SnapshotReadBeforeInvalidationIsDropped(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestCache(t)

	// a reader takes the generation, then a commit invalidates before the
	// reader writes back its now stale snapshot
	gen, err := svc.AccountGeneration(ctx, 9)
	require.NoError(t, err)
	require.NoError(t, svc.InvalidateAccount(ctx, 9))
	require.NoError(t, svc.CacheAccount(ctx, &models.Account{UserID: 9, Balance: decimal.NewFromInt(1000)}, gen))

	got, err := svc.GetAccount(ctx, 9)
	require.NoError(t, err)
	assert.Nil(t, got, "stale snapshot must not be cached")

	gen, err = svc.AccountGeneration(ctx, 9)
	require.NoError(t, err)
	assert.EqualValues(t, 1, gen)
	require.NoError(t, svc.CacheAccount(ctx, &models.Account{UserID: 9, Balance: decimal.NewFromInt(300)}, gen))
	got, err = svc.GetAccount(ctx, 9)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(300)))
}

func TestCacheService_AccountExpires(t *testing.T) {
	ctx := context.Background()
	svc, mr := newTestCache(t)

	require.NoError(t, svc.CacheAccount(ctx, &models.Account{UserID: 3, Balance: decimal.NewFromInt(10)}, 0))
	mr.FastForward(2 * time.Minute)

	got, err := svc.GetAccount(ctx, 3)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheService_WebhookEvents(t *testing.T) {
	ctx := context.Background()
	svc, mr := newTestCache(t)

	seen, err := svc.SeenEvent(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, svc.MarkEvent(ctx, "evt_1", time.Hour))
	seen, err = svc.SeenEvent(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	mr.FastForward(2 * time.Hour)
	seen, err = svc.SeenEvent(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestCacheService_HealthCheck(t *testing.T) {
	svc, mr := newTestCache(t)
	assert.NoError(t, svc.HealthCheck(context.Background()))

	mr.Close()
	assert.Error(t, svc.HealthCheck(context.Background()))
}
