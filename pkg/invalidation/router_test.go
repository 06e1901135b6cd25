package invalidation

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ice-blockpad/buzznob-sub000/pkg/cache"
	"github.com/ice-blockpad/buzznob-sub000/pkg/keyvalue"
)

func newTestRouter(t *testing.T) (*Router, *cache.Facade, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	facade := cache.New(keyvalue.NewStoreWithClient(client, logger), logger, 5*time.Minute)
	return NewRouter(facade, logger), facade, mr
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	router, _, _ := newTestRouter(t)
	route := func(Args) ([]Refresh, []string) { return nil, nil }

	require.NoError(t, router.Register("points_changed", route))
	assert.Error(t, router.Register("points_changed", route))
	assert.Error(t, router.Register("nil_route", nil))
}

func TestTriggerUnknownEvent(t *testing.T) {
	router, _, _ := newTestRouter(t)
	err := router.Trigger(context.Background(), "no_such_event", nil)
	assert.Error(t, err)
}

func TestTriggerRefreshesAndDeletes(t *testing.T) {
	router, facade, mr := newTestRouter(t)
	ctx := context.Background()

	facade.Set(ctx, cache.ListKey("article", "c0", 20, "none"), []int{1, 2}, time.Minute)
	facade.Set(ctx, cache.ListKey("article", "c1", 20, "none"), []int{3}, time.Minute)

	require.NoError(t, router.Register("points_changed", func(args Args) ([]Refresh, []string) {
		userID := args["user_id"]
		return []Refresh{{
			Key: cache.ProfileKey(userID),
			TTL: time.Minute,
			Fresh: func(ctx context.Context) (interface{}, error) {
				return map[string]int{"points": 99}, nil
			},
		}}, []string{cache.ListPattern("article")}
	}))

	require.NoError(t, router.Trigger(ctx, "points_changed", Args{"user_id": "u1"}))

	// The hot entity key is refreshed in place.
	var fresh map[string]int
	found, err := facade.GetOrSet(ctx, cache.ProfileKey("u1"), &fresh, time.Minute, func(ctx context.Context) (interface{}, error) {
		t.Fatal("refreshed key must be served from cache")
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 99, fresh["points"])

	// The listing fan-out is dropped by pattern.
	assert.False(t, mr.Exists(cache.ListKey("article", "c0", 20, "none")))
	assert.False(t, mr.Exists(cache.ListKey("article", "c1", 20, "none")))
}

func TestFailureIsolationBetweenRefreshes(t *testing.T) {
	router, facade, mr := newTestRouter(t)
	ctx := context.Background()

	facade.Set(ctx, cache.ProfileKey("a"), map[string]int{"points": 1}, time.Minute)

	require.NoError(t, router.Register("batch_update", func(Args) ([]Refresh, []string) {
		return []Refresh{
			{
				Key: cache.ProfileKey("a"),
				TTL: time.Minute,
				Fresh: func(ctx context.Context) (interface{}, error) {
					return nil, errors.New("entity A recompute failed")
				},
			},
			{
				Key: cache.ProfileKey("b"),
				TTL: time.Minute,
				Fresh: func(ctx context.Context) (interface{}, error) {
					return map[string]int{"points": 2}, nil
				},
			},
		}, nil
	}))

	// A's failure must not surface to the mutation path nor block B.
	require.NoError(t, router.Trigger(ctx, "batch_update", nil))

	assert.False(t, mr.Exists(cache.ProfileKey("a")), "failed refresh falls back to delete")
	assert.True(t, mr.Exists(cache.ProfileKey("b")), "sibling refresh must still run")
}

func TestDeleteOnlyRoute(t *testing.T) {
	router, facade, mr := newTestRouter(t)
	ctx := context.Background()

	facade.Set(ctx, cache.WalletKey("u1"), map[string]int{"balance": 10}, time.Minute)
	require.NoError(t, router.Register("wallet_adjusted", func(args Args) ([]Refresh, []string) {
		return []Refresh{{Key: cache.WalletKey(args["user_id"])}}, nil
	}))

	require.NoError(t, router.Trigger(ctx, "wallet_adjusted", Args{"user_id": "u1"}))
	assert.False(t, mr.Exists(cache.WalletKey("u1")))
}

func TestEvents(t *testing.T) {
	router, _, _ := newTestRouter(t)
	require.NoError(t, router.Register("a", func(Args) ([]Refresh, []string) { return nil, nil }))
	require.NoError(t, router.Register("b", func(Args) ([]Refresh, []string) { return nil, nil }))
	assert.ElementsMatch(t, []string{"a", "b"}, router.Events())
}
