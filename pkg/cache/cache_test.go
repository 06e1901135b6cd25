package cache

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

	"github.com/ice-blockpad/buzznob-sub000/pkg/keyvalue"
)

type profile struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

func newTestFacade(t *testing.T) (*Facade, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	store := keyvalue.NewStoreWithClient(client, logger)
	return New(store, logger, 5*time.Minute), mr
}

func TestGetOrSetReadThrough(t *testing.T) {
	facade, _ := newTestFacade(t)
	ctx := context.Background()

	calls := 0
	fetch := func(ctx context.Context) (interface{}, error) {
		calls++
		return &profile{Name: "ada", Points: 42}, nil
	}

	var first profile
	found, err := facade.GetOrSet(ctx, ProfileKey("u1"), &first, time.Minute, fetch)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, profile{Name: "ada", Points: 42}, first)

	var second profile
	found, err = facade.GetOrSet(ctx, ProfileKey("u1"), &second, time.Minute, fetch)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls, "a populated cache must not invoke the fetch callback again")
}

func TestGetOrSetFetchErrorPropagates(t *testing.T) {
	facade, mr := newTestFacade(t)
	ctx := context.Background()

	fetchErr := errors.New("source of truth unavailable")
	var dest profile
	found, err := facade.GetOrSet(ctx, ProfileKey("u1"), &dest, time.Minute, func(ctx context.Context) (interface{}, error) {
		return nil, fetchErr
	})
	assert.False(t, found)
	assert.ErrorIs(t, err, fetchErr)
	assert.False(t, mr.Exists(ProfileKey("u1")), "a failed fetch must not populate the cache")
}

func TestGetOrSetNilResultNotCached(t *testing.T) {
	facade, mr := newTestFacade(t)
	ctx := context.Background()

	var dest profile
	found, err := facade.GetOrSet(ctx, ProfileKey("missing"), &dest, time.Minute, func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, mr.Exists(ProfileKey("missing")))
}

func TestWriteThroughFreshness(t *testing.T) {
	facade, mr := newTestFacade(t)
	ctx := context.Background()

	err := facade.WriteThrough(ctx, WalletKey("u1"), 10*time.Second, func(ctx context.Context) (interface{}, error) {
		return map[string]int{"balance": 100}, nil
	})
	require.NoError(t, err)

	// Fresh data is visible immediately, with no absent window.
	var wallet map[string]int
	found, err := facade.GetOrSet(ctx, WalletKey("u1"), &wallet, 10*time.Second, func(ctx context.Context) (interface{}, error) {
		t.Fatal("write-through must serve the read without a recompute")
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 100, wallet["balance"])

	// Past the TTL the entry is gone.
	mr.FastForward(11 * time.Second)
	assert.False(t, mr.Exists(WalletKey("u1")))
}

func TestWriteThroughFallsBackToDelete(t *testing.T) {
	facade, mr := newTestFacade(t)
	ctx := context.Background()

	facade.Set(ctx, WalletKey("u1"), map[string]int{"balance": 50}, time.Minute)
	require.True(t, mr.Exists(WalletKey("u1")))

	refreshErr := errors.New("recompute failed")
	err := facade.WriteThrough(ctx, WalletKey("u1"), time.Minute, func(ctx context.Context) (interface{}, error) {
		return nil, refreshErr
	})
	assert.ErrorIs(t, err, refreshErr)
	assert.False(t, mr.Exists(WalletKey("u1")), "a failed refresh must delete the key, not leave it stale")
}

func TestWriteThroughNilDeletes(t *testing.T) {
	facade, mr := newTestFacade(t)
	ctx := context.Background()

	facade.Set(ctx, ProfileKey("u1"), profile{Name: "ada"}, time.Minute)
	err := facade.WriteThrough(ctx, ProfileKey("u1"), time.Minute, func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(ProfileKey("u1")))
}

func TestGetOrSetFailOpenOnTransportLoss(t *testing.T) {
	facade, mr := newTestFacade(t)
	ctx := context.Background()
	mr.Close()

	var dest profile
	found, err := facade.GetOrSet(ctx, ProfileKey("u1"), &dest, time.Minute, func(ctx context.Context) (interface{}, error) {
		return &profile{Name: "ada", Points: 7}, nil
	})
	require.NoError(t, err, "cache loss must not fail the read path")
	assert.True(t, found)
	assert.Equal(t, profile{Name: "ada", Points: 7}, dest)
}

func TestUndecodablePayloadIsAMiss(t *testing.T) {
	facade, mr := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(ProfileKey("u1"), "{not json"))
	mr.SetTTL(ProfileKey("u1"), time.Minute)

	calls := 0
	var dest profile
	found, err := facade.GetOrSet(ctx, ProfileKey("u1"), &dest, time.Minute, func(ctx context.Context) (interface{}, error) {
		calls++
		return &profile{Name: "ada"}, nil
	})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, calls, "an undecodable payload must fall through to the source of truth")
	assert.Equal(t, "ada", dest.Name)
}
