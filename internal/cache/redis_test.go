package cache

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-band-lab/internal/domain"
)

func setupCache(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCache(client, ttl)
	t.Cleanup(func() { c.Close() })

	return c, mr
}

func TestRedisCache_Miss(t *testing.T) {
	c, _ := setupCache(t, time.Minute)

	_, err := c.Get(context.Background(), "absent")
	assert.True(t, errors.Is(err, ErrMiss))
}

func TestRedisCache_RoundTripKeepsUndefined(t *testing.T) {
	c, mr := setupCache(t, time.Minute)
	ctx := context.Background()

	obs := &domain.Observation{GroupKey: "A", ParentKey: "P", TimestampMs: 1000, Price: 10}
	rows := []*domain.BandRow{{
		Observation: obs, Key: "A", TimestampMs: 1000, Price: 10,
		CoarsePrice: math.NaN(), Center: 10, CenterAlt: 10, Spread: math.NaN(),
		Lower: math.NaN(), Upper: math.NaN(), PrevLower: math.NaN(), PrevUpper: math.NaN(),
	}}

	require.NoError(t, c.Set(ctx, "run", rows))
	assert.True(t, mr.Exists(Key("run")))
	assert.Equal(t, time.Minute, mr.TTL(Key("run")))

	got, err := c.Get(ctx, "run")
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, "A", got[0].Key)
	assert.Equal(t, "P", got[0].Observation.ParentKey)
	assert.Equal(t, 10.0, got[0].Center)
	assert.True(t, math.IsNaN(got[0].Spread))
	assert.True(t, math.IsNaN(got[0].PrevUpper))
	assert.False(t, got[0].InBand)
}

func TestRedisCache_Expires(t *testing.T) {
	c, mr := setupCache(t, time.Second)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "run", []*domain.BandRow{}))
	mr.FastForward(2 * time.Second)

	_, err := c.Get(ctx, "run")
	assert.True(t, errors.Is(err, ErrMiss))
}

func TestNewRedisCache_DefaultTTL(t *testing.T) {
	c := NewRedisCache(nil, 0)
	assert.Equal(t, DefaultTTL, c.ttl)
}
