package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err, "failed to start miniredis")

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRedis_BlocksAfterMaxFails(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	ctx := context.Background()
	l := NewRedis(rdb, "limiter", Policy{Window: time.Minute, MaxFails: 3, BlockFor: 5 * time.Minute})
	ip := HashIP("10.0.0.1")

	for i := 0; i < 2; i++ {
		blocked, _, err := l.Failure(ctx, "alice", ip)
		require.NoError(t, err)
		require.False(t, blocked)
	}
	ok, _, err := l.Allow(ctx, "alice", ip)
	require.NoError(t, err)
	require.True(t, ok)

	blocked, retry, err := l.Failure(ctx, "alice", ip)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, 5*time.Minute, retry)

	ok, retry, err = l.Allow(ctx, "alice", ip)
	require.NoError(t, err)
	require.False(t, ok)
	require.Positive(t, retry)

	// other address is unaffected
	ok, _, err = l.Allow(ctx, "alice", HashIP("10.0.0.2"))
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(6 * time.Minute)
	ok, _, err = l.Allow(ctx, "alice", ip)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedis_WindowExpiresFailures(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	ctx := context.Background()
	l := NewRedis(rdb, "limiter", Policy{Window: time.Minute, MaxFails: 2, BlockFor: time.Minute})
	ip := HashIP("10.0.0.1")

	_, _, err := l.Failure(ctx, "bob", ip)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	blocked, _, err := l.Failure(ctx, "bob", ip)
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestRedis_SuccessResets(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	ctx := context.Background()
	l := NewRedis(rdb, "limiter", Policy{Window: time.Minute, MaxFails: 1, BlockFor: time.Hour})
	ip := HashIP("10.0.0.1")

	blocked, _, err := l.Failure(ctx, "carol", ip)
	require.NoError(t, err)
	require.True(t, blocked)

	require.NoError(t, l.Success(ctx, "carol", ip))
	ok, _, err := l.Allow(ctx, "carol", ip)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedis_ConnectionError(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	l := NewRedis(rdb, "limiter", DefaultPolicy)

	_, _, err := l.Allow(context.Background(), "alice", nil)
	require.Error(t, err)
}

func TestRedis_FailureRestoresMissingExpiry(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	ctx := context.Background()
	l := NewRedis(rdb, "limiter", Policy{Window: time.Minute, MaxFails: 5, BlockFor: time.Minute})
	ip := HashIP("10.0.0.2")
	fk := l.key("fails", "dave", ip)

	// counter left without a TTL
	require.NoError(t, mr.Set(fk, "2"))
	require.Zero(t, mr.TTL(fk))

	blocked, _, err := l.Failure(ctx, "dave", ip)
	require.NoError(t, err)
	require.False(t, blocked)
	require.Equal(t, time.Minute, mr.TTL(fk))

	mr.FastForward(2 * time.Minute)
	require.False(t, mr.Exists(fk))
}
