package limiter

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps counters in expiring keys, suited to several service replicas.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	policy Policy
}

// NewRedis constructs a Redis-backed limiter. Keys are namespaced by prefix.
func NewRedis(rdb redis.UniversalClient, prefix string, p Policy) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, policy: p}
}

func (l *Redis) key(kind, subject string, ipHash []byte) string {
	return l.prefix + ":" + kind + ":" + subject + ":" + hex.EncodeToString(ipHash)
}

// Allow reports whether the pair is currently unblocked.
func (l *Redis) Allow(ctx context.Context, subject string, ipHash []byte) (bool, time.Duration, error) {
	ttl, err := l.rdb.PTTL(ctx, l.key("block", subject, ipHash)).Result()
	if err != nil {
		return false, 0, err
	}
	// negative ttl means the key is missing or never expires
	if ttl > 0 {
		return false, ttl, nil
	}
	return true, 0, nil
}

// Success clears the pair's failures and block.
func (l *Redis) Success(ctx context.Context, subject string, ipHash []byte) error {
	return l.rdb.Del(ctx, l.key("fails", subject, ipHash), l.key("block", subject, ipHash)).Err()
}

// Failure counts the attempt within Window and blocks once MaxFails is reached.
func (l *Redis) Failure(ctx context.Context, subject string, ipHash []byte) (bool, time.Duration, error) {
	fk := l.key("fails", subject, ipHash)

	tx := l.rdb.TxPipeline()
	incr := tx.Incr(ctx, fk)
	ttl := tx.PTTL(ctx, fk)
	if _, err := tx.Exec(ctx); err != nil {
		return false, 0, err
	}
	n := incr.Val()
	// a counter without expiry opens a new window, including one left behind
	// by an earlier failed PEXPIRE
	if ttl.Val() < 0 {
		if err := l.rdb.PExpire(ctx, fk, l.policy.Window).Err(); err != nil {
			return false, 0, err
		}
	}
	if n < int64(l.policy.MaxFails) {
		return false, 0, nil
	}

	pipe := l.rdb.TxPipeline()
	pipe.Set(ctx, l.key("block", subject, ipHash), 1, l.policy.BlockFor)
	pipe.Del(ctx, fk)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}
	return true, l.policy.BlockFor, nil
}
