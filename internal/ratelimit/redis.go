package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisClientProvider is satisfied by caches that carry a shared Redis
// connection.
type RedisClientProvider interface {
	Client() *redis.Client
}

// RedisLimiter implements the sliding window with a Redis sorted set per
// (facility, user): members are scored by timestamp and counted with a
// range query, so the window size can change between calls without losing
// history. Used on the pro tier where multiple instances share one window.
type RedisLimiter struct {
	client *redis.Client
	// Members older than maxAge are trimmed and keys expire after it, so
	// abandoned users do not accumulate.
	maxAge time.Duration
}

func NewRedisLimiter(client *redis.Client, maxAge time.Duration) *RedisLimiter {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &RedisLimiter{client: client, maxAge: maxAge}
}

func (l *RedisLimiter) key(facilityID, userID string) string {
	return fmt.Sprintf("courtyard:actions:%s:%s", facilityID, userID)
}

func (l *RedisLimiter) Record(ctx context.Context, facilityID, userID string, t time.Time) error {
	key := l.key(facilityID, userID)
	pipe := l.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(t.UnixMilli()),
		Member: uuid.New().String(),
	})
	pipe.Expire(ctx, key, l.maxAge)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record action: %w", err)
	}
	return nil
}

func (l *RedisLimiter) Count(ctx context.Context, facilityID, userID string, now time.Time, window time.Duration) (int64, error) {
	key := l.key(facilityID, userID)
	cutoff := now.Add(-window).UnixMilli()
	trim := now.Add(-l.maxAge).UnixMilli()
	pipe := l.client.TxPipeline()
	// Trim by retention age only. Trimming by the caller's window would
	// discard history that a later, wider window still needs.
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", trim))
	count := pipe.ZCount(ctx, key, fmt.Sprintf("%d", cutoff), "+inf")
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return count.Val(), nil
}
