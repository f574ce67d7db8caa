package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "ratelimit:"

// slidingWindowScript purges hits older than the cutoff and adds one if the key is
// under max. Scores are unix microseconds, passed as strings to keep full precision.
//
//	KEYS[1] window key
//	ARGV[1] exclusive cutoff, ARGV[2] now, ARGV[3] max, ARGV[4] member, ARGV[5] ttl ms
var slidingWindowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) < tonumber(ARGV[3]) then
  redis.call('ZADD', KEYS[1], ARGV[2], ARGV[4])
  redis.call('PEXPIRE', KEYS[1], ARGV[5])
  return 1
end
return 0
`)

// RedisLimiter stores attempts in one sorted set per key so that several API
// instances share the same budget.
type RedisLimiter struct {
	client *redis.Client
	now    func() time.Time
	logger *zap.Logger
}

// NewRedisLimiter creates a new RedisLimiter instance
func NewRedisLimiter(client *redis.Client, logger *zap.Logger) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock replaces the limiter's time source
func (l *RedisLimiter) WithClock(now func() time.Time) *RedisLimiter {
	l.now = now
	return l
}

// Allow implements Limiter
func (l *RedisLimiter) Allow(ctx context.Context, key string, max int, window time.Duration) (bool, error) {
	admitted, err := l.add(ctx, key, max, window)
	if err != nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}
	return admitted, nil
}

// Record implements Limiter
func (l *RedisLimiter) Record(ctx context.Context, key string, max int, window time.Duration) error {
	if _, err := l.add(ctx, key, max, window); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// ResetTime implements Limiter
func (l *RedisLimiter) ResetTime(ctx context.Context, key string, window time.Duration) (time.Time, error) {
	now := l.now()
	cutoff := now.Add(-window).UnixMicro()

	oldest, err := l.client.ZRangeByScoreWithScores(ctx, redisKeyPrefix+key, &redis.ZRangeBy{
		Min:   strconv.FormatInt(cutoff, 10),
		Max:   "+inf",
		Count: 1,
	}).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read rate limit window: %w", err)
	}
	if len(oldest) == 0 {
		return now, nil
	}
	return time.UnixMicro(int64(oldest[0].Score)).Add(window), nil
}

func (l *RedisLimiter) add(ctx context.Context, key string, max int, window time.Duration) (bool, error) {
	now := l.now()
	score := strconv.FormatInt(now.UnixMicro(), 10)
	cutoff := "(" + strconv.FormatInt(now.Add(-window).UnixMicro(), 10)
	member := score + "-" + uuid.NewString()

	res, err := slidingWindowScript.Run(ctx, l.client,
		[]string{redisKeyPrefix + key},
		cutoff, score, max, member, window.Milliseconds(),
	).Int()
	if err != nil {
		l.logger.Error("rate limit script failed", zap.Error(err))
		return false, err
	}
	return res == 1, nil
}
