package ratelimit

import (
	"context"
	"strconv"
	"time"

	"email-mirror-gateway/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// allowScript keeps one sorted set of event times per key.
// ARGV: now, member, prune cutoff, ttl in ms, then (exclusive min score, max) per rule.
var allowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[3])
for i = 5, #ARGV, 2 do
	if redis.call('ZCOUNT', KEYS[1], ARGV[i], '+inf') >= tonumber(ARGV[i + 1]) then
		return 0
	end
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// RedisLimiter shares rate limit state between gateway instances through Redis.
type RedisLimiter struct {
	client  *redis.Client
	rules   []models.RateLimitRule
	longest time.Duration
	now     func() time.Time
}

// NewRedisLimiter creates a RedisLimiter enforcing every rule.
func NewRedisLimiter(client *redis.Client, rules []models.RateLimitRule) *RedisLimiter {
	return &RedisLimiter{
		client:  client,
		rules:   rules,
		longest: longestWindow(rules),
		now:     time.Now,
	}
}

// Allow atomically checks every rule for key and records the event if they hold.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := l.now().UnixMilli()
	args := []interface{}{
		now,
		strconv.FormatInt(now, 10) + "-" + uuid.New().String(),
		now - l.longest.Milliseconds(),
		l.longest.Milliseconds(),
	}
	for _, rule := range l.rules {
		args = append(args, "("+strconv.FormatInt(now-rule.Window.Milliseconds(), 10), rule.Max)
	}

	res, err := allowScript.Run(ctx, l.client, []string{key}, args...).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
