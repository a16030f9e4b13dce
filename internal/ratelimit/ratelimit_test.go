package ratelimit

import (
	"context"
	"testing"
	"time"

	"email-mirror-gateway/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRules = []models.RateLimitRule{
	{Window: time.Minute, Max: 3},
	{Window: time.Hour, Max: 5},
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time {
	return c.now
}

func limiters(t *testing.T, c *clock) map[string]Limiter {
	mem := NewMemoryLimiter(testRules)
	mem.now = c.Now

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	rl := NewRedisLimiter(client, testRules)
	rl.now = c.Now

	return map[string]Limiter{"memory": mem, "redis": rl}
}

func allowN(t *testing.T, l Limiter, key string, n int) []bool {
	t.Helper()
	var got []bool
	for i := 0; i < n; i++ {
		ok, err := l.Allow(context.Background(), key)
		require.NoError(t, err)
		got = append(got, ok)
	}
	return got
}

func TestLimiterWindows(t *testing.T) {
	c := &clock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}

	for name, l := range limiters(t, c) {
		t.Run(name, func(t *testing.T) {
			c.now = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
			key := RealmKey("zulip")

			assert.Equal(t, []bool{true, true, true, false}, allowN(t, l, key, 4))

			// Other realms are counted separately.
			assert.Equal(t, []bool{true}, allowN(t, l, RealmKey("lear"), 1))

			// A minute later the short window is free again, the hourly one allows two more.
			c.now = c.now.Add(time.Minute)
			assert.Equal(t, []bool{true, true, false}, allowN(t, l, key, 3))

			c.now = c.now.Add(time.Hour)
			assert.Equal(t, []bool{true}, allowN(t, l, key, 1))
		})
	}
}

func TestRealmKey(t *testing.T) {
	assert.Equal(t, "emailmirror:realm:zulip", RealmKey("zulip"))
}
