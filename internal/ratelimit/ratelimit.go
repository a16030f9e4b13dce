// Package ratelimit provides sliding-window rate limiters for inbound mail.
//
// A key is allowed another event only if, for every rule, fewer than Max
// events were recorded within the last Window. Refused events are not recorded.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"email-mirror-gateway/internal/models"
)

// Limiter decides whether another event for key is allowed and records it if so.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RealmKey is the limiter key for mail addressed to realm.
func RealmKey(realm string) string {
	return "emailmirror:realm:" + realm
}

func longestWindow(rules []models.RateLimitRule) time.Duration {
	var longest time.Duration
	for _, r := range rules {
		if r.Window > longest {
			longest = r.Window
		}
	}
	return longest
}

// MemoryLimiter keeps event timestamps in process memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	rules   []models.RateLimitRule
	longest time.Duration
	events  map[string][]time.Time
	now     func() time.Time
}

// NewMemoryLimiter creates a MemoryLimiter enforcing every rule.
func NewMemoryLimiter(rules []models.RateLimitRule) *MemoryLimiter {
	return &MemoryLimiter{
		rules:   rules,
		longest: longestWindow(rules),
		events:  make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow records an event for key and reports whether every rule still holds.
func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	// Drop events that no rule looks at anymore.
	events := l.events[key]
	i := 0
	for i < len(events) && !events[i].After(now.Add(-l.longest)) {
		i++
	}
	events = events[i:]

	for _, rule := range l.rules {
		cutoff := now.Add(-rule.Window)
		n := 0
		for j := len(events) - 1; j >= 0 && events[j].After(cutoff); j-- {
			n++
		}
		if n >= rule.Max {
			l.store(key, events)
			return false, nil
		}
	}

	l.store(key, append(events, now))
	return true, nil
}

func (l *MemoryLimiter) store(key string, events []time.Time) {
	if len(events) == 0 {
		delete(l.events, key)
		return
	}
	l.events[key] = events
}
