// Package ratelimit caps how many messages a chat may post per window.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultWindow = time.Hour
	DefaultPrefix = "personachat:posts"
)

// countScript bumps the window counter, arms its expiry on first use and
// returns {count, pttl}.
var countScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

type Config struct {
	Redis *redis.Client
	// Limit <= 0 disables the cap; every call is still counted.
	Limit  int64
	Window time.Duration
	Prefix string
}

// Limiter counts posts per chat in fixed windows aligned to Window.
type Limiter struct {
	rdb    *redis.Client
	limit  int64
	window time.Duration
	prefix string
}

func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	return &Limiter{rdb: cfg.Redis, limit: cfg.Limit, window: cfg.Window, prefix: cfg.Prefix}
}

func (l *Limiter) key(chatID string, start time.Time) string {
	return fmt.Sprintf("%s:%s:%d", l.prefix, chatID, start.Unix())
}

// Allow records one post for chatID at now and reports whether it fits the
// current window, how many posts the window holds and when it resets.
func (l *Limiter) Allow(ctx context.Context, chatID string, now time.Time) (allowed bool, used int64, resetAt time.Time, err error) {
	start := now.UTC().Truncate(l.window)
	end := start.Add(l.window)
	ttl := end.Sub(now.UTC()).Milliseconds()
	if ttl < 1 {
		ttl = 1
	}

	vals, err := countScript.Run(ctx, l.rdb, []string{l.key(chatID, start)}, ttl).Int64Slice()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("count posts for %s: %w", chatID, err)
	}
	if len(vals) != 2 {
		return false, 0, time.Time{}, fmt.Errorf("count posts for %s: unexpected reply %v", chatID, vals)
	}
	used = vals[0]
	resetAt = end
	if pttl := vals[1]; pttl > 0 {
		resetAt = now.Add(time.Duration(pttl) * time.Millisecond)
	}
	return l.limit <= 0 || used <= l.limit, used, resetAt, nil
}
