// Package ratelimit enforces fixed-window message limits shared across all gateway instances. Two counters are
// incremented per check, one keyed by user and one by IP; exceeding either denies the call. On store failure the
// limiter fails open: a flaky store must not take the tables down.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Limiter counts events per (subject, action kind) in the shared store.
type Limiter struct {
	rdb    *redis.Client
	window time.Duration
	max    int
	log    zerolog.Logger
}

// New creates a limiter with the given window and per-window maximum.
func New(rdb *redis.Client, window time.Duration, max int, logger zerolog.Logger) *Limiter {
	return &Limiter{
		rdb:    rdb,
		window: window,
		max:    max,
		log:    logger.With().Str("component", "ratelimit").Logger(),
	}
}

func userKey(userID, kind string) string { return "ratelimit:ws:user:" + userID + ":" + kind }
func ipKey(ip, kind string) string       { return "ratelimit:ws:ip:" + ip + ":" + kind }

// Allow increments the user and IP counters for the action kind and reports whether the call is within limits.
// The window TTL is set on the first increment of each counter.
func (l *Limiter) Allow(ctx context.Context, userID, ip, kind string) bool {
	userCount := l.increment(ctx, userKey(userID, kind))
	ipCount := l.increment(ctx, ipKey(ip, kind))
	return userCount <= int64(l.max) && ipCount <= int64(l.max)
}

// increment bumps one counter, arming the TTL when the counter is fresh. Store failures count as zero.
func (l *Limiter) increment(ctx context.Context, key string) int64 {
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("Rate limit increment failed, allowing")
		return 0
	}
	if count == 1 {
		if err := l.rdb.PExpire(ctx, key, l.window).Err(); err != nil {
			l.log.Warn().Err(err).Str("key", key).Msg("Rate limit expire failed")
		}
	}
	return count
}
