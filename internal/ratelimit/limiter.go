// Package ratelimit provides Redis-backed rate limiting using the INCR + EXPIRE
// fixed window algorithm. The matcher uses it to throttle queue toggles per
// user so a client cannot churn the queue.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/arena/internal/logging"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix, e.g. "rl:toggle:"
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// ToggleRule limits queue toggles per user.
func ToggleRule(limit int, window time.Duration) Rule {
	return Rule{Key: "rl:toggle:", Limit: limit, Window: window}
}

// Limiter performs rate limiting checks against Redis. A Limiter with a nil
// client allows everything, which is how the service runs without Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow checks whether the given identifier is within the rate limit defined by
// rule. It increments the counter in Redis and sets the expiry on first access.
//
// Returns true if the request is allowed, false if rate limited. On Redis
// errors the method fails open (returns true) so that a Redis outage does not
// block the queue.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	if l == nil || l.client == nil {
		return true, nil
	}
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("ratelimit: redis INCR failed, failing open")
		return true, err
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			logging.Warn().Err(err).Str("key", key).Msg("ratelimit: redis EXPIRE failed, failing open")
			// Without a TTL the key would block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// Remaining returns the number of requests the identifier has left in the
// current window. Returns the full limit if the key does not exist yet or
// Redis is unavailable.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	if l == nil || l.client == nil {
		return rule.Limit, nil
	}
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("ratelimit: redis GET failed, failing open")
		return rule.Limit, err
	}

	return max(rule.Limit-count, 0), nil
}
