package guard

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/park285/matka-round-server/internal/domain"
	"github.com/redis/go-redis/v9"
)

// AuthLimiter counts failed logins per username inside a fixed window.
type AuthLimiter struct {
	rdb    *redis.Client
	max    int64
	window time.Duration
}

// NewAuthLimiter returns a limiter allowing max failures per window. A nil client or
// non-positive max disables throttling.
func NewAuthLimiter(rdb *redis.Client, max int, window time.Duration) *AuthLimiter {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &AuthLimiter{rdb: rdb, max: int64(max), window: window}
}

func (a *AuthLimiter) enabled() bool { return a != nil && a.rdb != nil && a.max > 0 }

func (a *AuthLimiter) key(username string) string {
	return keyPrefix + "authfail:" + strings.ToLower(strings.TrimSpace(username))
}

// Check returns ErrAuthThrottled once the failure budget for username is spent.
func (a *AuthLimiter) Check(ctx context.Context, username string) error {
	if !a.enabled() {
		return nil
	}
	n, err := a.rdb.Get(ctx, a.key(username)).Int64()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return domain.StorageError("auth limiter", err)
	}
	if n >= a.max {
		return domain.ErrAuthThrottled
	}
	return nil
}

// Fail records one failed attempt. The window starts at the first failure.
func (a *AuthLimiter) Fail(ctx context.Context, username string) error {
	if !a.enabled() {
		return nil
	}
	key := a.key(username)
	n, err := a.rdb.Incr(ctx, key).Result()
	if err != nil {
		return domain.StorageError("auth limiter", err)
	}
	if n == 1 {
		if err := a.rdb.Expire(ctx, key, a.window).Err(); err != nil {
			return domain.StorageError("auth limiter", err)
		}
	}
	return nil
}

// Reset clears the counter after a successful login.
func (a *AuthLimiter) Reset(ctx context.Context, username string) error {
	if !a.enabled() {
		return nil
	}
	if err := a.rdb.Del(ctx, a.key(username)).Err(); err != nil {
		return domain.StorageError("auth limiter", err)
	}
	return nil
}
