package middleware

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
)

// WindowCounter counts hits on a key inside a fixed window and reports how
// long the window still has to run.
type WindowCounter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RedisCounter implements WindowCounter with INCR and EXPIRE.
type RedisCounter struct {
	client redis.Cmdable
}

// NewRedisCounter wraps a redis client.
func NewRedisCounter(client redis.Cmdable) *RedisCounter {
	return &RedisCounter{client: client}
}

// Hit increments key, starting its window on the first hit.
func (r *RedisCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("incr %s: %w", key, err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, key, window).Err(); err != nil {
			return count, window, fmt.Errorf("expire %s: %w", key, err)
		}
		return count, window, nil
	}
	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return count, window, nil
	}
	if ttl < 0 {
		// key lost its expiry, start a new window
		_ = r.client.Expire(ctx, key, window).Err()
		ttl = window
	}
	return count, ttl, nil
}

// RateLimiter throttles requests per client IP.
type RateLimiter struct {
	counter   WindowCounter
	onLimited func()
	logger    *zap.Logger
}

// NewRateLimiter constructs a limiter. onLimited may be nil.
func NewRateLimiter(counter WindowCounter, onLimited func(), logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{counter: counter, onLimited: onLimited, logger: logger}
}

// Limit allows at most limit requests per window for each client IP under
// the given scope. Counter failures let the request through.
func (rl *RateLimiter) Limit(scope string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl == nil || rl.counter == nil || limit <= 0 {
			c.Next()
			return
		}

		key := fmt.Sprintf("lms:ratelimit:%s:%s", scope, c.ClientIP())
		count, ttl, err := rl.counter.Hit(c.Request.Context(), key, window)
		if err != nil {
			rl.logger.Warn("rate limiter unavailable", zap.String("scope", scope), zap.Error(err))
			c.Next()
			return
		}

		if count > int64(limit) {
			if rl.onLimited != nil {
				rl.onLimited()
			}
			retryAfter := int(math.Ceil(ttl.Seconds()))
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			response.Error(c, appErrors.WithDetails(
				appErrors.Clone(appErrors.ErrTooManyRequests, "too many attempts, try again later"),
				map[string]int{"retry_after_seconds": retryAfter}))
			c.Abort()
			return
		}
		c.Next()
	}
}
