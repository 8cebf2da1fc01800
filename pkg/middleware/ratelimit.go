package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"

	"github.com/fieldgate/fieldgate/pkg/httputil"
)

// RateLimitConfig defines a fixed-window rate limit.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// DefaultRateLimitConfig is the limit applied to anonymous clients.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 60, WindowDuration: time.Minute}
}

// PerUserRateLimitConfig is the limit applied to authenticated users.
func PerUserRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 600, WindowDuration: time.Minute}
}

// RateLimiter counts requests in Redis so limits hold across server
// instances. Counters use a fixed window: INCR plus an expiry set when
// the key is created.
type RateLimiter struct {
	redis  *redis.Client
	prefix string
}

// NewRateLimiter creates a Redis-backed rate limiter.
func NewRateLimiter(redisClient *redis.Client, prefix string) *RateLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RateLimiter{redis: redisClient, prefix: prefix}
}

// Allow increments the counter for key and reports whether the request
// is within the limit, along with the remaining quota.
func (rl *RateLimiter) Allow(ctx context.Context, key string, cfg RateLimitConfig) (bool, int, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, cfg.WindowDuration)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("failed to count request: %w", err)
	}

	count := incr.Val()
	remaining := cfg.RequestsPerWindow - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return count <= int64(cfg.RequestsPerWindow), remaining, nil
}

// TTL returns the time until the window for key resets.
func (rl *RateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.redis.TTL(ctx, fmt.Sprintf("%s:%s", rl.prefix, key)).Result()
}

// Reset clears the counter for key.
func (rl *RateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, fmt.Sprintf("%s:%s", rl.prefix, key)).Err()
}

// RateLimit enforces per-user and per-IP request limits. Redis errors
// fail open so a cache outage does not take the API down with it.
func RateLimit(limiter *RateLimiter) mux.MiddlewareFunc {
	userCfg := PerUserRateLimitConfig()
	anonCfg := DefaultRateLimitConfig()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var key string
			var cfg RateLimitConfig
			if user := UserFrom(ctx); user != nil && !user.IsAnonymous() {
				key = fmt.Sprintf("user:%d", user.ID)
				cfg = userCfg
			} else {
				key = "ip:" + clientIP(r)
				cfg = anonCfg
			}

			allowed, remaining, err := limiter.Allow(ctx, key, cfg)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

			if !allowed {
				retryAfter := cfg.WindowDuration
				if ttl, err := limiter.TTL(ctx, key); err == nil && ttl > 0 {
					retryAfter = ttl
				}
				w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
				httputil.WriteErrorMessage(w, http.StatusTooManyRequests, "Rate limit exceeded.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
