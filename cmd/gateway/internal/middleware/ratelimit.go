package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/auth"
)

// RateLimiter limits authenticated callers to a fixed number of requests per
// minute, counted in Redis so every gateway replica shares the window.
type RateLimiter struct {
	redis             *redis.Client
	logger            *zap.Logger
	prefix            string
	requestsPerMinute int
	now               func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(redis *redis.Client, environment string, requestsPerMinute int, logger *zap.Logger) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	return &RateLimiter{
		redis:             redis,
		logger:            logger,
		prefix:            environment + ":ratelimit:",
		requestsPerMinute: requestsPerMinute,
		now:               time.Now,
	}
}

// Middleware returns the HTTP middleware function
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		// Without a user the auth middleware has already answered.
		user, err := auth.GetUserContext(ctx)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		allowed, remaining, resetAt := rl.checkRateLimit(ctx, rl.prefix+user.Subject)
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.requestsPerMinute))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))

		if !allowed {
			rl.logger.Warn("Rate limit exceeded",
				zap.String("subject", user.Subject),
				zap.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(resetAt.Sub(rl.now()).Seconds())+1))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":   "Rate limit exceeded",
				"message": "Too many requests. Please retry after the rate limit window resets.",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkRateLimit counts the request in the current one-minute window. Redis
// failures fail open.
func (rl *RateLimiter) checkRateLimit(ctx context.Context, key string) (allowed bool, remaining int, resetAt time.Time) {
	window := rl.now().Truncate(time.Minute)
	resetAt = window.Add(time.Minute)
	windowKey := fmt.Sprintf("%s:%d", key, window.Unix())

	pipe := rl.redis.TxPipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, time.Minute+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.logger.Error("Rate limit check failed", zap.Error(err))
		return true, rl.requestsPerMinute, resetAt
	}

	count := incr.Val()
	remaining = rl.requestsPerMinute - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return count <= int64(rl.requestsPerMinute), remaining, resetAt
}
