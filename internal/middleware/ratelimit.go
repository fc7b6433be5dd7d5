package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window limiter counted in Redis. Each limiter has
// its own key space, so stacked limiters count a request once each.
type RateLimiter struct {
	cache  *redis.Client
	name   string
	limit  int
	window time.Duration
}

func NewRateLimiter(cache *redis.Client, name string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{cache: cache, name: name, limit: limit, window: window}
}

// Limit counts the request against the client IP, or against IP and user
// once Authenticate has run.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.key(r)

		pipe := rl.cache.TxPipeline()
		incr := pipe.Incr(r.Context(), key)
		pipe.ExpireNX(r.Context(), key, rl.window)
		ttl := pipe.TTL(r.Context(), key)
		if _, err := pipe.Exec(r.Context()); err != nil {
			jsonError(w, http.StatusServiceUnavailable, "Rate limit unavailable")
			return
		}

		count := incr.Val()
		remaining := int64(rl.limit) - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(rl.limit) {
			retry := ttl.Val()
			if retry <= 0 {
				retry = rl.window
			}
			w.Header().Set("Retry-After", strconv.Itoa(int((retry+time.Second-1)/time.Second)))
			jsonError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) key(r *http.Request) string {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	if userID, ok := UserIDFromContext(r.Context()); ok {
		return fmt.Sprintf("pool:ratelimit:%s:%s:%s", rl.name, ip, userID)
	}
	return fmt.Sprintf("pool:ratelimit:%s:%s", rl.name, ip)
}
