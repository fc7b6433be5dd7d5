package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func hit(h http.Handler, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = addr
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_BlocksAfterLimit(t *testing.T) {
	rdb := openRedis(t)
	h := NewRateLimiter(rdb, "test", 2, time.Minute).Limit(okHandler())

	var codes []int
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = hit(h, "10.0.0.1:5000")
		codes = append(codes, last.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, "0", last.Header().Get("X-RateLimit-Remaining"))
	retry, err := strconv.Atoi(last.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.True(t, retry > 0 && retry <= 60, "retry-after %d", retry)

	w := hit(h, "10.0.0.2:5000")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimiter_StackedLimitersCountOnce(t *testing.T) {
	rdb := openRedis(t)
	outer := NewRateLimiter(rdb, "global", 3, time.Minute)
	inner := NewRateLimiter(rdb, "api", 3, time.Minute)
	h := outer.Limit(inner.Limit(okHandler()))

	for i := 0; i < 3; i++ {
		w := hit(h, "10.0.0.3:5000")
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.3:5000").Code)
}

func TestRedisTokenBlacklist(t *testing.T) {
	rdb := openRedis(t)
	bl := NewRedisTokenBlacklist(rdb)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()

	revoked, err := bl.IsBlacklisted(ctx, "tok")
	assert.NoError(t, err)
	assert.False(t, revoked)

	assert.NoError(t, bl.Revoke(ctx, "tok", time.Now().Add(time.Minute)))
	revoked, err = bl.IsBlacklisted(ctx, "tok")
	assert.NoError(t, err)
	assert.True(t, revoked)

	ttl, err := rdb.TTL(ctx, blacklistKey("tok")).Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute, "ttl %s", ttl)
}

func TestRedisTokenBlacklist_ExpiredTokenNotStored(t *testing.T) {
	rdb := openRedis(t)
	bl := NewRedisTokenBlacklist(rdb)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()

	assert.NoError(t, bl.Revoke(ctx, "stale", time.Now().Add(-time.Minute)))
	n, err := rdb.Exists(ctx, blacklistKey("stale")).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}
