package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLimiter(t *testing.T) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRateLimiter(client, "test"), mr
}

func TestRateLimiter_Allow(t *testing.T) {
	limiter, _ := setupLimiter(t)
	ctx := context.Background()
	cfg := RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}

	for i := 0; i < 3; i++ {
		allowed, _, err := limiter.Allow(ctx, "ip:1.2.3.4", cfg)
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, remaining, err := limiter.Allow(ctx, "ip:1.2.3.4", cfg)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Zero(t, remaining)

	// another key has its own window
	allowed, _, err = limiter.Allow(ctx, "ip:5.6.7.8", cfg)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimiter_WindowExpires(t *testing.T) {
	limiter, mr := setupLimiter(t)
	ctx := context.Background()
	cfg := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}

	allowed, _, err := limiter.Allow(ctx, "ip:1.2.3.4", cfg)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = limiter.Allow(ctx, "ip:1.2.3.4", cfg)
	require.NoError(t, err)
	require.False(t, allowed)

	mr.FastForward(61 * time.Second)

	allowed, _, err = limiter.Allow(ctx, "ip:1.2.3.4", cfg)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimiter_Reset(t *testing.T) {
	limiter, _ := setupLimiter(t)
	ctx := context.Background()
	cfg := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}

	_, _, err := limiter.Allow(ctx, "user:1", cfg)
	require.NoError(t, err)
	require.NoError(t, limiter.Reset(ctx, "user:1"))

	allowed, _, err := limiter.Allow(ctx, "user:1", cfg)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimit_Middleware(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	limiter := NewRateLimiter(client, "test")

	router := mux.NewRouter()
	router.Use(RateLimit(limiter))
	router.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	})

	var lastCode int
	for i := 0; i < DefaultRateLimitConfig().RequestsPerWindow+1; i++ {
		req := httptest.NewRequest("GET", "/ping", nil)
		req.Header.Set("X-Real-IP", "1.2.3.4")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		lastCode = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, lastCode)

	// a different client is unaffected
	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("X-Real-IP", "9.9.9.9")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimit_FailsOpenWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	limiter := NewRateLimiter(client, "test")
	mr.Close()

	router := mux.NewRouter()
	router.Use(RateLimit(limiter))
	router.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1:1234", clientIP(req))

	req.Header.Set("X-Real-IP", "2.2.2.2")
	assert.Equal(t, "2.2.2.2", clientIP(req))

	req.Header.Set("X-Forwarded-For", "3.3.3.3")
	assert.Equal(t, "3.3.3.3", clientIP(req))
}
