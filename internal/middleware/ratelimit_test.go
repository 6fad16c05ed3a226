package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/counselhub/room-server-go/internal/config"
)

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("allows requests under limit", func(t *testing.T) {
		limiter := NewRateLimiter()

		for i := 0; i < 5; i++ {
			allowed, remaining, _ := limiter.Check(ctx, "client-1", 10)
			assert.True(t, allowed)
			assert.Equal(t, 10-i-1, remaining)
		}
	})

	t.Run("blocks requests over limit", func(t *testing.T) {
		limiter := NewRateLimiter()

		for i := 0; i < 5; i++ {
			limiter.Check(ctx, "client-2", 5)
		}

		allowed, remaining, _ := limiter.Check(ctx, "client-2", 5)
		assert.False(t, allowed)
		assert.Equal(t, 0, remaining)
	})

	t.Run("tracks clients separately", func(t *testing.T) {
		limiter := NewRateLimiter()

		for i := 0; i < 5; i++ {
			limiter.Check(ctx, "client-a", 5)
		}

		allowed, _, _ := limiter.Check(ctx, "client-b", 5)
		assert.True(t, allowed)
	})

	t.Run("returns reset time", func(t *testing.T) {
		limiter := NewRateLimiter()

		_, _, resetAt := limiter.Check(ctx, "client-3", 10)
		assert.Greater(t, resetAt, int64(0))
	})
}

func TestRedisRateLimiterFallsBackWhenRedisIsDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()
	limiter := NewRedisRateLimiter(client)
	ctx := context.Background()

	allowed, remaining, _ := limiter.Check(ctx, "client-1", 2)
	assert.True(t, allowed)
	assert.Equal(t, 1, remaining)

	limiter.Check(ctx, "client-1", 2)
	allowed, _, _ = limiter.Check(ctx, "client-1", 2)
	assert.False(t, allowed)
}

func TestRateLimitMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("sets rate limit headers", func(t *testing.T) {
		handler := NewRateLimitMiddleware(NewRateLimiter(), 100).Handler(ok)

		req := httptest.NewRequest("GET", "/test", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "99", rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	})

	t.Run("returns 429 when rate limited", func(t *testing.T) {
		handler := NewRateLimitMiddleware(NewRateLimiter(), 2).Handler(ok)
		ctx := context.WithValue(context.Background(), BearerTokenContextKey, "tok-2")

		for i := 0; i < 2; i++ {
			req := httptest.NewRequest("GET", "/test", nil).WithContext(ctx)
			handler.ServeHTTP(httptest.NewRecorder(), req)
		}

		req := httptest.NewRequest("GET", "/test", nil).WithContext(ctx)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))
		assert.Contains(t, rec.Body.String(), "RATE_LIMIT_EXCEEDED")
	})

	t.Run("separate tokens have separate windows", func(t *testing.T) {
		handler := NewRateLimitMiddleware(NewRateLimiter(), 1).Handler(ok)

		for _, token := range []string{"a", "b"} {
			ctx := context.WithValue(context.Background(), BearerTokenContextKey, token)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil).WithContext(ctx))
			assert.Equal(t, http.StatusOK, rec.Code)
		}
	})

	t.Run("uses default limit when zero", func(t *testing.T) {
		handler := NewRateLimitMiddleware(NewRateLimiter(), 0).Handler(ok)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))

		assert.Equal(t, strconv.Itoa(config.DefaultRateLimitPerMin), rec.Header().Get("X-RateLimit-Limit"))
	})
}
