//go:build integration

package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/library-reservation/internal/config"
	"github.com/iliyamo/library-reservation/internal/testenv"
)

var redisEnv *testenv.Redis

func TestMain(m *testing.M) {
	ctx := context.Background()
	env, err := testenv.StartRedis(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "integration: ", err)
		os.Exit(1)
	}
	redisEnv = env
	code := m.Run()
	env.Teardown(ctx)
	os.Exit(code)
}

func flushRedis(t *testing.T) {
	t.Helper()
	require.NoError(t, redisEnv.Client.FlushDB(context.Background()).Err())
}

func TestTokenBucketInRedis(t *testing.T) {
	flushRedis(t)
	cfg := config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Hour,
		TTL:            time.Hour,
		KeyStrategy:    "ip",
		Prefix:         "rl-it",
	}
	e := echo.New()
	e.Use(NewTokenBucket(cfg, redisEnv.Client, nil))
	e.GET("/api/books", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	first := serve(e, http.MethodGet, "/api/books", nil)
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/api/books", nil).Code)

	blocked := serve(e, http.MethodGet, "/api/books", nil)
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.NotEmpty(t, blocked.Header().Get("Retry-After"))

	keys, err := redisEnv.Client.Keys(context.Background(), "rl-it:*").Result()
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestResponseCacheHitAndInvalidate(t *testing.T) {
	flushRedis(t)
	rc := NewResponseCache(config.CacheConfig{
		Enabled:      true,
		Methods:      map[string]bool{http.MethodGet: true},
		TTL:          time.Minute,
		Prefix:       "cache-it",
		MaxBodyBytes: 1 << 20,
	}, redisEnv.Client, nil)

	calls := 0
	e := echo.New()
	e.GET("/api/books", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusOK, echo.Map{"count": calls})
	}, rc.Middleware())
	e.GET("/api/books/missing", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusNotFound, echo.Map{"error": "book not found"})
	}, rc.Middleware())

	miss := serve(e, http.MethodGet, "/api/books?page=1", nil)
	assert.Equal(t, "MISS", miss.Header().Get("X-Cache"))
	hit := serve(e, http.MethodGet, "/api/books?page=1", nil)
	assert.Equal(t, "HIT", hit.Header().Get("X-Cache"))
	assert.Equal(t, http.StatusOK, hit.Code)
	assert.JSONEq(t, miss.Body.String(), hit.Body.String())
	assert.Equal(t, 1, calls)

	assert.Equal(t, "MISS", serve(e, http.MethodGet, "/api/books?page=2", nil).Header().Get("X-Cache"))
	assert.Equal(t, 2, calls)

	require.NoError(t, rc.Invalidate(context.Background()))
	after := serve(e, http.MethodGet, "/api/books?page=1", nil)
	assert.Equal(t, "MISS", after.Header().Get("X-Cache"))
	assert.Equal(t, 3, calls)

	serve(e, http.MethodGet, "/api/books/missing", nil)
	assert.Equal(t, "MISS", serve(e, http.MethodGet, "/api/books/missing", nil).Header().Get("X-Cache"))
	assert.Equal(t, 5, calls)
}

func TestIdempotencyClaimAndRelease(t *testing.T) {
	flushRedis(t)
	cfg := config.IdempotencyConfig{Enabled: true, TTL: time.Minute, Prefix: "idem-it"}
	fail := true
	e := echo.New()
	e.POST("/api/reservations", func(c echo.Context) error {
		return c.JSON(http.StatusCreated, echo.Map{"id": 1})
	}, Idempotency(cfg, redisEnv.Client, nil))
	e.POST("/api/reservations/flaky", func(c echo.Context) error {
		if fail {
			return c.JSON(http.StatusConflict, echo.Map{"error": "book is not available for reservation"})
		}
		return c.JSON(http.StatusCreated, echo.Map{"id": 2})
	}, Idempotency(cfg, redisEnv.Client, nil))
	e.POST("/api/reservations/broken", func(c echo.Context) error {
		return errors.New("store down")
	}, Idempotency(cfg, redisEnv.Client, nil))

	key := map[string]string{HeaderIdempotencyKey: "k-1"}
	assert.Equal(t, http.StatusCreated, serve(e, http.MethodPost, "/api/reservations", key).Code)
	replay := serve(e, http.MethodPost, "/api/reservations", key)
	assert.Equal(t, http.StatusConflict, replay.Code)
	assert.Contains(t, replay.Body.String(), "Idempotency-Key")

	other := map[string]string{HeaderIdempotencyKey: "k-2"}
	assert.Equal(t, http.StatusCreated, serve(e, http.MethodPost, "/api/reservations", other).Code)

	flaky := map[string]string{HeaderIdempotencyKey: "k-flaky"}
	assert.Equal(t, http.StatusConflict, serve(e, http.MethodPost, "/api/reservations/flaky", flaky).Code)
	fail = false
	assert.Equal(t, http.StatusCreated, serve(e, http.MethodPost, "/api/reservations/flaky", flaky).Code)

	broken := map[string]string{HeaderIdempotencyKey: "k-broken"}
	serve(e, http.MethodPost, "/api/reservations/broken", broken)
	keys, err := redisEnv.Client.Keys(context.Background(), "idem-it:*").Result()
	require.NoError(t, err)
	assert.NotContains(t, keys, idempotencyKey("idem-it", "anon", "k-broken"))
	assert.Contains(t, keys, idempotencyKey("idem-it", "anon", "k-flaky"))
	assert.Len(t, keys, 3)
}
