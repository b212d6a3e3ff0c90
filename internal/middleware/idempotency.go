package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/library-reservation/internal/config"
)

// HeaderIdempotencyKey is the request header clients use to make a POST
// safe to retry.
const HeaderIdempotencyKey = "Idempotency-Key"

// Idempotency claims the Idempotency-Key header with SETNX scoped to the
// caller.  A key already claimed within the TTL is answered with 409.  The
// claim is released when the handler fails so the client can try again.
// Requests without the header, and all requests when Redis is absent, pass
// through.
func Idempotency(cfg config.IdempotencyConfig, rdb *redis.Client, logger *slog.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey))
			if raw == "" {
				return next(c)
			}
			if len(raw) > 255 {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "Idempotency-Key too long"})
			}
			key := idempotencyKey(cfg.Prefix, userID(c), raw)
			ctx := c.Request().Context()

			fresh, err := rdb.SetNX(ctx, key, "1", cfg.TTL).Result()
			if err != nil {
				logger.Warn("idempotency store unavailable", slog.Any("error", err))
				return next(c)
			}
			if !fresh {
				return c.JSON(http.StatusConflict, echo.Map{"error": "duplicate request for this Idempotency-Key"})
			}

			err = next(c)
			if err != nil || c.Response().Status >= http.StatusBadRequest {
				if derr := rdb.Del(context.WithoutCancel(ctx), key).Err(); derr != nil {
					logger.Warn("idempotency release failed", slog.Any("error", derr))
				}
			}
			return err
		}
	}
}

func idempotencyKey(prefix, user, raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return prefix + ":" + user + ":" + hex.EncodeToString(sum[:16])
}
