package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-reservation/internal/access"
	"github.com/iliyamo/library-reservation/internal/utils"
)

// Identify returns an Echo middleware that resolves the caller from an
// optional Bearer access token.  Requests without an Authorization header
// continue as access.Anonymous; a header that is present but not a valid
// token is rejected with 401, on public routes too.
func Identify(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if auth == "" {
				SetActor(c, access.Anonymous)
				return next(c)
			}
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

			claims, err := utils.ParseAccessToken(secret, raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			role := access.Role(claims.Role)
			if role != access.RoleUser && role != access.RoleAdmin {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}
			SetActor(c, access.Actor{UserID: claims.UserID, Role: role})
			return next(c)
		}
	}
}
