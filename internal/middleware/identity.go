package middleware

// identity.go holds the request-scoped caller.  Identify stores an
// access.Actor under actorKey; everything downstream reads it through
// ActorFrom so anonymous and authenticated requests look the same.

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-reservation/internal/access"
)

const actorKey = "actor"

// ActorFrom returns the caller stored by Identify, or access.Anonymous.
func ActorFrom(c echo.Context) access.Actor {
	if a, ok := c.Get(actorKey).(access.Actor); ok {
		return a
	}
	return access.Anonymous
}

// SetActor stores the caller on the context.
func SetActor(c echo.Context, a access.Actor) { c.Set(actorKey, a) }

// userID returns the caller's id as a key component, "anon" when
// unauthenticated.
func userID(c echo.Context) string {
	a := ActorFrom(c)
	if !a.Authenticated() {
		return "anon"
	}
	return strconv.FormatUint(a.UserID, 10)
}
