package router // package router defines how HTTP routes are registered for the API

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/library-reservation/internal/access"
	"github.com/iliyamo/library-reservation/internal/handler"
	"github.com/iliyamo/library-reservation/internal/middleware"
)

// Deps bundles everything the routes need.  Zero-value middleware fields
// are replaced by pass-through functions.
type Deps struct {
	Logger    *slog.Logger
	JWTSecret string
	MediaDir  string

	Health       *handler.HealthHandler
	Auth         *handler.AuthHandler
	Catalog      *handler.CatalogHandler
	Reservations *handler.ReservationHandler
	Admin        *handler.AdminReservationHandler

	RateLimit   echo.MiddlewareFunc
	Cache       echo.MiddlewareFunc
	Idempotency echo.MiddlewareFunc
}

func passThrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

// New builds the Echo instance with the shared middleware chain and every
// route registered.
func New(d Deps) *echo.Echo {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.RateLimit == nil {
		d.RateLimit = passThrough
	}
	if d.Cache == nil {
		d.Cache = passThrough
	}
	if d.Idempotency == nil {
		d.Idempotency = passThrough
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsonSerializer{}
	e.HTTPErrorHandler = errorHandler(d.Logger)

	e.Pre(echomw.RemoveTrailingSlash())
	e.Use(echomw.RecoverWithConfig(echomw.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			d.Logger.ErrorContext(c.Request().Context(), "panic recovered",
				slog.Any("error", err), slog.String("stack", string(stack)))
			return err
		},
	}))
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(requestLogger(d.Logger))
	e.Use(middleware.MediaCORS("/media"))
	e.Use(middleware.Identify(d.JWTSecret))
	e.Use(d.RateLimit)

	RegisterRoutes(e, d)
	RegisterAuth(e, d.Auth)
	RegisterCatalog(e, d.Catalog, d.Cache)
	RegisterReservations(e, d.Reservations, d.Idempotency)
	RegisterAdmin(e, d.Admin)
	return e
}

// RegisterRoutes registers health checks and, when configured, local media files.
func RegisterRoutes(e *echo.Echo, d Deps) {
	health := d.Health
	if health == nil {
		health = handler.NewHealthHandler(nil)
	}
	e.GET("/healthz", health.Live)
	e.GET("/readyz", health.Ready)
	if d.MediaDir != "" {
		e.Static("/media", d.MediaDir)
	}
}

// RegisterAuth registers account routes.  Register, login, refresh and
// logout are open; profile routes need an authenticated caller.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler) {
	g := e.Group("/api/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/token/refresh", a.Refresh)
	g.POST("/logout", a.Logout)

	account := middleware.Authorize(access.AccountRead)
	g.GET("/me", a.Me, account)
	g.PUT("/me", a.UpdateMe, account)
	g.PATCH("/me", a.UpdateMe, account)
	g.GET("/profile", a.Me, account)
	g.PUT("/profile/update", a.UpdateMe, account)
	g.PATCH("/profile/update", a.UpdateMe, account)
	g.POST("/password/change", a.ChangePassword, account)
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			level := slog.LevelInfo
			switch {
			case v.Status >= http.StatusInternalServerError:
				level = slog.LevelError
			case v.Status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}
			attrs := []slog.Attr{
				slog.String("request_id", v.RequestID),
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			logger.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	})
}

// errorHandler renders errors that escape handlers as {"error": "..."}.
func errorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		msg := "internal error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = fmt.Sprint(he.Message)
		} else {
			logger.ErrorContext(c.Request().Context(), "unhandled error", slog.Any("error", err))
		}
		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, echo.Map{"error": msg})
		}
		if werr != nil {
			logger.Warn("write error response", slog.Any("error", werr))
		}
	}
}
