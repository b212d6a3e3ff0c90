package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-reservation/internal/access"
	"github.com/iliyamo/library-reservation/internal/handler"
	"github.com/iliyamo/library-reservation/internal/middleware"
	"github.com/iliyamo/library-reservation/internal/service"
)

// RegisterReservations registers the user reservation routes.  Ownership
// of a single reservation is checked by the workflow.
func RegisterReservations(e *echo.Echo, h *handler.ReservationHandler, idempotency echo.MiddlewareFunc) {
	g := e.Group("/api/reservations")
	g.GET("", h.List, middleware.Authorize(access.ReservationListOwn))
	g.POST("", h.Create, middleware.Authorize(access.ReservationCreate), idempotency)
	g.POST("/create", h.Create, middleware.Authorize(access.ReservationCreate), idempotency)
	g.GET("/:id", h.Get, middleware.Authorize(access.ReservationRead))
	g.POST("/:id/cancel", h.Cancel, middleware.Authorize(access.ReservationCancel))
}

// RegisterAdmin registers the administrator reservation routes.
func RegisterAdmin(e *echo.Echo, h *handler.AdminReservationHandler) {
	g := e.Group("/api/admin/reservations")
	g.GET("", h.List, middleware.Authorize(access.ReservationListAll))
	g.POST("/:id/confirm", h.Transition(service.EventConfirm), middleware.Authorize(access.ReservationConfirm))
	g.POST("/:id/taken", h.Transition(service.EventTake), middleware.Authorize(access.ReservationTake))
	g.POST("/:id/returned", h.Transition(service.EventReturn), middleware.Authorize(access.ReservationReturn))
	// each row is authorized for its own action inside the workflow
	g.POST("/bulk/:action", h.Bulk, middleware.Authorize(access.ReservationListAll))
}
