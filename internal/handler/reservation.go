package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-reservation/internal/model"
	"github.com/iliyamo/library-reservation/internal/service"
)

// ReservationHandler serves the reservation routes of regular users.
type ReservationHandler struct {
	Workflow *service.Workflow
}

func NewReservationHandler(w *service.Workflow) *ReservationHandler {
	if w == nil {
		panic("nil workflow passed to NewReservationHandler")
	}
	return &ReservationHandler{Workflow: w}
}

type createReservationReq struct {
	Book        uint64  `json:"book"`
	PickupDate  *string `json:"pickup_date"`
	PickupTime  *string `json:"pickup_time"`
	UserComment *string `json:"user_comment"`
}

// Create reserves a book for the caller.
func (h *ReservationHandler) Create(c echo.Context) error {
	var req createReservationReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	r, err := h.Workflow.Create(ctx, actor(c), service.CreateInput{
		BookID:      req.Book,
		PickupDate:  req.PickupDate,
		PickupTime:  req.PickupTime,
		UserComment: req.UserComment,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, r)
}

// List returns the caller's reservations, optionally filtered by status.
func (h *ReservationHandler) List(c echo.Context) error {
	status := model.ReservationStatus(strings.TrimSpace(c.QueryParam("status")))
	ctx, cancel := requestCtx(c)
	defer cancel()
	list, err := h.Workflow.ListOwn(ctx, actor(c), status)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

// Get returns one reservation the caller may see.
func (h *ReservationHandler) Get(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	r, err := h.Workflow.Get(ctx, actor(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// Cancel withdraws the caller's own reservation.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	r, err := h.Workflow.Cancel(ctx, actor(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}
