package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-reservation/internal/model"
	"github.com/iliyamo/library-reservation/internal/repository"
	"github.com/iliyamo/library-reservation/internal/service"
)

// AdminReservationHandler serves the administrator reservation routes.
type AdminReservationHandler struct {
	Workflow *service.Workflow
}

func NewAdminReservationHandler(w *service.Workflow) *AdminReservationHandler {
	if w == nil {
		panic("nil workflow passed to NewAdminReservationHandler")
	}
	return &AdminReservationHandler{Workflow: w}
}

type transitionReq struct {
	AdminComment *string `json:"admin_comment"`
}

type bulkFilterReq struct {
	Status string  `json:"status"`
	User   *uint64 `json:"user"`
	Book   *uint64 `json:"book"`
}

type bulkReq struct {
	IDs          []uint64       `json:"ids"`
	Filter       *bulkFilterReq `json:"filter"`
	AdminComment *string        `json:"admin_comment"`
}

type bulkResp struct {
	Action    string               `json:"action"`
	Total     int                  `json:"total"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
	Results   []service.BulkResult `json:"results"`
}

// List returns all reservations filtered by status, user and book.
func (h *AdminReservationHandler) List(c echo.Context) error {
	f := repository.ReservationFilter{
		Status: model.ReservationStatus(strings.TrimSpace(c.QueryParam("status"))),
	}
	var ok bool
	if f.UserID, ok = queryUint(c, "user"); !ok {
		return badRequest(c, "user must be an integer id")
	}
	if f.BookID, ok = queryUint(c, "book"); !ok {
		return badRequest(c, "book must be an integer id")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	list, err := h.Workflow.ListAll(ctx, actor(c), f)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

// Transition returns a handler applying ev to the reservation in the path.
// An optional body may carry admin_comment.
func (h *AdminReservationHandler) Transition(ev service.Event) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := parseID(c, "id")
		if !ok {
			return badRequest(c, "invalid reservation id")
		}
		var req transitionReq
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "invalid body")
		}
		ctx, cancel := requestCtx(c)
		defer cancel()
		r, err := h.Workflow.Apply(ctx, actor(c), ev, id, req.AdminComment)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, r)
	}
}

// Bulk applies confirm, taken or returned to many reservations.  It answers
// 200 with per-row results even when some rows fail.
func (h *AdminReservationHandler) Bulk(c echo.Context) error {
	ev, ok := service.ParseAdminEvent(c.Param("action"))
	if !ok {
		return badRequest(c, "action must be confirm, taken or returned")
	}
	var req bulkReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	br := service.BulkRequest{IDs: req.IDs, AdminComment: req.AdminComment}
	if req.Filter != nil {
		br.Filter = &repository.ReservationFilter{
			Status: model.ReservationStatus(strings.TrimSpace(req.Filter.Status)),
			UserID: req.Filter.User,
			BookID: req.Filter.Book,
		}
	}

	// Bulk runs one transaction per row; it gets the request context
	// rather than the per-call timeout.
	results, err := h.Workflow.Bulk(c.Request().Context(), actor(c), ev, br)
	if err != nil && results == nil {
		return writeError(c, err)
	}
	resp := bulkResp{Action: string(ev), Total: len(results), Results: results}
	for _, r := range results {
		if r.OK {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	return c.JSON(http.StatusOK, resp)
}
