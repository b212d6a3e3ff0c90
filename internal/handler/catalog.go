package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-reservation/internal/model"
	"github.com/iliyamo/library-reservation/internal/service"
)

// CatalogHandler serves genres and books.
type CatalogHandler struct {
	Catalog *service.Catalog
}

func NewCatalogHandler(s *service.Catalog) *CatalogHandler {
	if s == nil {
		panic("nil catalog passed to NewCatalogHandler")
	}
	return &CatalogHandler{Catalog: s}
}

// ----- genres -----

type genreReq struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (h *CatalogHandler) ListGenres(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()
	genres, err := h.Catalog.ListGenres(ctx)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, genres)
}

func (h *CatalogHandler) GetGenre(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid genre id")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	g, err := h.Catalog.GetGenre(ctx, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *CatalogHandler) CreateGenre(c echo.Context) error {
	var req genreReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	in := service.GenreInput{Description: req.Description}
	if req.Name != nil {
		in.Name = *req.Name
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	g, err := h.Catalog.CreateGenre(ctx, actor(c), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, g)
}

// UpdateGenre serves PUT and PATCH.  PUT requires the name.
func (h *CatalogHandler) UpdateGenre(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid genre id")
	}
	var req genreReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if c.Request().Method == http.MethodPut && req.Name == nil {
		return badRequest(c, "name is required")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	g, err := h.Catalog.UpdateGenre(ctx, actor(c), id, req.Name, req.Description)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *CatalogHandler) DeleteGenre(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid genre id")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	if err := h.Catalog.DeleteGenre(ctx, actor(c), id); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ----- books -----

// bookQuery parses genre, status, year_published, search (or q), ordering,
// page and page_size.
func bookQuery(c echo.Context) (service.BookQuery, string) {
	var q service.BookQuery
	var ok bool
	if q.GenreID, ok = queryUint(c, "genre"); !ok {
		return q, "genre must be an integer id"
	}
	if q.Year, ok = queryInt(c, "year_published"); !ok {
		return q, "year_published must be an integer"
	}
	page, ok := queryInt(c, "page")
	if !ok {
		return q, "page must be an integer"
	}
	if page != nil {
		q.Page = *page
	}
	size, ok := queryInt(c, "page_size")
	if !ok {
		return q, "page_size must be an integer"
	}
	if size != nil {
		q.PageSize = *size
	}
	q.Status = model.BookStatus(strings.TrimSpace(c.QueryParam("status")))
	q.Search = strings.TrimSpace(c.QueryParam("search"))
	if v := strings.TrimSpace(c.QueryParam("q")); v != "" {
		q.Search = v
	}
	q.Ordering = strings.TrimSpace(c.QueryParam("ordering"))
	return q, ""
}

func (h *CatalogHandler) ListBooks(c echo.Context) error {
	q, msg := bookQuery(c)
	if msg != "" {
		return badRequest(c, msg)
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	page, err := h.Catalog.ListBooks(ctx, q)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, page)
}

func (h *CatalogHandler) SearchBooks(c echo.Context) error {
	q, msg := bookQuery(c)
	if msg != "" {
		return badRequest(c, msg)
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	page, err := h.Catalog.SearchBooks(ctx, q)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, page)
}

func (h *CatalogHandler) GetBook(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid book id")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	b, err := h.Catalog.GetBook(ctx, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

type bookReq struct {
	Title         *string `json:"title"`
	Author        *string `json:"author"`
	Description   *string `json:"description"`
	Genre         *uint64 `json:"genre"`
	YearPublished *int    `json:"year_published"`
	ISBN          *string `json:"isbn"`
	CoverImageURL *string `json:"cover_image_url"`
	PDFURL        *string `json:"pdf_url"`
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func (r bookReq) input() service.BookInput {
	return service.BookInput{
		Title:         deref(r.Title),
		Author:        deref(r.Author),
		Description:   deref(r.Description),
		GenreID:       r.Genre,
		YearPublished: deref(r.YearPublished),
		ISBN:          r.ISBN,
		CoverImageURL: r.CoverImageURL,
		PDFURL:        r.PDFURL,
	}
}

// readBook decodes a book body.  Status is owned by the reservation
// workflow, so a body that tries to set it is rejected.
func readBook(c echo.Context) (bookReq, map[string]bool, string) {
	var req bookReq
	fields, err := readObject(c, &req)
	if err != nil {
		return req, nil, "invalid body"
	}
	if _, ok := fields["status"]; ok {
		return req, nil, "status is read-only; it changes only through reservations"
	}
	present := make(map[string]bool, len(fields))
	for k, v := range fields {
		present[k] = true
		if k == "genre" && isNull(v) {
			present["genre:null"] = true
		}
	}
	return req, present, ""
}

func (h *CatalogHandler) CreateBook(c echo.Context) error {
	req, _, msg := readBook(c)
	if msg != "" {
		return badRequest(c, msg)
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	b, err := h.Catalog.CreateBook(ctx, actor(c), req.input())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, b)
}

// UpdateBook replaces every writable field.
func (h *CatalogHandler) UpdateBook(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid book id")
	}
	req, _, msg := readBook(c)
	if msg != "" {
		return badRequest(c, msg)
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	b, err := h.Catalog.UpdateBook(ctx, actor(c), id, req.input())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// PatchBook updates only the fields present in the body.  "genre": null
// detaches the book from its genre.
func (h *CatalogHandler) PatchBook(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid book id")
	}
	req, present, msg := readBook(c)
	if msg != "" {
		return badRequest(c, msg)
	}
	p := service.BookPatch{
		Title:         req.Title,
		Author:        req.Author,
		Description:   req.Description,
		GenreID:       req.Genre,
		ClearGenre:    present["genre:null"],
		YearPublished: req.YearPublished,
		ISBN:          req.ISBN,
		CoverImageURL: req.CoverImageURL,
		PDFURL:        req.PDFURL,
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	b, err := h.Catalog.PatchBook(ctx, actor(c), id, p)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *CatalogHandler) DeleteBook(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid book id")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	if err := h.Catalog.DeleteBook(ctx, actor(c), id); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
