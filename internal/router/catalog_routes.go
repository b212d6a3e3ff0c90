package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-reservation/internal/access"
	"github.com/iliyamo/library-reservation/internal/handler"
	"github.com/iliyamo/library-reservation/internal/middleware"
)

// RegisterCatalog registers genre and book routes under /api.  Reads are
// public and go through the response cache; writes are admin only.
// Middleware is attached per route so unknown /api paths still answer 404.
func RegisterCatalog(e *echo.Echo, h *handler.CatalogHandler, cache echo.MiddlewareFunc) {
	g := e.Group("/api")
	g.GET("/genres", h.ListGenres, cache)
	g.GET("/genres/:id", h.GetGenre, cache)
	g.GET("/books", h.ListBooks, cache)
	g.GET("/books/search", h.SearchBooks, cache)
	g.GET("/books/:id", h.GetBook, cache)

	admin := middleware.Authorize(access.CatalogWrite)
	g.POST("/genres", h.CreateGenre, admin)
	g.POST("/genres/create", h.CreateGenre, admin)
	g.PUT("/genres/:id", h.UpdateGenre, admin)
	g.PATCH("/genres/:id", h.UpdateGenre, admin)
	g.DELETE("/genres/:id", h.DeleteGenre, admin)

	g.POST("/books", h.CreateBook, admin)
	g.POST("/books/create", h.CreateBook, admin)
	g.PUT("/books/:id", h.UpdateBook, admin)
	g.PATCH("/books/:id", h.PatchBook, admin)
	g.PUT("/books/:id/update", h.UpdateBook, admin)
	g.PATCH("/books/:id/update", h.PatchBook, admin)
	g.DELETE("/books/:id", h.DeleteBook, admin)
	g.DELETE("/books/:id/delete", h.DeleteBook, admin)
}
