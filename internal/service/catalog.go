package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/iliyamo/library-reservation/internal/access"
	"github.com/iliyamo/library-reservation/internal/model"
	"github.com/iliyamo/library-reservation/internal/repository"
)

// Page size limits for book listings.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Catalog serves genre and book reads and the admin writes.  Book.status
// is never written here.
type Catalog struct {
	genres repository.GenreStore
	books  repository.BookStore
	cache  CacheInvalidator
	logger *slog.Logger
	now    func() time.Time
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithCatalogCache sets the cache dropped after catalog writes.
func WithCatalogCache(c CacheInvalidator) CatalogOption {
	return func(s *Catalog) { s.cache = c }
}

// WithCatalogLogger sets the catalog logger.
func WithCatalogLogger(l *slog.Logger) CatalogOption {
	return func(s *Catalog) { s.logger = l }
}

// NewCatalog returns a Catalog over the given stores.
func NewCatalog(genres repository.GenreStore, books repository.BookStore, opts ...CatalogOption) *Catalog {
	c := &Catalog{genres: genres, books: books, cache: noopInvalidator{}, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (s *Catalog) invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.WarnContext(ctx, "catalog cache invalidation failed", slog.Any("error", err))
	}
}

func (s *Catalog) requireWrite(actor access.Actor) error {
	if !access.Authorize(actor, access.CatalogWrite, access.None) {
		return forbidden(access.CatalogWrite)
	}
	return nil
}

// ---- genres ----

// GenreInput is the writable part of a genre.
type GenreInput struct {
	Name        string
	Description *string
}

func (in *GenreInput) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return invalid("name is required")
	}
	if len(in.Name) > 100 {
		return invalid("name must be at most 100 characters")
	}
	return nil
}

// ListGenres returns all genres ordered by name.
func (s *Catalog) ListGenres(ctx context.Context) ([]model.Genre, error) {
	return s.genres.List(ctx)
}

// GetGenre returns one genre.
func (s *Catalog) GetGenre(ctx context.Context, id uint64) (*model.Genre, error) {
	g, err := s.genres.Get(ctx, id)
	return g, translate(err, "genre")
}

// CreateGenre adds a genre.  Names are unique.
func (s *Catalog) CreateGenre(ctx context.Context, actor access.Actor, in GenreInput) (*model.Genre, error) {
	if err := s.requireWrite(actor); err != nil {
		return nil, err
	}
	if err := in.normalize(); err != nil {
		return nil, err
	}
	g := model.Genre{Name: in.Name, Description: in.Description}
	if err := s.genres.Create(ctx, &g); err != nil {
		return nil, translate(err, "genre")
	}
	s.invalidate(ctx)
	return &g, nil
}

// UpdateGenre changes a genre.  A nil name or description keeps the
// stored value.
func (s *Catalog) UpdateGenre(ctx context.Context, actor access.Actor, id uint64, name, description *string) (*model.Genre, error) {
	if err := s.requireWrite(actor); err != nil {
		return nil, err
	}
	cur, err := s.genres.Get(ctx, id)
	if err != nil {
		return nil, translate(err, "genre")
	}
	in := GenreInput{Name: cur.Name, Description: cur.Description}
	if name != nil {
		in.Name = *name
	}
	if description != nil {
		in.Description = description
	}
	if err := in.normalize(); err != nil {
		return nil, err
	}
	g := model.Genre{ID: id, Name: in.Name, Description: in.Description}
	if err := s.genres.Update(ctx, &g); err != nil {
		return nil, translate(err, "genre")
	}
	s.invalidate(ctx)
	return &g, nil
}

// DeleteGenre removes a genre no book references.
func (s *Catalog) DeleteGenre(ctx context.Context, actor access.Actor, id uint64) error {
	if err := s.requireWrite(actor); err != nil {
		return err
	}
	if err := s.genres.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return conflict("cannot delete a genre that books still reference")
		}
		return translate(err, "genre")
	}
	s.invalidate(ctx)
	return nil
}

// ---- books ----

// BookQuery is a parsed book listing request.
type BookQuery struct {
	GenreID  *uint64
	Status   model.BookStatus
	Year     *int
	Search   string
	Ordering string
	Page     int
	PageSize int
}

// BookPage is one page of a book listing.
type BookPage struct {
	Count    int64        `json:"count"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
	Results  []model.Book `json:"results"`
}

// ListBooks returns one page of books matching q.
func (s *Catalog) ListBooks(ctx context.Context, q BookQuery) (*BookPage, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, invalid("unknown book status")
	}
	if !repository.ValidBookOrdering(q.Ordering) {
		return nil, invalid("ordering must be one of title, author, year_published, created_at")
	}
	if q.Page < 1 {
		q.Page = 1
	}
	switch {
	case q.PageSize < 1:
		q.PageSize = DefaultPageSize
	case q.PageSize > MaxPageSize:
		q.PageSize = MaxPageSize
	}
	if q.Ordering == "" {
		q.Ordering = "-created_at"
	}
	books, total, err := s.books.List(ctx, repository.BookFilter{
		GenreID:  q.GenreID,
		Status:   q.Status,
		Year:     q.Year,
		Search:   q.Search,
		Ordering: q.Ordering,
		Page:     q.Page,
		PageSize: q.PageSize,
	})
	if err != nil {
		return nil, err
	}
	return &BookPage{Count: total, Page: q.Page, PageSize: q.PageSize, Results: books}, nil
}

// SearchBooks is ListBooks with a mandatory search term.
func (s *Catalog) SearchBooks(ctx context.Context, q BookQuery) (*BookPage, error) {
	if strings.TrimSpace(q.Search) == "" {
		return nil, invalid(`search parameter "q" is required`)
	}
	return s.ListBooks(ctx, q)
}

// GetBook returns one book.
func (s *Catalog) GetBook(ctx context.Context, id uint64) (*model.Book, error) {
	b, err := s.books.Get(ctx, id)
	return b, translate(err, "book")
}

// BookInput is the writable part of a book.  Status is not writable.
type BookInput struct {
	Title         string
	Author        string
	Description   string
	GenreID       *uint64
	YearPublished int
	ISBN          *string
	CoverImageURL *string
	PDFURL        *string
}

// BookPatch carries the fields of a partial update; nil keeps the stored
// value.  ClearGenre detaches the book from its genre.
type BookPatch struct {
	Title         *string
	Author        *string
	Description   *string
	GenreID       *uint64
	ClearGenre    bool
	YearPublished *int
	ISBN          *string
	CoverImageURL *string
	PDFURL        *string
}

func trimOptional(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (s *Catalog) validateBook(ctx context.Context, in *BookInput) error {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	in.Description = strings.TrimSpace(in.Description)
	in.ISBN = trimOptional(in.ISBN)
	in.CoverImageURL = trimOptional(in.CoverImageURL)
	in.PDFURL = trimOptional(in.PDFURL)

	switch {
	case in.Title == "":
		return invalid("title is required")
	case len(in.Title) > 255:
		return invalid("title must be at most 255 characters")
	case in.Author == "":
		return invalid("author is required")
	case len(in.Author) > 255:
		return invalid("author must be at most 255 characters")
	case in.YearPublished < 1 || in.YearPublished > s.now().Year()+1:
		return invalid("year_published is out of range")
	case in.ISBN != nil && len(*in.ISBN) > 13:
		return invalid("isbn must be at most 13 characters")
	case in.CoverImageURL != nil && !validURL(*in.CoverImageURL):
		return invalid("cover_image_url must be an http(s) URL")
	case in.PDFURL != nil && !validURL(*in.PDFURL):
		return invalid("pdf_url must be an http(s) URL")
	}
	if in.GenreID != nil {
		if _, err := s.genres.Get(ctx, *in.GenreID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return invalid(fmt.Sprintf("genre %d does not exist", *in.GenreID))
			}
			return err
		}
	}
	return nil
}

// bookWriteError translates store errors of book writes.
func bookWriteError(err error) error {
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		return conflict("a book with this isbn already exists")
	case errors.Is(err, repository.ErrNotFound):
		// foreign key to a genre deleted after validation
		return invalid("genre does not exist")
	}
	return translate(err, "book")
}

// CreateBook adds a book.  New books are always available.
func (s *Catalog) CreateBook(ctx context.Context, actor access.Actor, in BookInput) (*model.Book, error) {
	if err := s.requireWrite(actor); err != nil {
		return nil, err
	}
	if err := s.validateBook(ctx, &in); err != nil {
		return nil, err
	}
	b := model.Book{
		Title:         in.Title,
		Author:        in.Author,
		Description:   in.Description,
		GenreID:       in.GenreID,
		YearPublished: in.YearPublished,
		ISBN:          in.ISBN,
		CoverImageURL: in.CoverImageURL,
		PDFURL:        in.PDFURL,
	}
	if err := s.books.Create(ctx, &b); err != nil {
		return nil, bookWriteError(err)
	}
	s.invalidate(ctx)
	return &b, nil
}

// UpdateBook replaces the descriptive fields of a book.
func (s *Catalog) UpdateBook(ctx context.Context, actor access.Actor, id uint64, in BookInput) (*model.Book, error) {
	if err := s.requireWrite(actor); err != nil {
		return nil, err
	}
	if _, err := s.books.Get(ctx, id); err != nil {
		return nil, translate(err, "book")
	}
	if err := s.validateBook(ctx, &in); err != nil {
		return nil, err
	}
	return s.saveBook(ctx, id, in)
}

// PatchBook updates the fields present in p.
func (s *Catalog) PatchBook(ctx context.Context, actor access.Actor, id uint64, p BookPatch) (*model.Book, error) {
	if err := s.requireWrite(actor); err != nil {
		return nil, err
	}
	cur, err := s.books.Get(ctx, id)
	if err != nil {
		return nil, translate(err, "book")
	}
	in := BookInput{
		Title:         cur.Title,
		Author:        cur.Author,
		Description:   cur.Description,
		GenreID:       cur.GenreID,
		YearPublished: cur.YearPublished,
		ISBN:          cur.ISBN,
		CoverImageURL: cur.CoverImageURL,
		PDFURL:        cur.PDFURL,
	}
	if p.Title != nil {
		in.Title = *p.Title
	}
	if p.Author != nil {
		in.Author = *p.Author
	}
	if p.Description != nil {
		in.Description = *p.Description
	}
	if p.ClearGenre {
		in.GenreID = nil
	} else if p.GenreID != nil {
		in.GenreID = p.GenreID
	}
	if p.YearPublished != nil {
		in.YearPublished = *p.YearPublished
	}
	if p.ISBN != nil {
		in.ISBN = p.ISBN
	}
	if p.CoverImageURL != nil {
		in.CoverImageURL = p.CoverImageURL
	}
	if p.PDFURL != nil {
		in.PDFURL = p.PDFURL
	}
	if err := s.validateBook(ctx, &in); err != nil {
		return nil, err
	}
	return s.saveBook(ctx, id, in)
}

func (s *Catalog) saveBook(ctx context.Context, id uint64, in BookInput) (*model.Book, error) {
	b := model.Book{
		ID:            id,
		Title:         in.Title,
		Author:        in.Author,
		Description:   in.Description,
		GenreID:       in.GenreID,
		YearPublished: in.YearPublished,
		ISBN:          in.ISBN,
		CoverImageURL: in.CoverImageURL,
		PDFURL:        in.PDFURL,
	}
	if err := s.books.Update(ctx, &b); err != nil {
		return nil, bookWriteError(err)
	}
	s.invalidate(ctx)
	return &b, nil
}

// DeleteBook removes a book that was never reserved.  Books with
// reservation history cannot be deleted.
func (s *Catalog) DeleteBook(ctx context.Context, actor access.Actor, id uint64) error {
	if err := s.requireWrite(actor); err != nil {
		return err
	}
	if err := s.books.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return conflict("cannot delete a book with reservation history")
		}
		return translate(err, "book")
	}
	s.invalidate(ctx)
	return nil
}
