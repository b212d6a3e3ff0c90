package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql" // registers the mysql dialect
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/iliyamo/library-reservation/internal/model"
)

// dialect renders goqu datasets as MySQL statements with ? placeholders.
var dialect = goqu.Dialect("mysql")

// BookRepo provides CRUD operations and filtered listing for books.  The
// status column is written only by the reservation workflow; Create stores
// available and Update leaves status untouched.
type BookRepo struct {
	db *sql.DB
}

// NewBookRepo returns a new BookRepo bound to the given database.
func NewBookRepo(db *sql.DB) *BookRepo { return &BookRepo{db: db} }

// bookSelectColumns lists the columns read for a book joined with its genre.
var bookSelectColumns = []any{
	goqu.I("b.id"), goqu.I("b.title"), goqu.I("b.author"), goqu.I("b.description"),
	goqu.I("b.genre_id"), goqu.I("g.name"), goqu.I("b.year_published"), goqu.I("b.isbn"),
	goqu.I("b.cover_image_url"), goqu.I("b.pdf_url"), goqu.I("b.status"),
	goqu.I("b.created_at"), goqu.I("b.updated_at"),
}

// bookOrderings maps the public ordering names onto columns.
var bookOrderings = map[string]string{
	"title":          "b.title",
	"author":         "b.author",
	"year_published": "b.year_published",
	"created_at":     "b.created_at",
}

// ValidBookOrdering reports whether ordering names a supported sort key.
func ValidBookOrdering(ordering string) bool {
	_, ok := bookOrderings[strings.TrimPrefix(ordering, "-")]
	return ordering == "" || ok
}

func scanBook(row rowScanner, b *model.Book) error {
	var (
		genreID   sql.NullInt64
		genreName sql.NullString
		isbn      sql.NullString
		cover     sql.NullString
		pdf       sql.NullString
		status    string
	)
	if err := row.Scan(
		&b.ID, &b.Title, &b.Author, &b.Description,
		&genreID, &genreName, &b.YearPublished, &isbn,
		&cover, &pdf, &status,
		&b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return err
	}
	b.GenreID = nullUint64Ptr(genreID)
	b.GenreName = nullStringPtr(genreName)
	b.ISBN = nullStringPtr(isbn)
	b.CoverImageURL = nullStringPtr(cover)
	b.PDFURL = nullStringPtr(pdf)
	b.Status = model.BookStatus(status)
	return nil
}

// booksDataset returns the base books ⟕ genres dataset.
func booksDataset() *goqu.SelectDataset {
	return dialect.From(goqu.T("books").As("b")).
		LeftJoin(goqu.T("genres").As("g"), goqu.On(goqu.I("g.id").Eq(goqu.I("b.genre_id")))).
		Prepared(true)
}

// likePattern escapes LIKE wildcards in s and wraps it for substring
// matching.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

// bookConditions turns a filter into WHERE expressions.
func bookConditions(f BookFilter) []exp.Expression {
	where := make([]exp.Expression, 0, 4)
	if f.GenreID != nil {
		where = append(where, goqu.I("b.genre_id").Eq(*f.GenreID))
	}
	if f.Status != "" {
		where = append(where, goqu.I("b.status").Eq(string(f.Status)))
	}
	if f.Year != nil {
		where = append(where, goqu.I("b.year_published").Eq(*f.Year))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		// ILIKE renders as LIKE under the mysql dialect; the utf8mb4 general
		// collation makes the match case-insensitive.
		p := likePattern(s)
		where = append(where, goqu.Or(
			goqu.I("b.title").ILike(p),
			goqu.I("b.author").ILike(p),
			goqu.I("b.description").ILike(p),
		))
	}
	return where
}

// bookOrder translates the ordering name into ORDER BY expressions.  The
// id tiebreaker keeps pagination stable.
func bookOrder(ordering string) []exp.OrderedExpression {
	desc := strings.HasPrefix(ordering, "-")
	col, ok := bookOrderings[strings.TrimPrefix(ordering, "-")]
	if !ok {
		col, desc = "b.created_at", true
	}
	if desc {
		return []exp.OrderedExpression{goqu.I(col).Desc(), goqu.I("b.id").Desc()}
	}
	return []exp.OrderedExpression{goqu.I(col).Asc(), goqu.I("b.id").Asc()}
}

// List returns one page of books matching the filter together with the
// total number of matches.
func (r *BookRepo) List(ctx context.Context, f BookFilter) ([]model.Book, int64, error) {
	base := booksDataset().Where(bookConditions(f)...)

	countSQL, countArgs, err := base.Select(goqu.COUNT(goqu.Star())).ToSQL()
	if err != nil {
		return nil, 0, err
	}
	var total int64
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, size := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	dataSQL, args, err := base.Select(bookSelectColumns...).
		Order(bookOrder(f.Ordering)...).
		Limit(uint(size)).
		Offset(uint((page - 1) * size)).
		ToSQL()
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]model.Book, 0, size)
	for rows.Next() {
		var b model.Book
		if err := scanBook(rows, &b); err != nil {
			return nil, 0, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Get fetches a single book with its genre name.  It returns ErrNotFound
// when no book has the given id.
func (r *BookRepo) Get(ctx context.Context, id uint64) (*model.Book, error) {
	q, args, err := booksDataset().Select(bookSelectColumns...).Where(goqu.I("b.id").Eq(id)).ToSQL()
	if err != nil {
		return nil, err
	}
	var b model.Book
	if err := scanBook(r.db.QueryRowContext(ctx, q, args...), &b); err != nil {
		return nil, mapError(err)
	}
	return &b, nil
}

// Create inserts a new book with status available and reloads it so the
// caller receives generated ids, timestamps and the genre name.  An ISBN
// collision returns ErrDuplicate; an unknown genre returns ErrNotFound.
func (r *BookRepo) Create(ctx context.Context, b *model.Book) error {
	const q = `INSERT INTO books (title, author, description, genre_id, year_published, isbn, cover_image_url, pdf_url, status)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q,
		b.Title, b.Author, b.Description, b.GenreID, b.YearPublished,
		b.ISBN, b.CoverImageURL, b.PDFURL, string(model.BookAvailable),
	)
	if err != nil {
		return mapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	created, err := r.Get(ctx, uint64(id))
	if err != nil {
		return err
	}
	*b = *created
	return nil
}

// Update overwrites the descriptive fields of a book.  Status is never
// written here.
func (r *BookRepo) Update(ctx context.Context, b *model.Book) error {
	const q = `UPDATE books
	           SET title = ?, author = ?, description = ?, genre_id = ?, year_published = ?,
	               isbn = ?, cover_image_url = ?, pdf_url = ?
	           WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, q,
		b.Title, b.Author, b.Description, b.GenreID, b.YearPublished,
		b.ISBN, b.CoverImageURL, b.PDFURL, b.ID,
	); err != nil {
		return mapError(err)
	}
	updated, err := r.Get(ctx, b.ID)
	if err != nil {
		return err
	}
	*b = *updated
	return nil
}

// Delete removes a book that has never been reserved.  Reservation history
// is retained, so any reservation row blocks the delete with ErrConflict.
func (r *BookRepo) Delete(ctx context.Context, id uint64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var locked uint64
	if err := tx.QueryRowContext(ctx, "SELECT id FROM books WHERE id = ? FOR UPDATE", id).Scan(&locked); err != nil {
		return mapError(err)
	}
	var refs int64
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM reservations WHERE book_id = ?", id).Scan(&refs); err != nil {
		return err
	}
	if refs > 0 {
		return ErrConflict
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM books WHERE id = ?", id); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return mapError(err)
	}
	committed = true
	return nil
}
