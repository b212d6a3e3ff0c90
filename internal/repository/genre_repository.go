package repository

import (
	"context"      // context allows passing deadlines and cancellation signals to DB operations
	"database/sql" // sql provides generic database operations and drivers

	"github.com/iliyamo/library-reservation/internal/model"
)

// GenreRepo encapsulates all database queries related to genres.  It
// depends on a sql.DB connection which should be configured elsewhere.
type GenreRepo struct {
	db *sql.DB // db is the underlying database connection pool
}

// NewGenreRepo constructs a GenreRepo with the provided DB handle.
func NewGenreRepo(db *sql.DB) *GenreRepo {
	return &GenreRepo{db: db}
}

const genreColumns = "id, name, description, created_at"

func scanGenre(row rowScanner, g *model.Genre) error {
	var desc sql.NullString
	if err := row.Scan(&g.ID, &g.Name, &desc, &g.CreatedAt); err != nil {
		return err
	}
	g.Description = nullStringPtr(desc)
	return nil
}

// List returns every genre ordered by name.
func (r *GenreRepo) List(ctx context.Context) ([]model.Genre, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+genreColumns+" FROM genres ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Genre, 0)
	for rows.Next() {
		var g model.Genre
		if err := scanGenre(rows, &g); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Get fetches a genre by its ID.  It returns ErrNotFound if no row exists.
func (r *GenreRepo) Get(ctx context.Context, id uint64) (*model.Genre, error) {
	var g model.Genre
	row := r.db.QueryRowContext(ctx, "SELECT "+genreColumns+" FROM genres WHERE id = ?", id)
	if err := scanGenre(row, &g); err != nil {
		return nil, mapError(err)
	}
	return &g, nil
}

// Create inserts a new genre.  On success the ID and CreatedAt fields are
// populated with the values generated by the database.  A name collision
// returns ErrDuplicate.
func (r *GenreRepo) Create(ctx context.Context, g *model.Genre) error {
	res, err := r.db.ExecContext(ctx, "INSERT INTO genres (name, description) VALUES (?, ?)", g.Name, g.Description)
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
	*g = *created
	return nil
}

// Update overwrites the name and description of an existing genre.
func (r *GenreRepo) Update(ctx context.Context, g *model.Genre) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE genres SET name = ?, description = ? WHERE id = ?", g.Name, g.Description, g.ID); err != nil {
		return mapError(err)
	}
	// MySQL reports zero affected rows for unchanged values, so existence
	// is confirmed with a follow-up read.
	updated, err := r.Get(ctx, g.ID)
	if err != nil {
		return err
	}
	*g = *updated
	return nil
}

// Delete removes a genre that no book references.  It returns ErrConflict
// when books still point at the genre and ErrNotFound when the genre does
// not exist.  The reference check and the delete share one transaction; the
// genre row is locked so a concurrent book insert cannot slip in between.
func (r *GenreRepo) Delete(ctx context.Context, id uint64) error {
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
	if err := tx.QueryRowContext(ctx, "SELECT id FROM genres WHERE id = ? FOR UPDATE", id).Scan(&locked); err != nil {
		return mapError(err)
	}
	var refs int64
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM books WHERE genre_id = ?", id).Scan(&refs); err != nil {
		return err
	}
	if refs > 0 {
		return ErrConflict
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM genres WHERE id = ?", id); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return mapError(err)
	}
	committed = true
	return nil
}
