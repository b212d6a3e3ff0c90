package repository

import (
	"context"
	"time"

	"github.com/iliyamo/library-reservation/internal/model"
)

// BookFilter narrows a book listing.  Zero values mean "no filter".
// Search is a case-insensitive substring match over title, author and
// description.  Ordering is one of title, author, year_published or
// created_at, optionally prefixed with "-" for descending order.
type BookFilter struct {
	GenreID  *uint64
	Status   model.BookStatus
	Year     *int
	Search   string
	Ordering string
	Page     int
	PageSize int
}

// ReservationFilter narrows a reservation listing.
type ReservationFilter struct {
	UserID *uint64
	BookID *uint64
	Status model.ReservationStatus
}

// GenreStore persists genres.
type GenreStore interface {
	List(ctx context.Context) ([]model.Genre, error)
	Get(ctx context.Context, id uint64) (*model.Genre, error)
	Create(ctx context.Context, g *model.Genre) error
	Update(ctx context.Context, g *model.Genre) error
	// Delete returns ErrConflict while any book references the genre.
	Delete(ctx context.Context, id uint64) error
}

// BookStore persists books.  Create always stores status available and
// Update never touches status; only WorkflowTx.SetBookStatus writes it.
type BookStore interface {
	List(ctx context.Context, f BookFilter) ([]model.Book, int64, error)
	Get(ctx context.Context, id uint64) (*model.Book, error)
	Create(ctx context.Context, b *model.Book) error
	Update(ctx context.Context, b *model.Book) error
	// Delete returns ErrConflict while any reservation references the book.
	Delete(ctx context.Context, id uint64) error
}

// ReservationStore reads reservations and runs workflow transactions.
type ReservationStore interface {
	Get(ctx context.Context, id uint64) (*model.Reservation, error)
	List(ctx context.Context, f ReservationFilter) ([]model.Reservation, error)
	// InTx runs fn inside a single transaction.  The transaction commits
	// when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx WorkflowTx) error) error
}

// WorkflowTx is the set of writes a reservation transition may perform.
// Lock methods take row locks held until the transaction ends; callers lock
// the book before the reservation.
type WorkflowTx interface {
	LockBook(ctx context.Context, id uint64) (*model.Book, error)
	LockReservation(ctx context.Context, id uint64) (*model.Reservation, error)
	HasActiveReservation(ctx context.Context, userID, bookID uint64) (bool, error)
	InsertReservation(ctx context.Context, r *model.Reservation) error
	UpdateReservation(ctx context.Context, r *model.Reservation) error
	SetBookStatus(ctx context.Context, bookID uint64, status model.BookStatus) error
}

// UserStore persists user accounts.
type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id uint64) (*model.User, error)
	// UpdateProfile writes username and phone only.
	UpdateProfile(ctx context.Context, u *model.User) error
	UpdatePassword(ctx context.Context, id uint64, passwordHash string) error
}

// TokenStore persists hashed refresh tokens.
type TokenStore interface {
	StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error
	// ValidateRefresh returns the owning user of a non-revoked, unexpired
	// token or ErrNotFound.
	ValidateRefresh(ctx context.Context, tokenHash string) (uint64, error)
	RevokeByHash(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID uint64) error
}
