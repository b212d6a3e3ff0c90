package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/library-reservation/internal/model"
	"github.com/iliyamo/library-reservation/internal/repository"
)

func strPtr(s string) *string { return &s }

func fixedClock() func() time.Time {
	t := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func seed(t *testing.T) (*Store, model.User, model.Book) {
	t.Helper()
	ctx := context.Background()
	s := New(WithClock(fixedClock()))
	u := model.User{Email: "Reader@Example.com", Username: "reader", PasswordHash: "x"}
	require.NoError(t, s.Users().Create(ctx, &u))
	b := model.Book{Title: "Dune", Author: "Frank Herbert", YearPublished: 1965}
	require.NoError(t, s.Books().Create(ctx, &b))
	return s, u, b
}

func TestUsersNormalizeEmailAndRejectDuplicates(t *testing.T) {
	s, u, _ := seed(t)
	ctx := context.Background()

	assert.Equal(t, "reader@example.com", u.Email)
	assert.Equal(t, model.RoleUser, u.Role)

	got, err := s.Users().GetByEmail(ctx, " READER@example.com ")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	err = s.Users().Create(ctx, &model.User{Email: "reader@example.com"})
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	_, err = s.Users().GetByID(ctx, 999)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestBookCreateIgnoresStatusAndUpdateKeepsIt(t *testing.T) {
	s, _, _ := seed(t)
	ctx := context.Background()

	b := model.Book{Title: "Emma", Author: "Jane Austen", Status: model.BookTaken}
	require.NoError(t, s.Books().Create(ctx, &b))
	assert.Equal(t, model.BookAvailable, b.Status)

	require.NoError(t, s.Reservations().InTx(ctx, func(tx repository.WorkflowTx) error {
		return tx.SetBookStatus(ctx, b.ID, model.BookReserved)
	}))

	b.Title = "Emma (annotated)"
	b.Status = model.BookAvailable
	require.NoError(t, s.Books().Update(ctx, &b))
	assert.Equal(t, model.BookReserved, b.Status)
	assert.Equal(t, "Emma (annotated)", b.Title)
}

func TestBookUniqueISBNAndGenreReference(t *testing.T) {
	s, _, _ := seed(t)
	ctx := context.Background()

	require.NoError(t, s.Books().Create(ctx, &model.Book{Title: "A", ISBN: strPtr("978-0")}))
	err := s.Books().Create(ctx, &model.Book{Title: "B", ISBN: strPtr("978-0")})
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	missing := uint64(42)
	err = s.Books().Create(ctx, &model.Book{Title: "C", GenreID: &missing})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestBookListFiltersSearchAndPages(t *testing.T) {
	s := New(WithClock(fixedClock()))
	ctx := context.Background()

	g := model.Genre{Name: "Fantasy"}
	require.NoError(t, s.Genres().Create(ctx, &g))
	for _, b := range []model.Book{
		{Title: "The Hobbit", Author: "J.R.R. Tolkien", GenreID: &g.ID, YearPublished: 1937},
		{Title: "The Silmarillion", Author: "J.R.R. Tolkien", GenreID: &g.ID, YearPublished: 1977},
		{Title: "Neuromancer", Author: "William Gibson", YearPublished: 1984, Description: "cyberpunk"},
	} {
		b := b
		require.NoError(t, s.Books().Create(ctx, &b))
	}

	books, total, err := s.Books().List(ctx, repository.BookFilter{Search: "TOLKIEN", Ordering: "year_published"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, books, 2)
	assert.Equal(t, "The Hobbit", books[0].Title)
	require.NotNil(t, books[0].GenreName)
	assert.Equal(t, "Fantasy", *books[0].GenreName)

	books, total, err = s.Books().List(ctx, repository.BookFilter{Search: "punk"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, "Neuromancer", books[0].Title)

	books, total, err = s.Books().List(ctx, repository.BookFilter{Ordering: "-title", Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, books, 1)
	assert.Equal(t, "Neuromancer", books[0].Title)

	books, _, err = s.Books().List(ctx, repository.BookFilter{Page: 9})
	require.NoError(t, err)
	assert.Empty(t, books)
}

func TestGenreDeleteBlockedWhileReferenced(t *testing.T) {
	s := New()
	ctx := context.Background()
	g := model.Genre{Name: "Poetry"}
	require.NoError(t, s.Genres().Create(ctx, &g))
	b := model.Book{Title: "Odes", GenreID: &g.ID}
	require.NoError(t, s.Books().Create(ctx, &b))

	assert.ErrorIs(t, s.Genres().Delete(ctx, g.ID), repository.ErrConflict)
	require.NoError(t, s.Books().Delete(ctx, b.ID))
	assert.NoError(t, s.Genres().Delete(ctx, g.ID))
	assert.ErrorIs(t, s.Genres().Delete(ctx, g.ID), repository.ErrNotFound)
}

func TestInTxRollsBackOnError(t *testing.T) {
	s, u, b := seed(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Reservations().InTx(ctx, func(tx repository.WorkflowTx) error {
		r := model.Reservation{UserID: u.ID, BookID: b.ID, Status: model.ReservationPending}
		if err := tx.InsertReservation(ctx, &r); err != nil {
			return err
		}
		if err := tx.SetBookStatus(ctx, b.ID, model.BookReserved); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.Books().Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookAvailable, got.Status)
	list, err := s.Reservations().List(ctx, repository.ReservationFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestOneActiveReservationPerBook(t *testing.T) {
	s, u, b := seed(t)
	ctx := context.Background()
	other := model.User{Email: "second@example.com"}
	require.NoError(t, s.Users().Create(ctx, &other))

	var first model.Reservation
	require.NoError(t, s.Reservations().InTx(ctx, func(tx repository.WorkflowTx) error {
		first = model.Reservation{UserID: u.ID, BookID: b.ID, Status: model.ReservationPending}
		return tx.InsertReservation(ctx, &first)
	}))

	err := s.Reservations().InTx(ctx, func(tx repository.WorkflowTx) error {
		r := model.Reservation{UserID: other.ID, BookID: b.ID, Status: model.ReservationPending}
		return tx.InsertReservation(ctx, &r)
	})
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	require.NoError(t, s.Reservations().InTx(ctx, func(tx repository.WorkflowTx) error {
		first.Status = model.ReservationCancelled
		return tx.UpdateReservation(ctx, &first)
	}))
	assert.NoError(t, s.Reservations().InTx(ctx, func(tx repository.WorkflowTx) error {
		r := model.Reservation{UserID: other.ID, BookID: b.ID, Status: model.ReservationPending}
		return tx.InsertReservation(ctx, &r)
	}))

	got, err := s.Reservations().Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dune", got.BookTitle)
	assert.ErrorIs(t, s.Books().Delete(ctx, b.ID), repository.ErrConflict)
}

func TestRefreshTokens(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, s.Tokens().StoreRefresh(ctx, 3, "h1", now.Add(time.Hour)))
	require.NoError(t, s.Tokens().StoreRefresh(ctx, 3, "h2", now.Add(-time.Minute)))

	uid, err := s.Tokens().ValidateRefresh(ctx, "h1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, uid)

	_, err = s.Tokens().ValidateRefresh(ctx, "h2")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, s.Tokens().RevokeAllForUser(ctx, 3))
	_, err = s.Tokens().ValidateRefresh(ctx, "h1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUserProfileAndPasswordUpdates(t *testing.T) {
	s, u, _ := seed(t)
	ctx := context.Background()

	u.Username = "renamed"
	u.Phone = strPtr("+100")
	u.Email = "ignored@example.com"
	require.NoError(t, s.Users().UpdateProfile(ctx, &u))
	assert.Equal(t, "reader@example.com", u.Email)

	require.NoError(t, s.Users().UpdatePassword(ctx, u.ID, "new-hash"))
	got, err := s.Users().GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Username)
	assert.Equal(t, "+100", *got.Phone)
	assert.Equal(t, "new-hash", got.PasswordHash)

	assert.ErrorIs(t, s.Users().UpdatePassword(ctx, 999, "x"), repository.ErrNotFound)
	assert.ErrorIs(t, s.Users().UpdateProfile(ctx, &model.User{ID: 999}), repository.ErrNotFound)
}
