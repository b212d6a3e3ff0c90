//go:build integration

package repository_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/library-reservation/internal/access"
	"github.com/iliyamo/library-reservation/internal/model"
	"github.com/iliyamo/library-reservation/internal/repository"
	"github.com/iliyamo/library-reservation/internal/service"
	"github.com/iliyamo/library-reservation/internal/testenv"
)

var mysqlEnv *testenv.MySQL

func TestMain(m *testing.M) {
	ctx := context.Background()
	env, err := testenv.StartMySQL(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "integration: ", err)
		os.Exit(1)
	}
	mysqlEnv = env
	code := m.Run()
	env.Teardown(ctx)
	os.Exit(code)
}

type fixture struct {
	users        *repository.UserRepo
	genres       *repository.GenreRepo
	books        *repository.BookRepo
	reservations *repository.ReservationRepo
	tokens       *repository.TokenRepo
	workflow     *service.Workflow
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	require.NoError(t, mysqlEnv.Truncate(context.Background()))
	db := mysqlEnv.DB
	res := repository.NewReservationRepo(db)
	return fixture{
		users:        repository.NewUserRepo(db),
		genres:       repository.NewGenreRepo(db),
		books:        repository.NewBookRepo(db),
		reservations: res,
		tokens:       repository.NewTokenRepo(db),
		workflow:     service.NewWorkflow(res),
	}
}

func (f fixture) user(t *testing.T, email, role string) access.Actor {
	t.Helper()
	u := model.User{Email: email, Username: email, PasswordHash: "x", Role: role}
	require.NoError(t, f.users.Create(context.Background(), &u))
	return access.Actor{UserID: u.ID, Role: access.Role(u.Role)}
}

func (f fixture) book(t *testing.T, title string, genre *uint64) model.Book {
	t.Helper()
	b := model.Book{Title: title, Author: "Ursula K. Le Guin", YearPublished: 1969, GenreID: genre}
	require.NoError(t, f.books.Create(context.Background(), &b))
	return b
}

func TestConcurrentCreatesOnOneBookCommitOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.book(t, "The Left Hand of Darkness", nil)

	const readers = 8
	actors := make([]access.Actor, readers)
	for i := range actors {
		actors[i] = f.user(t, fmt.Sprintf("reader%d@library.test", i), model.RoleUser)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		failures  []error
	)
	start := make(chan struct{})
	for _, a := range actors {
		wg.Add(1)
		go func(a access.Actor) {
			defer wg.Done()
			<-start
			_, err := f.workflow.Create(ctx, a, service.CreateInput{BookID: b.ID})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			failures = append(failures, err)
		}(a)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	require.Len(t, failures, readers-1)
	for _, err := range failures {
		assert.ErrorIs(t, err, service.ErrConflict)
	}

	got, err := f.books.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookReserved, got.Status)

	active, err := f.reservations.List(ctx, repository.ReservationFilter{BookID: &b.ID})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestActiveBookIndexRejectsSecondActiveRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.book(t, "A Wizard of Earthsea", nil)
	u1 := f.user(t, "one@library.test", model.RoleUser)
	u2 := f.user(t, "two@library.test", model.RoleUser)

	insert := func(userID uint64) error {
		return f.reservations.InTx(ctx, func(tx repository.WorkflowTx) error {
			r := model.Reservation{UserID: userID, BookID: b.ID, Status: model.ReservationPending, ReservationDate: time.Now().UTC()}
			return tx.InsertReservation(ctx, &r)
		})
	}
	require.NoError(t, insert(u1.UserID))
	assert.ErrorIs(t, insert(u2.UserID), repository.ErrDuplicate)
}

func TestReservationLifecycleAgainstMySQL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.user(t, "admin@library.test", model.RoleAdmin)
	reader := f.user(t, "reader@library.test", model.RoleUser)

	g := model.Genre{Name: "Science Fiction"}
	require.NoError(t, f.genres.Create(ctx, &g))
	b := f.book(t, "The Dispossessed", &g.ID)

	pickup, at := "2026-11-02", "14:30"
	r, err := f.workflow.Create(ctx, reader, service.CreateInput{BookID: b.ID, PickupDate: &pickup, PickupTime: &at})
	require.NoError(t, err)
	assert.Equal(t, model.ReservationPending, r.Status)

	stored, err := f.reservations.Get(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PickupDate)
	require.NotNil(t, stored.PickupTime)
	assert.Equal(t, pickup, *stored.PickupDate)
	assert.Equal(t, at, *stored.PickupTime)
	assert.Equal(t, "The Dispossessed", stored.BookTitle)

	_, err = f.workflow.MarkTaken(ctx, admin, r.ID, nil)
	assert.ErrorIs(t, err, service.ErrInvalidState)

	comment := "ready at the desk"
	r, err = f.workflow.Confirm(ctx, admin, r.ID, &comment)
	require.NoError(t, err)
	require.NotNil(t, r.ConfirmedDate)
	assert.Equal(t, comment, *r.AdminComment)

	r, err = f.workflow.MarkTaken(ctx, admin, r.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, r.TakenDate)
	got, err := f.books.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookTaken, got.Status)

	r, err = f.workflow.MarkReturned(ctx, admin, r.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, r.ReturnDate)
	got, err = f.books.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookAvailable, got.Status)

	again, err := f.workflow.Create(ctx, reader, service.CreateInput{BookID: b.ID})
	require.NoError(t, err)
	_, err = f.workflow.Cancel(ctx, reader, again.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, f.books.Delete(ctx, b.ID), repository.ErrConflict)
	assert.ErrorIs(t, f.genres.Delete(ctx, g.ID), repository.ErrConflict)

	history, err := f.workflow.ListOwn(ctx, reader, "")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestBookListingAgainstMySQL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := model.Genre{Name: "Fantasy"}
	require.NoError(t, f.genres.Create(ctx, &g))
	for _, b := range []model.Book{
		{Title: "The Hobbit", Author: "J.R.R. Tolkien", GenreID: &g.ID, YearPublished: 1937},
		{Title: "The Silmarillion", Author: "J.R.R. Tolkien", GenreID: &g.ID, YearPublished: 1977},
		{Title: "Neuromancer", Author: "William Gibson", YearPublished: 1984, Description: "100% cyberpunk"},
	} {
		b := b
		require.NoError(t, f.books.Create(ctx, &b))
	}

	books, total, err := f.books.List(ctx, repository.BookFilter{Search: "tolkien", Ordering: "-year_published"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, books, 2)
	assert.Equal(t, "The Silmarillion", books[0].Title)
	require.NotNil(t, books[0].GenreName)
	assert.Equal(t, "Fantasy", *books[0].GenreName)

	books, total, err = f.books.List(ctx, repository.BookFilter{Search: "100%"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, "Neuromancer", books[0].Title)

	books, total, err = f.books.List(ctx, repository.BookFilter{Ordering: "title", Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, books, 1)
	assert.Equal(t, "The Silmarillion", books[0].Title)

	isbn := "9780261103344"
	dup := model.Book{Title: "Copy", ISBN: &isbn}
	require.NoError(t, f.books.Create(ctx, &dup))
	dup2 := model.Book{Title: "Copy 2", ISBN: &isbn}
	assert.ErrorIs(t, f.books.Create(ctx, &dup2), repository.ErrDuplicate)

	missing := uint64(987654)
	assert.ErrorIs(t, f.books.Create(ctx, &model.Book{Title: "Orphan", GenreID: &missing}), repository.ErrNotFound)
}

func TestRefreshTokensAgainstMySQL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "tokens@library.test", model.RoleUser)

	require.NoError(t, f.tokens.StoreRefresh(ctx, u.UserID, "live", time.Now().Add(time.Hour)))
	require.NoError(t, f.tokens.StoreRefresh(ctx, u.UserID, "stale", time.Now().Add(-time.Minute)))
	assert.ErrorIs(t, f.tokens.StoreRefresh(ctx, u.UserID, "live", time.Now().Add(time.Hour)), repository.ErrDuplicate)

	id, err := f.tokens.ValidateRefresh(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, u.UserID, id)
	_, err = f.tokens.ValidateRefresh(ctx, "stale")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, f.tokens.RevokeByHash(ctx, "live"))
	require.NoError(t, f.tokens.RevokeByHash(ctx, "live"))
	_, err = f.tokens.ValidateRefresh(ctx, "live")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
