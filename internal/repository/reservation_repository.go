package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/iliyamo/library-reservation/internal/model"
)

// ReservationRepo reads reservations and runs the transactions that move
// them through their lifecycle.  All timestamp fields are assumed to be
// stored in UTC.  Reservation rows are never deleted.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// reservationSelectColumns lists the columns read for a reservation joined
// with the title of its book.
var reservationSelectColumns = []any{
	goqu.I("r.id"), goqu.I("r.user_id"), goqu.I("r.book_id"), goqu.I("r.status"),
	goqu.I("r.reservation_date"), goqu.I("r.confirmed_date"), goqu.I("r.taken_date"), goqu.I("r.return_date"),
	goqu.I("r.pickup_date"), goqu.I("r.pickup_time"), goqu.I("r.user_comment"), goqu.I("r.admin_comment"),
	goqu.I("b.title"),
}

// reservationLockColumns is the same column list without the join, used by
// SELECT ... FOR UPDATE inside workflow transactions.
const reservationLockColumns = `id, user_id, book_id, status, reservation_date, confirmed_date, taken_date, return_date,
	pickup_date, pickup_time, user_comment, admin_comment, ''`

func reservationsDataset() *goqu.SelectDataset {
	return dialect.From(goqu.T("reservations").As("r")).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("r.book_id")))).
		Prepared(true)
}

// scanReservation reads one reservation row.  pickup_date is a DATE column
// and arrives as a time value; pickup_time is a TIME column and arrives as
// "HH:MM:SS", which is trimmed to minutes.
func scanReservation(row rowScanner, r *model.Reservation) error {
	var (
		status       string
		confirmed    sql.NullTime
		taken        sql.NullTime
		returned     sql.NullTime
		pickupDate   sql.NullTime
		pickupTime   sql.NullString
		userComment  sql.NullString
		adminComment sql.NullString
	)
	if err := row.Scan(
		&r.ID, &r.UserID, &r.BookID, &status,
		&r.ReservationDate, &confirmed, &taken, &returned,
		&pickupDate, &pickupTime, &userComment, &adminComment,
		&r.BookTitle,
	); err != nil {
		return err
	}
	r.Status = model.ReservationStatus(status)
	r.ReservationDate = r.ReservationDate.UTC()
	r.ConfirmedDate = nullTimePtr(confirmed)
	r.TakenDate = nullTimePtr(taken)
	r.ReturnDate = nullTimePtr(returned)
	if pickupDate.Valid {
		d := pickupDate.Time.Format("2006-01-02")
		r.PickupDate = &d
	}
	if pickupTime.Valid && len(pickupTime.String) >= 5 {
		t := pickupTime.String[:5]
		r.PickupTime = &t
	}
	r.UserComment = nullStringPtr(userComment)
	r.AdminComment = nullStringPtr(adminComment)
	return nil
}

// Get returns a reservation with its book title or ErrNotFound.
func (r *ReservationRepo) Get(ctx context.Context, id uint64) (*model.Reservation, error) {
	q, args, err := reservationsDataset().Select(reservationSelectColumns...).Where(goqu.I("r.id").Eq(id)).ToSQL()
	if err != nil {
		return nil, err
	}
	var res model.Reservation
	if err := scanReservation(r.db.QueryRowContext(ctx, q, args...), &res); err != nil {
		return nil, mapError(err)
	}
	return &res, nil
}

// List returns reservations matching the filter, newest first.
func (r *ReservationRepo) List(ctx context.Context, f ReservationFilter) ([]model.Reservation, error) {
	ds := reservationsDataset().Select(reservationSelectColumns...)
	if f.UserID != nil {
		ds = ds.Where(goqu.I("r.user_id").Eq(*f.UserID))
	}
	if f.BookID != nil {
		ds = ds.Where(goqu.I("r.book_id").Eq(*f.BookID))
	}
	if f.Status != "" {
		ds = ds.Where(goqu.I("r.status").Eq(string(f.Status)))
	}
	q, args, err := ds.Order(goqu.I("r.reservation_date").Desc(), goqu.I("r.id").Desc()).ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Reservation, 0)
	for rows.Next() {
		var res model.Reservation
		if err := scanReservation(rows, &res); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// InTx runs fn inside a READ COMMITTED transaction.  Row locks taken through
// the WorkflowTx are held until commit or rollback.  Deadlocks and lock
// wait timeouts surface as ErrTxConflict so the caller can retry.
func (r *ReservationRepo) InTx(ctx context.Context, fn func(tx WorkflowTx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(&reservationTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError(err)
	}
	committed = true
	return nil
}

// reservationTx implements WorkflowTx on top of a *sql.Tx.
type reservationTx struct {
	tx *sql.Tx
}

// LockBook reads a book and holds its row lock.
func (t *reservationTx) LockBook(ctx context.Context, id uint64) (*model.Book, error) {
	const q = `SELECT b.id, b.title, b.author, b.description, b.genre_id, NULL, b.year_published, b.isbn,
					  b.cover_image_url, b.pdf_url, b.status, b.created_at, b.updated_at
			   FROM books b WHERE b.id = ? FOR UPDATE`
	var b model.Book
	if err := scanBook(t.tx.QueryRowContext(ctx, q, id), &b); err != nil {
		return nil, mapError(err)
	}
	return &b, nil
}

// LockReservation reads a reservation and holds its row lock.  BookTitle is
// left empty.
func (t *reservationTx) LockReservation(ctx context.Context, id uint64) (*model.Reservation, error) {
	q := "SELECT " + reservationLockColumns + " FROM reservations WHERE id = ? FOR UPDATE"
	var res model.Reservation
	if err := scanReservation(t.tx.QueryRowContext(ctx, q, id), &res); err != nil {
		return nil, mapError(err)
	}
	return &res, nil
}

// HasActiveReservation reports whether the user already holds the book
// through a pending, confirmed or taken reservation.
func (t *reservationTx) HasActiveReservation(ctx context.Context, userID, bookID uint64) (bool, error) {
	const q = `SELECT EXISTS (
				   SELECT 1 FROM reservations
				   WHERE user_id = ? AND book_id = ? AND status IN ('pending', 'confirmed', 'taken')
			   )`
	var exists bool
	if err := t.tx.QueryRowContext(ctx, q, userID, bookID).Scan(&exists); err != nil {
		return false, mapError(err)
	}
	return exists, nil
}

// InsertReservation stores a new reservation and sets its generated id.
// The unique index on active_book_id rejects a second active reservation
// for the same book with ErrDuplicate.
func (t *reservationTx) InsertReservation(ctx context.Context, r *model.Reservation) error {
	const q = `INSERT INTO reservations
				   (user_id, book_id, status, reservation_date, pickup_date, pickup_time, user_comment)
			   VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := t.tx.ExecContext(ctx, q,
		r.UserID, r.BookID, string(r.Status), r.ReservationDate.UTC(),
		r.PickupDate, r.PickupTime, r.UserComment,
	)
	if err != nil {
		return mapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	r.ID = uint64(id)
	return nil
}

// UpdateReservation writes the mutable workflow fields of a reservation.
func (t *reservationTx) UpdateReservation(ctx context.Context, r *model.Reservation) error {
	const q = `UPDATE reservations
			   SET status = ?, confirmed_date = ?, taken_date = ?, return_date = ?, admin_comment = ?
			   WHERE id = ?`
	res, err := t.tx.ExecContext(ctx, q,
		string(r.Status), timePtrArg(r.ConfirmedDate), timePtrArg(r.TakenDate), timePtrArg(r.ReturnDate),
		r.AdminComment, r.ID,
	)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res)
}

// SetBookStatus overwrites the derived availability of a book.
func (t *reservationTx) SetBookStatus(ctx context.Context, bookID uint64, status model.BookStatus) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE books SET status = ?, updated_at = ? WHERE id = ?",
		string(status), time.Now().UTC(), bookID)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res)
}

// requireAffected returns ErrNotFound when an UPDATE matched no rows.  The
// DSN sets clientFoundRows so unchanged rows still count as matched.
func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
