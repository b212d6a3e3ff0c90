package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/iliyamo/library-reservation/internal/access"
	"github.com/iliyamo/library-reservation/internal/model"
	"github.com/iliyamo/library-reservation/internal/queue"
	"github.com/iliyamo/library-reservation/internal/repository"
)

// Event names a workflow transition on an existing reservation.
type Event string

const (
	EventConfirm Event = "confirm"
	EventTake    Event = "taken"
	EventReturn  Event = "returned"
	EventCancel  Event = "cancel"
)

// transition describes one row of the reservation state table.
type transition struct {
	action    access.Action
	from      []model.ReservationStatus
	to        model.ReservationStatus
	book      model.BookStatus // empty when the book keeps its status
	eventType string
	stamp     func(r *model.Reservation, now time.Time)
}

var transitions = map[Event]transition{
	EventConfirm: {
		action:    access.ReservationConfirm,
		from:      []model.ReservationStatus{model.ReservationPending},
		to:        model.ReservationConfirmed,
		eventType: queue.EventReservationConfirmed,
		stamp: func(r *model.Reservation, now time.Time) {
			if r.ConfirmedDate == nil {
				r.ConfirmedDate = &now
			}
		},
	},
	EventTake: {
		action:    access.ReservationTake,
		from:      []model.ReservationStatus{model.ReservationConfirmed},
		to:        model.ReservationTaken,
		book:      model.BookTaken,
		eventType: queue.EventReservationTaken,
		stamp: func(r *model.Reservation, now time.Time) {
			if r.TakenDate == nil {
				r.TakenDate = &now
			}
		},
	},
	EventReturn: {
		action:    access.ReservationReturn,
		from:      []model.ReservationStatus{model.ReservationTaken},
		to:        model.ReservationReturned,
		book:      model.BookAvailable,
		eventType: queue.EventReservationReturned,
		stamp: func(r *model.Reservation, now time.Time) {
			if r.ReturnDate == nil {
				r.ReturnDate = &now
			}
		},
	},
	EventCancel: {
		action:    access.ReservationCancel,
		from:      []model.ReservationStatus{model.ReservationPending, model.ReservationConfirmed},
		to:        model.ReservationCancelled,
		book:      model.BookAvailable,
		eventType: queue.EventReservationCancelled,
		stamp:     func(*model.Reservation, time.Time) {},
	},
}

func (t transition) allows(s model.ReservationStatus) bool {
	for _, f := range t.from {
		if f == s {
			return true
		}
	}
	return false
}

// ParseAdminEvent maps the admin route and bulk action names onto events.
func ParseAdminEvent(name string) (Event, bool) {
	switch Event(strings.ToLower(strings.TrimSpace(name))) {
	case EventConfirm:
		return EventConfirm, true
	case EventTake:
		return EventTake, true
	case EventReturn:
		return EventReturn, true
	}
	return "", false
}

// Workflow is the reservation state machine.  Each operation runs as one
// transaction that locks the book row and then the reservation row, checks
// the current state under those locks and writes the reservation and the
// coupled Book.status together.
type Workflow struct {
	reservations repository.ReservationStore
	publisher    EventPublisher
	cache        CacheInvalidator
	logger       *slog.Logger
	now          func() time.Time
	retry        []RetryOption
}

// WorkflowOption configures a Workflow.
type WorkflowOption func(*Workflow)

// WithPublisher sets the broker used for committed transitions.
func WithPublisher(p EventPublisher) WorkflowOption {
	return func(w *Workflow) { w.publisher = p }
}

// WithCacheInvalidator sets the catalog cache dropped after each transition.
func WithCacheInvalidator(c CacheInvalidator) WorkflowOption {
	return func(w *Workflow) { w.cache = c }
}

// WithLogger sets the workflow logger.
func WithLogger(l *slog.Logger) WorkflowOption {
	return func(w *Workflow) { w.logger = l }
}

// WithClock replaces time.Now for transition timestamps.
func WithClock(now func() time.Time) WorkflowOption {
	return func(w *Workflow) { w.now = now }
}

// WithRetry overrides the deadlock retry policy.
func WithRetry(opts ...RetryOption) WorkflowOption {
	return func(w *Workflow) { w.retry = append(w.retry, opts...) }
}

// NewWorkflow returns a Workflow over the given reservation store.
func NewWorkflow(reservations repository.ReservationStore, opts ...WorkflowOption) *Workflow {
	w := &Workflow{
		reservations: reservations,
		publisher:    queue.NoopPublisher{},
		cache:        noopInvalidator{},
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// runTx executes fn in a transaction, retrying deadlocks and lock wait
// timeouts with exponential backoff.
func (w *Workflow) runTx(ctx context.Context, operation string, fn func(tx repository.WorkflowTx) error) error {
	opts := append([]RetryOption{WithRetryLogger(w.logger, operation)}, w.retry...)
	return RetryWithExponentialBackoff(ctx, func(ctx context.Context) error {
		return w.reservations.InTx(ctx, fn)
	}, opts...)
}

// CreateInput carries the user-supplied fields of a new reservation.
type CreateInput struct {
	BookID      uint64
	PickupDate  *string // YYYY-MM-DD
	PickupTime  *string // HH:MM
	UserComment *string
}

const maxCommentLength = 1000

func normalizePickup(in *CreateInput) error {
	if in.PickupDate != nil {
		d := strings.TrimSpace(*in.PickupDate)
		if d == "" {
			in.PickupDate = nil
		} else if _, err := time.Parse("2006-01-02", d); err != nil {
			return invalid("pickup_date must be YYYY-MM-DD")
		} else {
			in.PickupDate = &d
		}
	}
	if in.PickupTime != nil {
		s := strings.TrimSpace(*in.PickupTime)
		if s == "" {
			in.PickupTime = nil
		} else {
			t, err := time.Parse("15:04", s)
			if err != nil {
				if t, err = time.Parse("15:04:05", s); err != nil {
					return invalid("pickup_time must be HH:MM")
				}
			}
			hm := t.Format("15:04")
			in.PickupTime = &hm
		}
	}
	if in.UserComment != nil && len(*in.UserComment) > maxCommentLength {
		return invalid(fmt.Sprintf("user_comment must be at most %d characters", maxCommentLength))
	}
	return nil
}

// Create reserves an available book for the actor.  The reservation starts
// pending and the book becomes reserved in the same transaction.
func (w *Workflow) Create(ctx context.Context, actor access.Actor, in CreateInput) (*model.Reservation, error) {
	if !access.Authorize(actor, access.ReservationCreate, access.None) {
		return nil, forbidden(access.ReservationCreate)
	}
	if in.BookID == 0 {
		return nil, invalid("book is required")
	}
	if err := normalizePickup(&in); err != nil {
		return nil, err
	}

	var created model.Reservation
	err := w.runTx(ctx, "reservation.create", func(tx repository.WorkflowTx) error {
		book, err := tx.LockBook(ctx, in.BookID)
		if err != nil {
			return err
		}
		held, err := tx.HasActiveReservation(ctx, actor.UserID, book.ID)
		if err != nil {
			return err
		}
		if held {
			return conflict("you already have an active reservation for this book")
		}
		if book.Status != model.BookAvailable {
			return conflict("book is not available for reservation")
		}
		r := model.Reservation{
			UserID:          actor.UserID,
			BookID:          book.ID,
			Status:          model.ReservationPending,
			ReservationDate: w.now().UTC(),
			PickupDate:      in.PickupDate,
			PickupTime:      in.PickupTime,
			UserComment:     in.UserComment,
		}
		if err := tx.InsertReservation(ctx, &r); err != nil {
			return err
		}
		if err := tx.SetBookStatus(ctx, book.ID, model.BookReserved); err != nil {
			return err
		}
		r.BookTitle = book.Title
		created = r
		return nil
	})
	if err != nil {
		if isDuplicate(err) {
			return nil, conflict("book is not available for reservation")
		}
		return nil, translate(err, "book")
	}

	w.logger.InfoContext(ctx, "reservation created",
		slog.Uint64("reservation_id", created.ID),
		slog.Uint64("book_id", created.BookID),
		slog.Uint64("user_id", created.UserID))
	w.afterCommit(ctx, queue.EventReservationCreated, actor, created, model.BookReserved)
	return &created, nil
}

// Confirm moves a pending reservation to confirmed.
func (w *Workflow) Confirm(ctx context.Context, actor access.Actor, id uint64, adminComment *string) (*model.Reservation, error) {
	return w.apply(ctx, actor, EventConfirm, id, adminComment)
}

// MarkTaken records that the user picked the book up.
func (w *Workflow) MarkTaken(ctx context.Context, actor access.Actor, id uint64, adminComment *string) (*model.Reservation, error) {
	return w.apply(ctx, actor, EventTake, id, adminComment)
}

// MarkReturned records that the book came back and frees it.
func (w *Workflow) MarkReturned(ctx context.Context, actor access.Actor, id uint64, adminComment *string) (*model.Reservation, error) {
	return w.apply(ctx, actor, EventReturn, id, adminComment)
}

// Cancel withdraws the actor's own pending or confirmed reservation.  A
// reservation owned by someone else is reported as not found.
func (w *Workflow) Cancel(ctx context.Context, actor access.Actor, id uint64) (*model.Reservation, error) {
	return w.apply(ctx, actor, EventCancel, id, nil)
}

// Apply runs the named transition.  It is the entry point for the admin
// routes, which receive the event as a path segment.
func (w *Workflow) Apply(ctx context.Context, actor access.Actor, ev Event, id uint64, adminComment *string) (*model.Reservation, error) {
	return w.apply(ctx, actor, ev, id, adminComment)
}

func (w *Workflow) apply(ctx context.Context, actor access.Actor, ev Event, id uint64, adminComment *string) (*model.Reservation, error) {
	t, ok := transitions[ev]
	if !ok {
		return nil, invalid(fmt.Sprintf("unknown action %q", ev))
	}
	if !access.Authorize(actor, t.action, access.None) {
		return nil, forbidden(t.action)
	}
	if adminComment != nil && len(*adminComment) > maxCommentLength {
		return nil, invalid(fmt.Sprintf("admin_comment must be at most %d characters", maxCommentLength))
	}

	// book_id never changes, so it is read before the transaction to take
	// the book lock first.
	current, err := w.reservations.Get(ctx, id)
	if err != nil {
		return nil, translate(err, "reservation")
	}
	if !access.Authorize(actor, t.action, access.Resource{OwnerID: current.UserID}) {
		return nil, notFound("reservation")
	}

	var (
		updated    model.Reservation
		bookStatus model.BookStatus
	)
	err = w.runTx(ctx, "reservation."+string(ev), func(tx repository.WorkflowTx) error {
		book, err := tx.LockBook(ctx, current.BookID)
		if err != nil {
			return err
		}
		r, err := tx.LockReservation(ctx, id)
		if err != nil {
			return err
		}
		if !t.allows(r.Status) {
			return fmt.Errorf("%w: cannot %s a reservation that is %s", ErrInvalidState, ev, r.Status)
		}
		t.stamp(r, w.now().UTC())
		r.Status = t.to
		if adminComment != nil {
			r.AdminComment = adminComment
		}
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
		bookStatus = book.Status
		if t.book != "" {
			if err := tx.SetBookStatus(ctx, book.ID, t.book); err != nil {
				return err
			}
			bookStatus = t.book
		}
		r.BookTitle = book.Title
		updated = *r
		return nil
	})
	if err != nil {
		return nil, translate(err, "reservation")
	}

	w.logger.InfoContext(ctx, "reservation transition",
		slog.String("event", string(ev)),
		slog.Uint64("reservation_id", updated.ID),
		slog.String("status", string(updated.Status)),
		slog.Uint64("actor_id", actor.UserID))
	w.afterCommit(ctx, t.eventType, actor, updated, bookStatus)
	return &updated, nil
}

// Get returns a reservation visible to the actor.  Owners see their own
// reservations and admins see all; anything else is not found.
func (w *Workflow) Get(ctx context.Context, actor access.Actor, id uint64) (*model.Reservation, error) {
	if !access.Authorize(actor, access.ReservationRead, access.None) {
		return nil, forbidden(access.ReservationRead)
	}
	r, err := w.reservations.Get(ctx, id)
	if err != nil {
		return nil, translate(err, "reservation")
	}
	if !access.Authorize(actor, access.ReservationRead, access.Resource{OwnerID: r.UserID}) {
		return nil, notFound("reservation")
	}
	return r, nil
}

// ListOwn returns the actor's reservations, newest first.
func (w *Workflow) ListOwn(ctx context.Context, actor access.Actor, status model.ReservationStatus) ([]model.Reservation, error) {
	if !access.Authorize(actor, access.ReservationListOwn, access.None) {
		return nil, forbidden(access.ReservationListOwn)
	}
	if status != "" && !status.Valid() {
		return nil, invalid("unknown reservation status")
	}
	uid := actor.UserID
	return w.reservations.List(ctx, repository.ReservationFilter{UserID: &uid, Status: status})
}

// ListAll returns every reservation matching the filter, newest first.
func (w *Workflow) ListAll(ctx context.Context, actor access.Actor, f repository.ReservationFilter) ([]model.Reservation, error) {
	if !access.Authorize(actor, access.ReservationListAll, access.None) {
		return nil, forbidden(access.ReservationListAll)
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, invalid("unknown reservation status")
	}
	return w.reservations.List(ctx, f)
}

// maxBulkRows caps how many reservations one bulk request may touch.
const maxBulkRows = 500

// BulkRequest selects the reservations of a bulk action, either by id or
// by filter.  With a filter and no status, only reservations the action
// can apply to are selected.
type BulkRequest struct {
	IDs          []uint64
	Filter       *repository.ReservationFilter
	AdminComment *string
}

// BulkResult is the outcome of a bulk action on one reservation.
type BulkResult struct {
	ID          uint64             `json:"id"`
	OK          bool               `json:"ok"`
	Error       string             `json:"error,omitempty"`
	Reservation *model.Reservation `json:"reservation,omitempty"`
}

// Bulk applies an admin transition to many reservations.  Each row runs in
// its own transaction and is re-checked under its locks; a failing row does
// not stop the others.
func (w *Workflow) Bulk(ctx context.Context, actor access.Actor, ev Event, req BulkRequest) ([]BulkResult, error) {
	if ev == EventCancel {
		return nil, invalid("cancel is not a bulk action")
	}
	t, ok := transitions[ev]
	if !ok {
		return nil, invalid(fmt.Sprintf("unknown action %q", ev))
	}
	if !access.Authorize(actor, t.action, access.None) {
		return nil, forbidden(t.action)
	}

	ids, err := w.bulkTargets(ctx, t, req)
	if err != nil {
		return nil, err
	}

	results := make([]BulkResult, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r, err := w.apply(ctx, actor, ev, id, req.AdminComment)
		if err != nil {
			results = append(results, BulkResult{ID: id, Error: err.Error()})
			continue
		}
		results = append(results, BulkResult{ID: id, OK: true, Reservation: r})
	}
	return results, nil
}

func (w *Workflow) bulkTargets(ctx context.Context, t transition, req BulkRequest) ([]uint64, error) {
	switch {
	case len(req.IDs) > 0 && req.Filter != nil:
		return nil, invalid("give either ids or a filter, not both")
	case len(req.IDs) > 0:
		if len(req.IDs) > maxBulkRows {
			return nil, invalid(fmt.Sprintf("at most %d ids per request", maxBulkRows))
		}
		seen := make(map[uint64]bool, len(req.IDs))
		ids := make([]uint64, 0, len(req.IDs))
		for _, id := range req.IDs {
			if id == 0 || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
		return ids, nil
	case req.Filter != nil:
		f := *req.Filter
		if f.Status != "" && !f.Status.Valid() {
			return nil, invalid("unknown reservation status")
		}
		rows, err := w.reservations.List(ctx, f)
		if err != nil {
			return nil, err
		}
		ids := make([]uint64, 0, len(rows))
		for _, r := range rows {
			if f.Status == "" && !t.allows(r.Status) {
				continue
			}
			ids = append(ids, r.ID)
		}
		if len(ids) > maxBulkRows {
			return nil, invalid(fmt.Sprintf("filter matches more than %d reservations", maxBulkRows))
		}
		return ids, nil
	}
	return nil, invalid("ids or filter is required")
}

func isDuplicate(err error) bool {
	return errors.Is(err, repository.ErrDuplicate)
}
