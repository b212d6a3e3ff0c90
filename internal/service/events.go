package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/library-reservation/internal/access"
	"github.com/iliyamo/library-reservation/internal/model"
	"github.com/iliyamo/library-reservation/internal/queue"
)

//go:generate mockgen -destination=mocks/mock_collaborators.go -package=mocks github.com/iliyamo/library-reservation/internal/service EventPublisher,CacheInvalidator

// EventPublisher delivers committed reservation transitions to the message
// broker.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.ReservationEvent) error
}

// CacheInvalidator drops cached catalog responses after Book.status changed.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(context.Context) error { return nil }

// sideEffectTimeout bounds post-commit publishing and cache invalidation.
const sideEffectTimeout = 3 * time.Second

// afterCommit publishes the event for a committed transition and drops
// cached catalog pages.  Failures are logged only: the transition itself
// already succeeded.
func (w *Workflow) afterCommit(ctx context.Context, eventType string, actor access.Actor, r model.Reservation, bookStatus model.BookStatus) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	ev := queue.ReservationEvent{
		EventID:       uuid.NewString(),
		Type:          eventType,
		ReservationID: r.ID,
		UserID:        r.UserID,
		BookID:        r.BookID,
		BookTitle:     r.BookTitle,
		Status:        string(r.Status),
		BookStatus:    string(bookStatus),
		ActorID:       actor.UserID,
		OccurredAt:    w.now().UTC().Format(time.RFC3339),
	}
	if err := w.publisher.Publish(ctx, ev); err != nil {
		w.logger.WarnContext(ctx, "publish reservation event failed",
			slog.String("type", eventType),
			slog.Uint64("reservation_id", r.ID),
			slog.Any("error", err))
	}
	if err := w.cache.Invalidate(ctx); err != nil {
		w.logger.WarnContext(ctx, "catalog cache invalidation failed", slog.Any("error", err))
	}
}
