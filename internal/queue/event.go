// Package queue defines the reservation event payload and moves it over
// RabbitMQ: a publisher used by the workflow engine after each committed
// transition and a consumer that appends one audit line per event.
package queue

import "time"

// Event types, one per workflow transition.
const (
	EventReservationCreated   = "reservation.created"
	EventReservationConfirmed = "reservation.confirmed"
	EventReservationTaken     = "reservation.taken"
	EventReservationReturned  = "reservation.returned"
	EventReservationCancelled = "reservation.cancelled"
)

// ReservationEvent is published when a reservation transition commits.  It
// carries enough information for downstream consumers to log, notify or
// trigger analytics without querying the primary database.
type ReservationEvent struct {
	EventID       string `json:"event_id"`
	Type          string `json:"type"`
	ReservationID uint64 `json:"reservation_id"`
	UserID        uint64 `json:"user_id"`
	BookID        uint64 `json:"book_id"`
	BookTitle     string `json:"book_title"`
	Status        string `json:"status"`
	BookStatus    string `json:"book_status"`
	ActorID       uint64 `json:"actor_id"`
	OccurredAt    string `json:"occurred_at"` // RFC3339, UTC
}

// OccurredTime parses OccurredAt.  The zero time is returned when the field
// is empty or malformed.
func (e ReservationEvent) OccurredTime() time.Time {
	t, err := time.Parse(time.RFC3339, e.OccurredAt)
	if err != nil {
		return time.Time{}
	}
	return t
}
