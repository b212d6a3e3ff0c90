package model

import "time"

// ReservationStatus is the state of a reservation in its lifecycle.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationTaken     ReservationStatus = "taken"
	ReservationReturned  ReservationStatus = "returned"
	ReservationCancelled ReservationStatus = "cancelled"
)

// ActiveReservationStatuses lists the states in which a reservation still
// holds its book.
var ActiveReservationStatuses = []ReservationStatus{
	ReservationPending,
	ReservationConfirmed,
	ReservationTaken,
}

// Active reports whether the reservation still holds its book.
func (s ReservationStatus) Active() bool {
	switch s {
	case ReservationPending, ReservationConfirmed, ReservationTaken:
		return true
	}
	return false
}

// Valid reports whether s is one of the known reservation states.
func (s ReservationStatus) Valid() bool {
	return s.Active() || s == ReservationReturned || s == ReservationCancelled
}

// Reservation records a user's claim on a single book.  Reservations are
// never deleted; terminal rows (returned, cancelled) are kept as history.
//
// Fields:
//  ID              – primary key identifier.
//  UserID          – user who owns the reservation.
//  BookID          – reserved book.
//  Status          – pending, confirmed, taken, returned or cancelled.
//  ReservationDate – set when the reservation is created.
//  ConfirmedDate   – set once by the confirm transition.
//  TakenDate       – set once by the taken transition.
//  ReturnDate      – set once by the returned transition.
//  PickupDate      – optional planned pickup date (YYYY-MM-DD).
//  PickupTime      – optional planned pickup time (HH:MM).
//  UserComment     – optional note from the user.
//  AdminComment    – optional note from an administrator.
//  BookTitle       – title of the book resolved on read; never written.
type Reservation struct {
	ID              uint64            `json:"id"`                   // reservations.id
	UserID          uint64            `json:"user"`                 // reservations.user_id
	BookID          uint64            `json:"book"`                 // reservations.book_id
	Status          ReservationStatus `json:"status"`               // reservations.status
	ReservationDate time.Time         `json:"reservation_date"`     // reservations.reservation_date
	ConfirmedDate   *time.Time        `json:"confirmed_date"`       // reservations.confirmed_date (nullable)
	TakenDate       *time.Time        `json:"taken_date"`           // reservations.taken_date (nullable)
	ReturnDate      *time.Time        `json:"return_date"`          // reservations.return_date (nullable)
	PickupDate      *string           `json:"pickup_date"`          // reservations.pickup_date (nullable)
	PickupTime      *string           `json:"pickup_time"`          // reservations.pickup_time (nullable)
	UserComment     *string           `json:"user_comment"`         // reservations.user_comment (nullable)
	AdminComment    *string           `json:"admin_comment"`        // reservations.admin_comment (nullable)
	BookTitle       string            `json:"book_title,omitempty"` // books.title via join
}
