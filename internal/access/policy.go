// Package access decides which actor may invoke which action.  Every
// route and every workflow transition consults Authorize; no other code
// path makes role decisions.
package access

import "github.com/iliyamo/library-reservation/internal/model"

// Role classifies the caller of an operation.
type Role string

const (
	RoleAnonymous Role = "anonymous"
	RoleUser      Role = Role(model.RoleUser)
	RoleAdmin     Role = Role(model.RoleAdmin)
)

// Actor identifies the caller.  UserID is zero for anonymous callers.
type Actor struct {
	UserID uint64
	Role   Role
}

// Anonymous is the actor used when no credentials were presented.
var Anonymous = Actor{Role: RoleAnonymous}

// Authenticated reports whether the actor presented valid credentials.
func (a Actor) Authenticated() bool {
	return a.UserID != 0 && (a.Role == RoleUser || a.Role == RoleAdmin)
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool { return a.Authenticated() && a.Role == RoleAdmin }

// Action names an operation guarded by the policy.
type Action string

const (
	CatalogRead  Action = "catalog.read"
	CatalogWrite Action = "catalog.write"

	ReservationCreate  Action = "reservation.create"
	ReservationListOwn Action = "reservation.list_own"
	ReservationRead    Action = "reservation.read"
	ReservationCancel  Action = "reservation.cancel"
	ReservationListAll Action = "reservation.list_all"
	ReservationConfirm Action = "reservation.confirm"
	ReservationTake    Action = "reservation.take"
	ReservationReturn  Action = "reservation.return"

	AccountRead Action = "account.read"
)

// Resource describes the target of an action.  OwnerID is zero when the
// action has no owned target (or the target is not loaded yet).
type Resource struct {
	OwnerID uint64
}

// None is the empty resource used for route-level checks.
var None = Resource{}

// Authorize reports whether actor may perform action on res.
//
// Ownership-scoped actions (read, cancel) pass the route-level check for any
// authenticated caller when res is None; the workflow re-checks them with the
// loaded reservation.
func Authorize(actor Actor, action Action, res Resource) bool {
	switch action {
	case CatalogRead:
		return true
	case CatalogWrite, ReservationListAll, ReservationConfirm, ReservationTake, ReservationReturn:
		return actor.IsAdmin()
	case ReservationCreate, ReservationListOwn, AccountRead:
		return actor.Authenticated()
	case ReservationRead:
		if !actor.Authenticated() {
			return false
		}
		return actor.IsAdmin() || res.OwnerID == 0 || res.OwnerID == actor.UserID
	case ReservationCancel:
		if !actor.Authenticated() {
			return false
		}
		return res.OwnerID == 0 || res.OwnerID == actor.UserID
	}
	return false
}
