// Package service holds the reservation workflow engine and the catalog
// operations.  Every mutation of reservations and every write of
// Book.status goes through this package.
package service

import (
	"errors"
	"fmt"

	"github.com/iliyamo/library-reservation/internal/access"
	"github.com/iliyamo/library-reservation/internal/repository"
)

// Error taxonomy shared by the workflow and catalog operations.  Callers
// match with errors.Is; the wrapped message is safe to show to clients.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation error")
	ErrForbidden    = errors.New("forbidden")
)

func notFound(what string) error { return fmt.Errorf("%w: %s not found", ErrNotFound, what) }
func conflict(msg string) error  { return fmt.Errorf("%w: %s", ErrConflict, msg) }
func invalid(msg string) error   { return fmt.Errorf("%w: %s", ErrValidation, msg) }

func forbidden(action access.Action) error {
	return fmt.Errorf("%w: %s not permitted", ErrForbidden, action)
}

// translate maps repository sentinels onto the service taxonomy.  what
// names the entity used in NotFound messages.  Errors already in the
// service taxonomy and unknown errors pass through unchanged.
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidState), errors.Is(err, ErrConflict),
		errors.Is(err, ErrValidation), errors.Is(err, ErrForbidden):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return notFound(what)
	case errors.Is(err, repository.ErrDuplicate):
		return conflict(what + " already exists")
	case errors.Is(err, repository.ErrConflict):
		return conflict(what + " is still referenced")
	case errors.Is(err, repository.ErrTxConflict):
		return conflict("concurrent update, try again")
	}
	return err
}
