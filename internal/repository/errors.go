// Package repository defines the persistence ports used by the service
// layer, their MySQL implementations and the error values shared by every
// implementation.  These sentinel values allow higher layers to distinguish
// between different failure scenarios without inspecting driver errors.
package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a delete cannot be performed because of
// dependent records, such as deleting a genre that books still reference.
var ErrConflict = errors.New("conflict")

// ErrDuplicate is returned when an insert or update violates a unique key
// (genre name, ISBN, email, or the one-active-reservation-per-book index).
var ErrDuplicate = errors.New("duplicate")

// ErrTxConflict is returned when the database aborted a transaction because
// of a deadlock or a lock wait timeout.  The whole transaction may be
// retried.
var ErrTxConflict = errors.New("transaction conflict")

// MySQL server error numbers translated by mapError.
const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
	mysqlErrDupEntry        = 1062
	mysqlErrRowIsReferenced = 1451
	mysqlErrNoReferencedRow = 1452
)

// mapError converts driver errors into the sentinels above.  Errors that
// have no sentinel are returned unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlErrDupEntry:
			return fmt.Errorf("%w: %s", ErrDuplicate, me.Message)
		case mysqlErrDeadlock, mysqlErrLockWaitTimeout:
			return fmt.Errorf("%w: %s", ErrTxConflict, me.Message)
		case mysqlErrRowIsReferenced:
			return fmt.Errorf("%w: %s", ErrConflict, me.Message)
		case mysqlErrNoReferencedRow:
			// a foreign key points at a row that does not exist
			return fmt.Errorf("%w: %s", ErrNotFound, me.Message)
		}
	}
	return err
}
