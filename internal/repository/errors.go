// Package repository persists trains, schedules, seat holds, tickets,
// wallets and bookings in MySQL.  Every mutation that guards an invariant
// is a conditional statement; when its WHERE clause matches nothing the
// repositories return ErrConditionFailed and leave the interpretation to
// the caller.
package repository

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a unique key, such as
// a second active claim on a seat or a reused ledger reference.
var ErrDuplicate = errors.New("duplicate")

// ErrConditionFailed is returned when a conditional update matched no
// rows: too few seats, too little balance, or a status that has already
// moved on.
var ErrConditionFailed = errors.New("condition failed")

// ErrConflict is returned when an update would break a stored invariant,
// for example releasing more seats than the schedule owns.
var ErrConflict = errors.New("conflict")

// MySQL server error numbers used for classification.
const (
	mysqlDuplicateEntry  = 1062
	mysqlNoReferencedRow = 1452
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

func isMissingParent(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlNoReferencedRow
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// IsTransient reports whether err is an infrastructure failure that may
// succeed when retried: a dropped connection, a network error, a lock wait
// timeout or a deadlock victim.  Domain sentinels are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlLockWaitTimeout || me.Number == mysqlDeadlock
	}
	var ne net.Error
	return errors.As(err, &ne)
}
