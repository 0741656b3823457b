// Package repository is the MySQL implementation of reservation.Store.
// Every mutation runs inside a *sql.Tx opened by Store.WithTx; capacity
// changes are single conditional UPDATE statements on ticket_types and
// reservation transitions run after a SELECT ... FOR UPDATE on the
// reservation row.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrConflict is returned when a ticket code taken by a concurrent
// confirm collides on insert.  The transaction is rolled back.
var ErrConflict = errors.New("conflict")

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
