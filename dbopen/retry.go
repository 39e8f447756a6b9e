package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/protoboard/retry"
)

// busyAttempts is the total statement budget when SQLite reports BUSY: the
// first try plus three retries with doubling delay.
const (
	busyAttempts = 4
	busyBaseWait = 100 * time.Millisecond
)

var busyMarkers = []string{
	"SQLITE_BUSY",
	"database is locked",
	"database table is locked",
}

// IsBusy reports whether err is an SQLite BUSY condition worth retrying.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, m := range busyMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Exec runs one statement, retrying on BUSY. Any other failure returns
// immediately.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	return retry.Do(ctx, retry.Exponential(busyAttempts, busyBaseWait), func() (sql.Result, error) {
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil && !IsBusy(err) {
			return nil, retry.Permanent(err)
		}
		return res, err
	})
}

// RunTx runs fn inside a transaction, retrying the whole transaction on
// BUSY. fn must be safe to run more than once.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	_, err := retry.Do(ctx, retry.Exponential(busyAttempts, busyBaseWait), func() (struct{}, error) {
		err := runTxOnce(ctx, db, fn)
		if err != nil && !IsBusy(err) {
			return struct{}{}, retry.Permanent(err)
		}
		return struct{}{}, err
	})
	return err
}

func runTxOnce(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbopen: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}
