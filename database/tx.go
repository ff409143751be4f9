package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/formify/formify/fault"
)

// txRetries bounds internal retries of a whole transactional unit on
// lock contention before surfacing fault.Transient.
const txRetries = 3

// WithTx runs fn inside a transaction. On error the transaction is
// rolled back and nothing is observable. Lock contention
// (SQLITE_BUSY/SQLITE_LOCKED past the busy_timeout) retries the whole
// unit up to txRetries times, then surfaces as a transient store
// error, never as a deadlock.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 0; attempt <= txRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
			}
		}

		err = runTx(ctx, db, fn)
		if !isBusy(err) {
			return err
		}
	}
	return fault.Wrap(fault.Transient, errors.Wrap(err, "transaction retries exhausted"))
}

func runTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func isBusy(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
}
