package sqlxrepos

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
)

const txMaxAttempts = 3

// pg error codes worth retrying: serialization_failure, deadlock_detected,
// lock_not_available
var retryableCodes = map[pq.ErrorCode]bool{
	"40001": true,
	"40P01": true,
	"55P03": true,
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return retryableCodes[pqErr.Code]
	}
	return false
}

// atomically runs fn in a transaction, retrying on transient conflicts.
// Waits 50ms longer between each attempt.
func atomically(ctx context.Context, db *sqlx.DB, fn func(exec core.DBExecutor) error) error {
	var err error
	for attempt := 1; attempt <= txMaxAttempts; attempt++ {
		if err = runTx(ctx, db, fn); err == nil || !isRetryable(err) {
			return err
		}
		time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
	}
	return core.NewTransientError(err)
}

func runTx(ctx context.Context, db *sqlx.DB, fn func(exec core.DBExecutor) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

// ext resolves the executor to run a query on: the enclosing transaction
// when one is passed, the DB pool otherwise.
func ext(db *sqlx.DB, exec ...core.DBExecutor) sqlx.ExtContext {
	if len(exec) > 0 && exec[0] != nil {
		if e, ok := exec[0].(sqlx.ExtContext); ok {
			return e
		}
	}
	return db
}
