package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// WithTransactionContext runs fn in a transaction. It commits when fn returns
// nil and rolls back on error or panic; a panic is returned as an error.
func WithTransactionContext(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) (err error) {
	if db == nil {
		return errors.New("database connection is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
			return
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("transaction failed: %w (rollback: %v)", err, rbErr)
				return
			}
			err = fmt.Errorf("transaction failed: %w", err)
			return
		}
		if cErr := tx.Commit(); cErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", cErr)
		}
	}()

	return fn(tx)
}
