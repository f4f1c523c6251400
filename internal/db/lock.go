package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// TryXactLock attempts a transaction-scoped advisory lock keyed by the hash
// of key. The lock is released when tx commits or rolls back.
func TryXactLock(ctx context.Context, tx pgx.Tx, key string) (bool, error) {
	var ok bool
	if err := tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock(hashtext($1))", key).Scan(&ok); err != nil {
		return false, eris.Wrap(err, "db: try advisory lock")
	}
	return ok, nil
}
