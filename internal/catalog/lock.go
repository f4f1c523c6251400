package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/db"
)

type pgRunLock struct {
	tx pgx.Tx
}

// Release ends the holding transaction, which drops the advisory lock.
func (l *pgRunLock) Release(ctx context.Context) error {
	err := l.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return eris.Wrap(err, "catalog: release run lock")
}

// AcquireRunLock takes a transaction-scoped advisory lock on runID in a
// dedicated transaction. It does not wait.
func (s *PostgresStore) AcquireRunLock(ctx context.Context, runID string) (RunLock, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, eris.Wrap(err, "catalog: begin run lock")
	}
	ok, err := db.TryXactLock(ctx, tx, "ingest-run:"+runID)
	if err != nil || !ok {
		_ = tx.Rollback(ctx)
		return nil, false, err
	}
	return &pgRunLock{tx: tx}, true, nil
}
