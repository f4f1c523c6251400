package runlog

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/db"
)

// Postgres appends entries to the ingest_run_log table.
type Postgres struct {
	pool db.Pool
}

// NewPostgres creates a Postgres sink on pool.
func NewPostgres(pool db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const pgMigration = `
CREATE TABLE IF NOT EXISTS ingest_run_log (
	id           UUID PRIMARY KEY,
	run_id       TEXT NOT NULL,
	status       TEXT NOT NULL,
	family       TEXT,
	document_ref TEXT,
	processed    INTEGER NOT NULL DEFAULT 0,
	written      INTEGER NOT NULL DEFAULT 0,
	skipped      INTEGER NOT NULL DEFAULT 0,
	detail       JSONB,
	error        TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_ingest_run_log_run ON ingest_run_log (run_id, created_at);
`

// Migrate creates the run-log table.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, pgMigration)
	return eris.Wrap(err, "runlog: migrate postgres")
}

// Append implements Sink.
func (p *Postgres) Append(ctx context.Context, e Entry) error {
	detail, err := prepare(&e)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO ingest_run_log
		 (id, run_id, status, family, document_ref, processed, written, skipped, detail, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11)`,
		e.ID, e.RunID, e.Status, e.Family, e.DocumentRef, e.Processed, e.Written, e.Skipped, detail, e.Error, e.CreatedAt,
	)
	return eris.Wrapf(err, "runlog: append %s/%s", e.RunID, e.Status)
}

// Recent implements Reader.
func (p *Postgres) Recent(ctx context.Context, runID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx,
		`SELECT id::text, run_id, status, COALESCE(family, ''), COALESCE(document_ref, ''),
		        processed, written, skipped, detail, COALESCE(error, ''), created_at
		 FROM ingest_run_log
		 WHERE $1 = '' OR run_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		runID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list entries")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var detail []byte
		if err := rows.Scan(&e.ID, &e.RunID, &e.Status, &e.Family, &e.DocumentRef,
			&e.Processed, &e.Written, &e.Skipped, &detail, &e.Error, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "runlog: scan entry")
		}
		decodeDetail(detail, &e)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "runlog: iterate entries")
}
