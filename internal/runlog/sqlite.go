package runlog

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// sqliteTime is fixed width so created_at sorts lexically.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite appends entries to a local SQLite database, for single-host runs
// without Postgres access to the audit table.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens the database at dsn in WAL mode.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "runlog: exec %s", pragma)
		}
	}
	return &SQLite{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS ingest_run_log (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	status       TEXT NOT NULL,
	family       TEXT NOT NULL DEFAULT '',
	document_ref TEXT NOT NULL DEFAULT '',
	processed    INTEGER NOT NULL DEFAULT 0,
	written      INTEGER NOT NULL DEFAULT 0,
	skipped      INTEGER NOT NULL DEFAULT 0,
	detail       TEXT,
	error        TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ingest_run_log_run ON ingest_run_log(run_id, created_at);
`

// Migrate creates the run-log table.
func (s *SQLite) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "runlog: migrate sqlite")
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Append implements Sink.
func (s *SQLite) Append(ctx context.Context, e Entry) error {
	detail, err := prepare(&e)
	if err != nil {
		return err
	}
	var detailArg any
	if detail != nil {
		detailArg = string(detail)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ingest_run_log
		 (id, run_id, status, family, document_ref, processed, written, skipped, detail, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RunID, e.Status, e.Family, e.DocumentRef, e.Processed, e.Written, e.Skipped,
		detailArg, e.Error, e.CreatedAt.UTC().Format(sqliteTime),
	)
	return eris.Wrapf(err, "runlog: append %s/%s", e.RunID, e.Status)
}

// Recent implements Reader.
func (s *SQLite) Recent(ctx context.Context, runID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, status, family, document_ref, processed, written, skipped, detail, error, created_at
		 FROM ingest_run_log
		 WHERE ? = '' OR run_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		runID, runID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list entries")
	}
	defer rows.Close() //nolint:errcheck

	var out []Entry
	for rows.Next() {
		var e Entry
		var detail sql.NullString
		var created string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Status, &e.Family, &e.DocumentRef,
			&e.Processed, &e.Written, &e.Skipped, &detail, &e.Error, &created); err != nil {
			return nil, eris.Wrap(err, "runlog: scan entry")
		}
		if detail.Valid {
			decodeDetail([]byte(detail.String), &e)
		}
		e.CreatedAt, _ = time.Parse(sqliteTime, created)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "runlog: iterate entries")
}
