package catalog

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/db"
	"github.com/sells-group/catalog-ingest/internal/model"
)

// PostgresStore implements Store on pgx.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres connects a pool and returns a store over it. Connection
// failures are reported as model.ErrStoreUnreachable.
func NewPostgres(ctx context.Context, dsn string, maxConns int32) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: parse config")
	}
	cfg.MaxConns = 10
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrapf(model.ErrStoreUnreachable, "catalog: create pool: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrapf(model.ErrStoreUnreachable, "catalog: ping: %v", err)
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller owns its lifetime.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying pool for collaborators sharing it.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const registryMigration = `
CREATE TABLE IF NOT EXISTS catalog_families (
	slug         TEXT PRIMARY KEY,
	table_name   TEXT NOT NULL UNIQUE,
	variant_keys TEXT[] NOT NULL DEFAULT '{}',
	template     TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS catalog_attribute_aliases (
	family     TEXT NOT NULL,
	brand      TEXT NOT NULL DEFAULT '',
	series     TEXT NOT NULL DEFAULT '',
	raw_key    TEXT NOT NULL,
	canonical  TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 1,
	source     TEXT NOT NULL DEFAULT 'manual',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (family, brand, series, raw_key)
);

CREATE TABLE IF NOT EXISTS catalog_template_cache (
	family     TEXT NOT NULL,
	brand      TEXT NOT NULL DEFAULT '',
	series     TEXT NOT NULL DEFAULT '',
	template   TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	hits       INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (family, brand, series)
);

CREATE TABLE IF NOT EXISTS catalog_brand_aliases (
	alias      TEXT PRIMARY KEY,
	canonical  TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS catalog_views (
	name       TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Ping verifies the store is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return eris.Wrapf(model.ErrStoreUnreachable, "catalog: ping: %v", err)
	}
	return nil
}

// Migrate creates the registry tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, registryMigration)
	return eris.Wrap(err, "catalog: migrate")
}

// Close releases the pool if this store created it.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
