package catalog

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/db"
)

// RefreshViews refreshes every view in catalog_views. A concurrent refresh
// that Postgres refuses (unpopulated view, no unique index) is retried as a
// plain refresh. All views are attempted; the errors are joined.
func (s *PostgresStore) RefreshViews(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, `SELECT name FROM catalog_views ORDER BY name`)
	if err != nil {
		return eris.Wrap(err, "catalog: list views")
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return eris.Wrap(err, "catalog: scan view")
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "catalog: list views")
	}

	var errs []error
	for _, name := range names {
		if err := s.refreshView(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *PostgresStore) refreshView(ctx context.Context, name string) error {
	ident := db.SanitizeTable(name)
	_, err := s.pool.Exec(ctx, "REFRESH MATERIALIZED VIEW CONCURRENTLY "+ident)
	if err == nil {
		return nil
	}
	if !db.IsNotPopulatedOrNoIndex(err) {
		return eris.Wrapf(err, "catalog: refresh view %s", name)
	}
	zap.L().Debug("catalog: concurrent refresh refused, refreshing plainly", zap.String("view", name), zap.Error(err))
	if _, err := s.pool.Exec(ctx, "REFRESH MATERIALIZED VIEW "+ident); err != nil {
		return eris.Wrapf(err, "catalog: refresh view %s", name)
	}
	return nil
}
