package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/db"
	"github.com/sells-group/catalog-ingest/internal/model"
)

// pgType maps an attribute type to its column type.
func pgType(t model.AttrType) string {
	switch t {
	case model.AttrNumeric:
		return "DOUBLE PRECISION"
	case model.AttrBoolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

// attrType maps an information_schema data_type back to an attribute type.
func attrType(dataType string) model.AttrType {
	switch strings.ToLower(dataType) {
	case "double precision", "real", "numeric", "integer", "bigint", "smallint":
		return model.AttrNumeric
	case "boolean":
		return model.AttrBoolean
	default:
		return model.AttrText
	}
}

func createTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id         UUID PRIMARY KEY,
	brand      TEXT NOT NULL,
	identifier TEXT NOT NULL,
	series     TEXT,
	family     TEXT NOT NULL,
	doc_type   TEXT,
	verified   BOOLEAN NOT NULL DEFAULT false,
	source_ref TEXT,
	run_id     TEXT,
	overflow   JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, db.SanitizeTable(table))
}

func naturalKeyIndexSQL(table string) string {
	return fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s ((lower(brand)), (lower(identifier)))`,
		pgx.Identifier{table + "_natural_key"}.Sanitize(), db.SanitizeTable(table))
}

// EnsureFamily creates the family relation, its natural-key index and the
// declared attribute columns, then registers the family. Every step is
// idempotent and safe to race.
func (s *PostgresStore) EnsureFamily(ctx context.Context, fam *model.Family) error {
	table := fam.Table
	if table == "" {
		table = TableFor(fam.Slug)
	}
	for _, stmt := range []string{createTableSQL(table), naturalKeyIndexSQL(table)} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil && !db.IsDuplicateObject(err) {
			return eris.Wrapf(err, "catalog: ensure family %s", fam.Slug)
		}
	}
	for _, col := range sortedKeys(fam.Attributes) {
		if err := s.AddColumn(ctx, table, col, fam.Attributes[col]); err != nil {
			return err
		}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO catalog_families (slug, table_name, variant_keys, template) VALUES ($1, $2, $3, $4) ON CONFLICT (slug) DO NOTHING`,
		fam.Slug, table, nonNil(fam.VariantKeys), nullable(fam.Template))
	if err != nil {
		return eris.Wrapf(err, "catalog: register family %s", fam.Slug)
	}
	zap.L().Debug("catalog: family ensured", zap.String("family", fam.Slug), zap.String("table", table))
	return nil
}

// Columns returns the live attribute columns of table, base columns excluded.
func (s *PostgresStore) Columns(ctx context.Context, table string) (map[string]model.AttrType, error) {
	schema, name := "public", table
	if parts := strings.SplitN(table, ".", 2); len(parts) == 2 {
		schema, name = parts[0], parts[1]
	}
	rows, err := s.pool.Query(ctx,
		`SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2`,
		schema, name)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: columns of %s", table)
	}
	defer rows.Close()

	out := make(map[string]model.AttrType)
	for rows.Next() {
		var col, dataType string
		if err := rows.Scan(&col, &dataType); err != nil {
			return nil, eris.Wrapf(err, "catalog: scan column of %s", table)
		}
		if !model.IsBaseColumn(col) {
			out[col] = attrType(dataType)
		}
	}
	return out, eris.Wrapf(rows.Err(), "catalog: columns of %s", table)
}

// AddColumn adds a nullable attribute column. A column that already exists
// is success regardless of who created it.
func (s *PostgresStore) AddColumn(ctx context.Context, table, column string, typ model.AttrType) error {
	if model.IsBaseColumn(column) {
		return eris.Errorf("catalog: %q is a base column", column)
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
		db.SanitizeTable(table), pgx.Identifier{column}.Sanitize(), pgType(typ))
	if _, err := s.pool.Exec(ctx, stmt); err != nil && !db.IsDuplicateColumn(err) {
		return eris.Wrapf(err, "catalog: add column %s.%s", table, column)
	}
	return nil
}

// RowsMissing lists up to limit records whose column is still null.
func (s *PostgresStore) RowsMissing(ctx context.Context, table, column string, limit int) ([]StoredRow, error) {
	q := fmt.Sprintf(`SELECT id::text, brand, identifier, COALESCE(series, '') FROM %s WHERE %s IS NULL ORDER BY created_at LIMIT $1`,
		db.SanitizeTable(table), pgx.Identifier{column}.Sanitize())
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: rows missing %s", column)
	}
	defer rows.Close()

	var out []StoredRow
	for rows.Next() {
		var r StoredRow
		if err := rows.Scan(&r.ID, &r.Brand, &r.Identifier, &r.Series); err != nil {
			return nil, eris.Wrap(err, "catalog: scan stored row")
		}
		out = append(out, r)
	}
	return out, eris.Wrapf(rows.Err(), "catalog: rows missing %s", column)
}

// SetAttribute fills column for one record if it is still null.
func (s *PostgresStore) SetAttribute(ctx context.Context, table, id, column string, value any) error {
	q := fmt.Sprintf(`UPDATE %s SET %s = $1, updated_at = now() WHERE id = $2 AND %s IS NULL`,
		db.SanitizeTable(table), pgx.Identifier{column}.Sanitize(), pgx.Identifier{column}.Sanitize())
	_, err := s.pool.Exec(ctx, q, value, id)
	return eris.Wrapf(err, "catalog: set %s on %s", column, id)
}
