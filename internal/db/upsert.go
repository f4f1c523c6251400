package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertSpec defines a single-row INSERT ... ON CONFLICT DO UPDATE against an
// expression-based unique index.
type UpsertSpec struct {
	Table         string   // target table, optionally schema-qualified
	Columns       []string // columns being inserted, in argument order
	ConflictExprs []string // raw index expressions, e.g. "lower(brand)"
	Immutable     []string // columns never rewritten on conflict
	MergeJSON     []string // jsonb columns merged with || instead of replaced
	Touch         string   // timestamp column set to now() on conflict
}

// BuildUpsert renders the upsert statement for spec. Updated columns keep the
// stored value when the incoming one is NULL. The statement returns whether
// the row was freshly inserted.
func BuildUpsert(spec UpsertSpec) (string, error) {
	if len(spec.Columns) == 0 {
		return "", eris.New("db: upsert: no columns specified")
	}
	if len(spec.ConflictExprs) == 0 {
		return "", eris.New("db: upsert: no conflict keys specified")
	}

	skip := make(map[string]bool, len(spec.Immutable)+1)
	for _, c := range spec.Immutable {
		skip[c] = true
	}
	if spec.Touch != "" {
		skip[spec.Touch] = true
	}
	merge := make(map[string]bool, len(spec.MergeJSON))
	for _, c := range spec.MergeJSON {
		merge[c] = true
	}

	placeholders := make([]string, len(spec.Columns))
	for i := range spec.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	var sets []string
	for _, col := range spec.Columns {
		if skip[col] {
			continue
		}
		q := pgx.Identifier{col}.Sanitize()
		if merge[col] {
			sets = append(sets, fmt.Sprintf("%s = COALESCE(t.%s, '{}'::jsonb) || COALESCE(EXCLUDED.%s, '{}'::jsonb)", q, q, q))
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = COALESCE(EXCLUDED.%s, t.%s)", q, q, q))
	}
	if spec.Touch != "" {
		sets = append(sets, fmt.Sprintf("%s = now()", pgx.Identifier{spec.Touch}.Sanitize()))
	}
	if len(sets) == 0 {
		return "", eris.New("db: upsert: nothing to update on conflict")
	}

	conflict := make([]string, len(spec.ConflictExprs))
	for i, e := range spec.ConflictExprs {
		conflict[i] = "(" + e + ")"
	}

	return fmt.Sprintf(
		"INSERT INTO %s AS t (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s RETURNING (xmax = 0) AS inserted",
		SanitizeTable(spec.Table),
		quoteAndJoin(spec.Columns),
		strings.Join(placeholders, ", "),
		strings.Join(conflict, ", "),
		strings.Join(sets, ", "),
	), nil
}

// Upsert executes spec with values and reports whether a new row was created.
func Upsert(ctx context.Context, q Querier, spec UpsertSpec, values []any) (bool, error) {
	if len(values) != len(spec.Columns) {
		return false, eris.Errorf("db: upsert: %d values for %d columns", len(values), len(spec.Columns))
	}
	sql, err := BuildUpsert(spec)
	if err != nil {
		return false, err
	}
	var inserted bool
	if err := q.QueryRow(ctx, sql, values...).Scan(&inserted); err != nil {
		return false, eris.Wrapf(err, "db: upsert into %s", spec.Table)
	}
	return inserted, nil
}

// SanitizeTable handles schema-qualified table names like "catalog.relays".
func SanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
