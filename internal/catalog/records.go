package catalog

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/db"
	"github.com/sells-group/catalog-ingest/internal/model"
)

var naturalKey = []string{"lower(brand)", "lower(identifier)"}

// recordSpec builds the upsert for one record: base columns, then the
// record's populated attributes in sorted order. Attributes the record does
// not carry are left out so stored values survive.
func recordSpec(fam *model.Family, rec *model.CandidateRecord, meta RecordMeta) (db.UpsertSpec, []any, error) {
	overflow := rec.Overflow
	if overflow == nil {
		overflow = map[string]any{}
	}
	overflowJSON, err := json.Marshal(overflow)
	if err != nil {
		return db.UpsertSpec{}, nil, eris.Wrap(err, "catalog: marshal overflow")
	}

	cols := []string{"id", "brand", "identifier", "series", "family", "doc_type", "verified", "source_ref", "run_id", "overflow"}
	vals := []any{
		uuid.NewString(),
		rec.Brand,
		rec.Identifier,
		nullable(rec.Series),
		fam.Slug,
		nullable(string(rec.DocType)),
		rec.Verified,
		nullable(meta.SourceRef),
		nullable(meta.RunID),
		overflowJSON,
	}

	keys := make([]string, 0, len(rec.Attrs))
	for k, v := range rec.Attrs {
		if !model.IsEmptyValue(v) && !model.IsBaseColumn(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		cols = append(cols, k)
		vals = append(vals, rec.Attrs[k])
	}

	table := fam.Table
	if table == "" {
		table = TableFor(fam.Slug)
	}
	return db.UpsertSpec{
		Table:         table,
		Columns:       cols,
		ConflictExprs: naturalKey,
		Immutable:     []string{"id", "brand", "identifier", "family"},
		MergeJSON:     []string{"overflow"},
		Touch:         "updated_at",
	}, vals, nil
}

// Upsert writes one record in its own transaction. A second write of the
// same natural key merges attributes and never clears a stored value.
func (s *PostgresStore) Upsert(ctx context.Context, fam *model.Family, rec *model.CandidateRecord, meta RecordMeta) (bool, error) {
	spec, vals, err := recordSpec(fam, rec, meta)
	if err != nil {
		return false, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, eris.Wrap(err, "catalog: begin upsert")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	inserted, err := db.Upsert(ctx, tx, spec, vals)
	if err != nil {
		return false, eris.Wrapf(err, "catalog: upsert %s/%s", rec.Brand, rec.Identifier)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, eris.Wrap(err, "catalog: commit upsert")
	}
	return inserted, nil
}
