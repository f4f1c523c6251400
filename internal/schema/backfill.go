package schema

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/catalog"
	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/normalize"
	"github.com/sells-group/catalog-ingest/internal/template"
)

// Backfiller fills newly learned variant-key columns on stored records by
// decoding their identifiers against the family template.
type Backfiller struct {
	store catalog.BackfillStore
	limit int
}

// NewBackfiller creates a Backfiller handling up to limit rows per column.
func NewBackfiller(store catalog.BackfillStore, limit int) *Backfiller {
	if limit <= 0 {
		limit = 500
	}
	return &Backfiller{store: store, limit: limit}
}

// Run is best-effort: failures are logged and counted, never returned.
// It reports how many values were written.
func (b *Backfiller) Run(ctx context.Context, fam *model.Family, columns map[string]model.AttrType, keys []string) int {
	filled := 0
	for _, key := range keys {
		rows, err := b.store.RowsMissing(ctx, fam.Table, key, b.limit)
		if err != nil {
			zap.L().Warn("backfill: list rows failed", zap.String("family", fam.Slug), zap.String("column", key), zap.Error(err))
			continue
		}
		for _, row := range rows {
			if ctx.Err() != nil {
				return filled
			}
			src := fam.TemplateFor(row.Brand)
			if src == "" {
				continue
			}
			tmpl, err := template.Parse(src)
			if err != nil {
				continue
			}
			vals, ok := tmpl.Decode(row.Identifier)
			if !ok {
				continue
			}
			raw, ok := vals[key]
			if !ok || raw == "" {
				continue
			}
			value, ok := coerceValue(raw, columns[key])
			if !ok {
				continue
			}
			if err := b.store.SetAttribute(ctx, fam.Table, row.ID, key, value); err != nil {
				zap.L().Warn("backfill: set attribute failed",
					zap.String("family", fam.Slug),
					zap.String("id", row.ID),
					zap.String("column", key),
					zap.Error(err),
				)
				continue
			}
			filled++
		}
	}
	zap.L().Info("backfill: complete", zap.String("family", fam.Slug), zap.Strings("columns", keys), zap.Int("filled", filled))
	return filled
}

func coerceValue(raw string, typ model.AttrType) (any, bool) {
	switch typ {
	case model.AttrNumeric:
		n, ok := normalize.ParseNumeric(raw)
		if !ok || n.IsRange {
			return nil, false
		}
		return n.Value, true
	case model.AttrBoolean:
		return normalize.ParseBool(raw)
	default:
		return raw, true
	}
}
