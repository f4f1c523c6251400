package normalize

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/harvest"
	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/template"
)

// Gate enforces the admission criteria for candidate records.
type Gate struct {
	// MinAttributes is the floor of distinct populated typed attributes.
	MinAttributes int
}

// Admit splits recs into admitted records and typed skips. Checks run in a
// fixed order so each rejected record carries exactly one reason. It never
// fails.
func (g Gate) Admit(recs []*model.CandidateRecord) ([]*model.CandidateRecord, []model.Skip) {
	var admitted []*model.CandidateRecord
	var skips []model.Skip
	seen := make(map[string]bool, len(recs))

	for _, r := range recs {
		if err := g.check(r, seen); err != nil {
			skips = append(skips, model.SkipFor(r, err))
			continue
		}
		seen[r.NaturalKey()] = true
		admitted = append(admitted, r)
	}
	return admitted, skips
}

func (g Gate) check(r *model.CandidateRecord, seen map[string]bool) error {
	if IsSentinelBrand(r.Brand) {
		return eris.Wrap(model.ErrMissingBrand, "no usable brand")
	}
	if field, ok := unresolvedField(r); ok {
		return eris.Wrapf(model.ErrTemplateUnresolved, "unresolved placeholder in %s", field)
	}
	if r.Identifier == "" {
		return eris.Wrap(model.ErrInvalidIdentifier, "no identifier")
	}
	if !harvest.ValidIdentifier(r.Identifier) {
		return eris.Wrap(model.ErrInvalidIdentifier, "identifier shape rejected")
	}
	if !r.Literal && !r.Verified {
		return eris.Wrap(model.ErrInvalidIdentifier, "identifier neither literal nor verified in document")
	}
	if n := r.PopulatedAttrs(); n < g.MinAttributes {
		return eris.Wrapf(model.ErrMissingCoreSpec, "%d populated attributes, need %d", n, g.MinAttributes)
	}
	if seen[r.NaturalKey()] {
		return eris.Wrap(model.ErrDuplicateWithinBatch, "natural key already admitted in this run")
	}
	return nil
}

func unresolvedField(r *model.CandidateRecord) (string, bool) {
	if template.HasPlaceholder(r.Identifier) {
		return "identifier", true
	}
	if template.HasPlaceholder(r.Series) {
		return "series", true
	}
	for k, v := range r.Attrs {
		if s, ok := v.(string); ok && template.HasPlaceholder(s) {
			return k, true
		}
	}
	return "", false
}
