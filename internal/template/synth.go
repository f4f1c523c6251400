package template

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/textnorm"
)

// Template sources, in priority order.
const (
	SourceBrandRecipe  = "brand_recipe"
	SourceFamilyRecipe = "family_recipe"
	SourceCache        = "cache"
	SourceOracle       = "oracle"
	SourceNone         = "none"
)

// Cache persists learned templates keyed by (family, brand, series).
type Cache interface {
	LookupTemplate(ctx context.Context, family, brand, series string) (string, bool, error)
	SaveTemplate(ctx context.Context, family, brand, series, tmpl string, confidence float64) error
}

// Inferrer proposes a template from document text and example rows.
type Inferrer interface {
	InferTemplate(ctx context.Context, text string, fam *model.Family, examples []map[string]any) (string, float64, error)
}

// Synthesizer renders identifiers for candidates that have no literal or
// verified code. A rendered identifier is only accepted when it appears
// verbatim in the source text.
type Synthesizer struct {
	cache     Cache
	oracle    Inferrer
	threshold float64
}

// NewSynthesizer creates a Synthesizer. cache and oracle may be nil.
func NewSynthesizer(cache Cache, oracle Inferrer, threshold float64) *Synthesizer {
	return &Synthesizer{cache: cache, oracle: oracle, threshold: threshold}
}

// Outcome summarizes one synthesis pass.
type Outcome struct {
	Template    string
	Source      string
	Synthesized int
	Fallback    int
	Rejected    int
	Unresolved  int
}

// NeedsSynthesis reports whether rec lacks a usable identifier.
func NeedsSynthesis(rec *model.CandidateRecord) bool {
	return rec.Identifier == "" || (!rec.Literal && !rec.Verified)
}

// Apply synthesizes identifiers in place for every record that needs one.
// It never fails: records it cannot resolve keep an empty or partially
// rendered identifier and are rejected by the admission gate.
func (s *Synthesizer) Apply(ctx context.Context, fam *model.Family, brand, series, text string, recs []*model.CandidateRecord) Outcome {
	var pending []*model.CandidateRecord
	for _, r := range recs {
		if NeedsSynthesis(r) {
			pending = append(pending, r)
		}
	}
	if len(pending) == 0 {
		return Outcome{Source: SourceNone}
	}

	corpus := textnorm.NewCorpus(text)
	tmpl, source, confidence := s.choose(ctx, fam, brand, series, text, recs)
	out := Outcome{Source: source}
	if tmpl == nil {
		for _, r := range pending {
			useFallback(r, corpus, &out)
		}
		return out
	}
	out.Template = tmpl.String()

	for _, r := range pending {
		vals := make(map[string]any, len(r.Attrs)+2)
		for k, v := range r.Attrs {
			vals[k] = v
		}
		vals["brand"] = brand
		vals["series"] = firstNonEmpty(r.Series, series)

		id, err := tmpl.Render(vals)
		if err != nil {
			if r.LiteralFallback != "" {
				useFallback(r, corpus, &out)
				continue
			}
			r.Identifier = tmpl.RenderPartial(vals)
			r.Warn(fmt.Sprintf("identifier template %s unresolved", tmpl))
			out.Unresolved++
			continue
		}
		if corpus.Contains(id) {
			r.Identifier = id
			r.Synthesized = true
			r.Literal = true
			r.Verified = true
			out.Synthesized++
			continue
		}
		r.Warn(fmt.Sprintf("synthesized identifier %s not found in source text", id))
		out.Rejected++
		useFallback(r, corpus, &out)
	}

	if source == SourceOracle && out.Synthesized > 0 && s.cache != nil {
		if err := s.cache.SaveTemplate(ctx, fam.Slug, brand, series, tmpl.String(), confidence); err != nil {
			zap.L().Warn("template: cache learned template failed",
				zap.String("family", fam.Slug), zap.String("brand", brand), zap.Error(err))
		}
	}
	return out
}

func useFallback(r *model.CandidateRecord, corpus *textnorm.Corpus, out *Outcome) {
	if r.LiteralFallback == "" {
		return
	}
	r.Identifier = r.LiteralFallback
	r.Literal = corpus.Contains(r.LiteralFallback)
	r.Verified = r.Literal
	out.Fallback++
}

// choose picks the template by source priority.
func (s *Synthesizer) choose(ctx context.Context, fam *model.Family, brand, series, text string, recs []*model.CandidateRecord) (*Template, string, float64) {
	for b, src := range fam.BrandTemplates {
		if brand != "" && textnorm.BrandKey(b) == textnorm.BrandKey(brand) {
			if t := parseLogged(src, fam.Slug); t != nil {
				return t, SourceBrandRecipe, 1
			}
		}
	}
	if fam.Template != "" {
		if t := parseLogged(fam.Template, fam.Slug); t != nil {
			return t, SourceFamilyRecipe, 1
		}
	}
	if s.cache != nil {
		src, ok, err := s.cache.LookupTemplate(ctx, fam.Slug, brand, series)
		if err != nil {
			zap.L().Warn("template: cache lookup failed", zap.String("family", fam.Slug), zap.Error(err))
		} else if ok {
			if t := parseLogged(src, fam.Slug); t != nil {
				return t, SourceCache, 1
			}
		}
	}
	if s.oracle != nil {
		examples := make([]map[string]any, 0, 5)
		for _, r := range recs {
			if len(examples) == cap(examples) {
				break
			}
			if len(r.Attrs) > 0 {
				examples = append(examples, r.Attrs)
			}
		}
		src, conf, err := s.oracle.InferTemplate(ctx, text, fam, examples)
		switch {
		case err != nil:
			zap.L().Warn("template: oracle inference unavailable", zap.String("family", fam.Slug), zap.Error(err))
		case conf < s.threshold:
			zap.L().Debug("template: oracle template below threshold",
				zap.String("family", fam.Slug), zap.String("template", src), zap.Float64("confidence", conf))
		default:
			if t := parseLogged(src, fam.Slug); t != nil {
				return t, SourceOracle, conf
			}
		}
	}
	return nil, SourceNone, 0
}

func parseLogged(src, family string) *Template {
	t, err := Parse(src)
	if err != nil {
		zap.L().Warn("template: invalid template", zap.String("family", family), zap.String("template", src), zap.Error(err))
		return nil
	}
	return t
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
