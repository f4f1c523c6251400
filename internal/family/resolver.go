// Package family decides which record family a document belongs to and
// serves family descriptors merged from blueprints and the store registry.
package family

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/oracle"
	"github.com/sells-group/catalog-ingest/internal/textnorm"
)

// Resolution sources.
const (
	SourceHint    = "hint"
	SourceKeyword = "keyword"
	SourceBrand   = "brand"
	SourceOracle  = "oracle"
	SourceDefault = "default"
)

// Classifier is the oracle capability the resolver uses.
type Classifier interface {
	ClassifyFamily(ctx context.Context, text string, families []string) (oracle.Classification, error)
}

// Resolution is the outcome of family resolution.
type Resolution struct {
	Slug       string
	Source     string
	Confidence float64
	// Uncertain is set when nothing but the default matched.
	Uncertain bool
}

// ResolverConfig tunes the resolver.
type ResolverConfig struct {
	DefaultFamily string
	Threshold     float64
	OracleTimeout time.Duration
}

// Resolver picks a family: explicit hint, keywords, brands, oracle, default.
type Resolver struct {
	blueprints []model.Family
	keywordRes [][]*regexp.Regexp
	classifier Classifier
	cfg        ResolverConfig
}

// NewResolver builds a Resolver over blueprints. classifier may be nil.
func NewResolver(blueprints []model.Family, classifier Classifier, cfg ResolverConfig) *Resolver {
	if cfg.DefaultFamily == "" {
		cfg.DefaultFamily = "component"
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.6
	}
	r := &Resolver{blueprints: blueprints, classifier: classifier, cfg: cfg}
	for _, bp := range blueprints {
		var res []*regexp.Regexp
		for _, kw := range bp.Keywords {
			if kw = strings.TrimSpace(kw); kw != "" {
				res = append(res, wordRe(kw))
			}
		}
		r.keywordRes = append(r.keywordRes, res)
	}
	return r
}

func wordRe(phrase string) *regexp.Regexp {
	parts := strings.Fields(phrase)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(`(?i)\b` + strings.Join(parts, `\s+`) + `s?\b`)
}

// Resolve never fails. An oracle that times out or is unavailable is
// skipped and resolution continues with the default family.
func (r *Resolver) Resolve(ctx context.Context, hint, sample, brandHint string) Resolution {
	if slug := textnorm.Slug(hint); slug != "" {
		return Resolution{Slug: slug, Source: SourceHint, Confidence: 1}
	}
	if slug, ok := r.byKeywords(sample); ok {
		return Resolution{Slug: slug, Source: SourceKeyword, Confidence: 1}
	}
	if slug, ok := r.byBrand(brandHint, sample); ok {
		return Resolution{Slug: slug, Source: SourceBrand, Confidence: 1}
	}
	if res, ok := r.byOracle(ctx, sample); ok {
		return res
	}
	zap.L().Warn("family: classification uncertain, using default",
		zap.String("family", r.cfg.DefaultFamily),
		zap.Error(model.ErrClassificationUncertain),
	)
	return Resolution{Slug: r.cfg.DefaultFamily, Source: SourceDefault, Uncertain: true}
}

// byKeywords scores each blueprint by keyword hits; ties go to the earlier
// declared blueprint.
func (r *Resolver) byKeywords(sample string) (string, bool) {
	if sample == "" {
		return "", false
	}
	best, bestScore := "", 0
	for i, res := range r.keywordRes {
		score := 0
		for _, re := range res {
			score += len(re.FindAllStringIndex(sample, -1))
		}
		if score > bestScore {
			best, bestScore = r.blueprints[i].Slug, score
		}
	}
	return best, bestScore > 0
}

// byBrand matches the brand hint, then brand names in the sample, against
// blueprint brand lists. A brand claimed by several families decides nothing.
func (r *Resolver) byBrand(brandHint, sample string) (string, bool) {
	owners := make(map[string][]string)
	for _, bp := range r.blueprints {
		for _, b := range bp.Brands {
			key := textnorm.BrandKey(b)
			if key != "" {
				owners[key] = append(owners[key], bp.Slug)
			}
		}
	}
	unique := func(key string) (string, bool) {
		slugs := owners[key]
		if len(slugs) == 1 {
			return slugs[0], true
		}
		return "", false
	}

	if key := textnorm.BrandKey(brandHint); key != "" {
		if slug, ok := unique(key); ok {
			return slug, true
		}
	}
	if sample == "" {
		return "", false
	}
	for _, bp := range r.blueprints {
		for _, b := range bp.Brands {
			if !wordRe(b).MatchString(sample) {
				continue
			}
			if slug, ok := unique(textnorm.BrandKey(b)); ok {
				return slug, true
			}
		}
	}
	return "", false
}

func (r *Resolver) byOracle(ctx context.Context, sample string) (Resolution, bool) {
	if r.classifier == nil || strings.TrimSpace(sample) == "" || len(r.blueprints) == 0 {
		return Resolution{}, false
	}
	if r.cfg.OracleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.OracleTimeout)
		defer cancel()
	}
	slugs := make([]string, len(r.blueprints))
	for i, bp := range r.blueprints {
		slugs[i] = bp.Slug
	}
	cls, err := r.classifier.ClassifyFamily(ctx, sample, slugs)
	if err != nil {
		zap.L().Warn("family: oracle classification unavailable", zap.Error(err))
		return Resolution{}, false
	}
	if cls.Family == "" || cls.Confidence < r.cfg.Threshold {
		zap.L().Debug("family: oracle below threshold",
			zap.String("family", cls.Family),
			zap.Float64("confidence", cls.Confidence),
		)
		return Resolution{}, false
	}
	slug, ok := r.Known(cls.Family)
	if !ok {
		zap.L().Warn("family: oracle named an unknown family", zap.String("family", cls.Family))
		return Resolution{}, false
	}
	return Resolution{Slug: slug, Source: SourceOracle, Confidence: cls.Confidence}, true
}

// Known slugs name and reports whether a blueprint declares that family.
func (r *Resolver) Known(name string) (string, bool) {
	slug := textnorm.Slug(name)
	if slug == "" {
		return "", false
	}
	for _, bp := range r.blueprints {
		if bp.Slug == slug {
			return slug, true
		}
	}
	return "", false
}
