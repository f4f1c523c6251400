// Package schema negotiates a family's live column set with the attribute
// keys a document produced: keys are canonicalized, missing columns are
// added, and variant keys are learned.
package schema

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/catalog"
	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/normalize"
	"github.com/sells-group/catalog-ingest/internal/oracle"
	"github.com/sells-group/catalog-ingest/internal/textnorm"
)

// Canonicalization sources.
const (
	SourceAlias    = "alias"
	SourceOracle   = "oracle"
	SourceIdentity = "identity"
)

// Store is the store surface the negotiator needs.
type Store interface {
	Columns(ctx context.Context, table string) (map[string]model.AttrType, error)
	AddColumn(ctx context.Context, table, column string, typ model.AttrType) error
	Aliases(ctx context.Context, family string) ([]catalog.Alias, error)
	SaveAlias(ctx context.Context, a catalog.Alias) error
	SaveVariantKeys(ctx context.Context, slug string, keys []string) error
}

// Oracle is the oracle surface the negotiator needs.
type Oracle interface {
	CanonicalizeKeys(ctx context.Context, fam *model.Family, keys, vocabulary []string) (map[string]oracle.Canonical, error)
	RankVariantKeys(ctx context.Context, fam *model.Family, text string, keys []string) ([]string, error)
}

// Config tunes negotiation.
type Config struct {
	CanonThreshold float64
	MaxVariantKeys int
}

// Negotiator extends a family's schema additively.
type Negotiator struct {
	store  Store
	oracle Oracle
	cfg    Config
}

// New creates a Negotiator. o may be nil.
func New(store Store, o Oracle, cfg Config) *Negotiator {
	if cfg.CanonThreshold <= 0 {
		cfg.CanonThreshold = 0.8
	}
	if cfg.MaxVariantKeys <= 0 {
		cfg.MaxVariantKeys = 5
	}
	return &Negotiator{store: store, oracle: o, cfg: cfg}
}

// Request is one negotiation.
type Request struct {
	Family *model.Family
	Brand  string
	Series string
	// Values maps each raw attribute key to every value seen for it.
	Values map[string][]any
	Text   string
}

// Outcome is the negotiated schema for one run.
type Outcome struct {
	// Columns is the live column set after negotiation.
	Columns map[string]model.AttrType
	// Mapping maps raw keys to canonical columns. An empty target routes
	// the key to overflow.
	Mapping map[string]string
	Sources map[string]string
	Added   []string
	// VariantKeys is the family's variant-key set after negotiation.
	VariantKeys    []string
	NewVariantKeys []string
}

// Negotiate canonicalizes the request's keys and makes sure a column exists
// for each. Store failures abort with model.ErrSchemaNotReady; oracle
// failures fall back to identity.
func (n *Negotiator) Negotiate(ctx context.Context, req Request) (*Outcome, error) {
	fam := req.Family
	live, err := n.store.Columns(ctx, fam.Table)
	if err != nil {
		return nil, eris.Wrapf(model.ErrSchemaNotReady, "schema: columns of %s: %v", fam.Table, err)
	}

	out := &Outcome{
		Columns: live,
		Mapping: make(map[string]string, len(req.Values)),
		Sources: make(map[string]string, len(req.Values)),
	}

	raw := make([]string, 0, len(req.Values))
	for k := range req.Values {
		raw = append(raw, k)
	}
	sort.Strings(raw)

	aliases, err := n.store.Aliases(ctx, fam.Slug)
	if err != nil {
		zap.L().Warn("schema: alias lookup failed", zap.String("family", fam.Slug), zap.Error(err))
	}
	scoped := scopeAliases(aliases, req.Brand, req.Series)

	known := make(map[string]bool)
	for _, k := range fam.Vocabulary() {
		known[k] = true
	}
	for k := range live {
		known[k] = true
	}

	var unresolved []string
	for _, k := range raw {
		if c, ok := scoped[k]; ok {
			out.Mapping[k], out.Sources[k] = c, SourceAlias
			continue
		}
		if known[k] {
			out.Mapping[k], out.Sources[k] = k, SourceIdentity
			continue
		}
		unresolved = append(unresolved, k)
	}
	n.canonicalize(ctx, req, vocabulary(known), unresolved, out)

	// Columns that collide with base columns go to overflow.
	for k, c := range out.Mapping {
		if c == "" || model.IsBaseColumn(c) {
			out.Mapping[k] = ""
		}
	}

	if err := n.ensureColumns(ctx, req, out); err != nil {
		return nil, err
	}
	n.learnVariantKeys(ctx, req, out)
	return out, nil
}

// scopeAliases picks, per raw key, the alias from the narrowest matching
// scope: (brand, series), then (brand), then family-wide.
func scopeAliases(aliases []catalog.Alias, brand, series string) map[string]string {
	rank := func(a catalog.Alias) int {
		switch {
		case a.Brand == "" && a.Series == "":
			return 1
		case strings.EqualFold(a.Brand, brand) && a.Series == "":
			return 2
		case strings.EqualFold(a.Brand, brand) && series != "" && strings.EqualFold(a.Series, series):
			return 3
		default:
			return 0
		}
	}
	best := make(map[string]int)
	out := make(map[string]string)
	for _, a := range aliases {
		r := rank(a)
		if r == 0 || r <= best[a.Raw] {
			continue
		}
		best[a.Raw] = r
		out[a.Raw] = a.Canonical
	}
	return out
}

func vocabulary(known map[string]bool) []string {
	out := make([]string, 0, len(known))
	for k := range known {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (n *Negotiator) canonicalize(ctx context.Context, req Request, vocab, keys []string, out *Outcome) {
	for _, k := range keys {
		out.Mapping[k], out.Sources[k] = textnorm.SnakeCase(k), SourceIdentity
	}
	if n.oracle == nil || len(keys) == 0 || len(vocab) == 0 {
		return
	}
	fam := req.Family
	proposals, err := n.oracle.CanonicalizeKeys(ctx, fam, keys, vocab)
	if err != nil {
		zap.L().Warn("schema: oracle canonicalization unavailable", zap.String("family", fam.Slug), zap.Error(err))
		return
	}
	for _, k := range keys {
		p, ok := proposals[k]
		if !ok || p.Key == "" || p.Confidence < n.cfg.CanonThreshold {
			continue
		}
		out.Mapping[k], out.Sources[k] = p.Key, SourceOracle
		if p.Key == k {
			continue
		}
		err := n.store.SaveAlias(ctx, catalog.Alias{
			Family:     fam.Slug,
			Brand:      req.Brand,
			Raw:        k,
			Canonical:  p.Key,
			Confidence: p.Confidence,
			Source:     SourceOracle,
		})
		if err != nil {
			zap.L().Warn("schema: save alias failed", zap.String("family", fam.Slug), zap.String("raw", k), zap.Error(err))
		}
	}
}

// ensureColumns adds a column for every canonical target that is missing,
// plus _min/_max siblings for numeric columns that received a range.
func (n *Negotiator) ensureColumns(ctx context.Context, req Request, out *Outcome) error {
	fam := req.Family
	values := make(map[string][]any)
	for raw, col := range out.Mapping {
		if col != "" {
			values[col] = append(values[col], req.Values[raw]...)
		}
	}

	want := make(map[string]model.AttrType)
	for col, vals := range values {
		typ, ok := out.Columns[col]
		if !ok {
			typ = inferType(fam, col, vals)
			want[col] = typ
		}
		if typ == model.AttrNumeric && hasRange(vals) {
			for _, sib := range []string{col + "_min", col + "_max"} {
				if _, ok := out.Columns[sib]; !ok {
					want[sib] = model.AttrNumeric
				}
			}
		}
	}

	cols := make([]string, 0, len(want))
	for c := range want {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	for _, col := range cols {
		if err := n.store.AddColumn(ctx, fam.Table, col, want[col]); err != nil {
			return eris.Wrapf(model.ErrSchemaNotReady, "schema: add column %s.%s: %v", fam.Table, col, err)
		}
		out.Columns[col] = want[col]
		out.Added = append(out.Added, col)
	}
	if len(out.Added) > 0 {
		zap.L().Info("schema: columns added",
			zap.String("family", fam.Slug),
			zap.Strings("columns", out.Added),
		)
	}
	return nil
}

// inferType uses the declared type when there is one, otherwise the type
// every observed value agrees on, defaulting to text.
func inferType(fam *model.Family, col string, vals []any) model.AttrType {
	if _, ok := fam.Attributes[col]; ok {
		return fam.TypeOf(col)
	}
	if base, ok := strings.CutSuffix(col, "_min"); ok && fam.Attributes[base] != "" {
		return fam.TypeOf(col)
	}
	if base, ok := strings.CutSuffix(col, "_max"); ok && fam.Attributes[base] != "" {
		return fam.TypeOf(col)
	}
	seen := 0
	numeric, boolean := true, true
	for _, v := range vals {
		if model.IsEmptyValue(v) {
			continue
		}
		seen++
		if _, ok := normalize.ParseNumeric(v); !ok {
			numeric = false
		}
		if _, ok := normalize.ParseBool(v); !ok {
			boolean = false
		}
	}
	switch {
	case seen == 0:
		return model.AttrText
	case boolean && !numeric:
		return model.AttrBoolean
	case numeric:
		return model.AttrNumeric
	default:
		return model.AttrText
	}
}

func hasRange(vals []any) bool {
	for _, v := range vals {
		if n, ok := normalize.ParseNumeric(v); ok && n.IsRange {
			return true
		}
	}
	return false
}

// learnVariantKeys unions the family's variant keys with the oracle's
// ranking of this batch's columns and persists anything new.
func (n *Negotiator) learnVariantKeys(ctx context.Context, req Request, out *Outcome) {
	fam := req.Family
	out.VariantKeys = append([]string(nil), fam.VariantKeys...)
	if n.oracle == nil || len(out.VariantKeys) >= n.cfg.MaxVariantKeys {
		return
	}

	seen := make(map[string]bool)
	for _, k := range out.VariantKeys {
		seen[k] = true
	}
	var candidates []string
	for _, col := range out.Mapping {
		if col != "" && !seen[col] && !strings.HasSuffix(col, "_min") && !strings.HasSuffix(col, "_max") {
			seen[col] = true
			candidates = append(candidates, col)
		}
	}
	if len(candidates) == 0 {
		return
	}
	sort.Strings(candidates)

	ranked, err := n.oracle.RankVariantKeys(ctx, fam, req.Text, candidates)
	if err != nil {
		zap.L().Warn("schema: variant key ranking unavailable", zap.String("family", fam.Slug), zap.Error(err))
		return
	}
	allowed := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		allowed[c] = true
	}
	for _, k := range ranked {
		if len(out.VariantKeys) >= n.cfg.MaxVariantKeys {
			break
		}
		if allowed[k] {
			allowed[k] = false
			out.VariantKeys = append(out.VariantKeys, k)
			out.NewVariantKeys = append(out.NewVariantKeys, k)
		}
	}
	if len(out.NewVariantKeys) == 0 {
		return
	}
	if err := n.store.SaveVariantKeys(ctx, fam.Slug, out.NewVariantKeys); err != nil {
		zap.L().Warn("schema: save variant keys failed", zap.String("family", fam.Slug), zap.Error(err))
		return
	}
	zap.L().Info("schema: variant keys learned",
		zap.String("family", fam.Slug),
		zap.Strings("keys", out.NewVariantKeys),
	)
}
