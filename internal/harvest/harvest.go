// Package harvest runs the independent extraction strategies over an
// extraction bundle and merges their identifier candidates into candidate
// records.
package harvest

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/oracle"
	"github.com/sells-group/catalog-ingest/internal/textnorm"
)

// Strategy names, in merge order.
const (
	SourceHint   = "hint"
	SourceOracle = "oracle"
	SourceTable  = "table"
	SourceText   = "text"
)

// FieldExtractor is the oracle capability the harvester uses.
type FieldExtractor interface {
	ExtractFields(ctx context.Context, text string, fam *model.Family) (*oracle.Extraction, error)
}

// Candidate is a merged identifier candidate.
type Candidate struct {
	Code     string
	Sources  []string
	Literal  bool
	Verified bool
	Attrs    map[string]any
}

func (c *Candidate) strategies() int {
	n := 0
	for _, s := range c.Sources {
		if s != SourceHint {
			n++
		}
	}
	return n
}

// Input is what one harvest needs.
type Input struct {
	Family *model.Family
	Bundle *model.ExtractionBundle
	Hints  model.Hints
}

// Result is the harvest outcome.
type Result struct {
	DocType    model.DocType
	Brand      string
	Series     string
	Candidates []*Candidate
	DocAttrs   map[string]any
	// VariantLists holds list-valued variant attributes driving ordering mode.
	VariantLists map[string][]string
	Records      []*model.CandidateRecord
	// Extras are literal candidates kept aside in ordering mode; the caller
	// adds those whose natural key synthesis did not produce.
	Extras []*model.CandidateRecord
}

// Harvester runs the strategies concurrently and merges deterministically.
type Harvester struct {
	oracle      FieldExtractor
	maxVariants int
}

// New creates a Harvester. ex may be nil.
func New(ex FieldExtractor) *Harvester {
	return &Harvester{oracle: ex, maxVariants: 256}
}

type strategyOutput struct {
	codes []string
	// corroborate marks codes that may only confirm existing candidates.
	corroborate bool
	rowAttrs    map[string]map[string]any
	docAttrs    map[string]any
	brand       string
	series      string
}

// Harvest never fails; a strategy that errors contributes nothing.
func (h *Harvester) Harvest(ctx context.Context, in Input) *Result {
	bundle := in.Bundle
	if bundle == nil {
		bundle = &model.ExtractionBundle{}
	}
	fam := in.Family
	prefixes := append([]string(nil), fam.SeriesPrefixes...)
	if in.Hints.Series != "" {
		prefixes = append(prefixes, in.Hints.Series)
	}

	var outs [3]strategyOutput
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		outs[0] = h.oracleStrategy(gctx, fam, bundle)
		return nil
	})
	g.Go(func() error {
		outs[1] = tableStrategy(bundle.Tables)
		return nil
	})
	g.Go(func() error {
		outs[2] = textStrategy(bundle.Text, prefixes)
		return nil
	})
	_ = g.Wait()

	corpus := textnorm.NewCorpus(bundle.DocumentText())
	res := &Result{DocAttrs: make(map[string]any)}

	merged := make(map[string]*Candidate)
	var order []*Candidate
	add := func(code, source string, attrs map[string]any, corroborate bool) {
		code = strings.TrimSpace(code)
		if !ValidIdentifier(code) {
			return
		}
		key := textnorm.Compact(code)
		c, ok := merged[key]
		if !ok && corroborate {
			return
		}
		if !ok {
			c = &Candidate{Code: code, Attrs: make(map[string]any)}
			merged[key] = c
			order = append(order, c)
		}
		if !contains(c.Sources, source) {
			c.Sources = append(c.Sources, source)
		}
		for k, v := range attrs {
			if _, set := c.Attrs[k]; !set && !model.IsEmptyValue(v) {
				c.Attrs[k] = v
			}
		}
	}

	if in.Hints.Code != "" {
		add(in.Hints.Code, SourceHint, nil, false)
	}
	names := [3]string{SourceOracle, SourceTable, SourceText}
	for i, out := range outs {
		for _, code := range out.codes {
			add(code, names[i], out.rowAttrs[textnorm.Compact(code)], out.corroborate)
		}
		for k, v := range out.docAttrs {
			if _, set := res.DocAttrs[k]; !set && !model.IsEmptyValue(v) {
				res.DocAttrs[k] = v
			}
		}
	}

	for _, c := range order {
		c.Literal = corpus.Contains(c.Code)
		c.Verified = c.Literal || c.strategies() >= 2
	}
	res.Candidates = order
	verified := 0
	for _, c := range order {
		if c.Verified {
			verified++
		}
	}

	res.Brand = firstNonEmpty(in.Hints.Brand, outs[0].brand)
	res.Series = firstNonEmpty(in.Hints.Series, outs[0].series, detectSeries(bundle.Text, fam.SeriesPrefixes))

	res.VariantLists = variantLists(fam, res.DocAttrs)
	res.DocType = classify(bundle.Text, verified, len(res.VariantLists))
	h.buildRecords(res, fam, in.Hints)

	zap.L().Debug("harvest: merged candidates",
		zap.String("family", fam.Slug),
		zap.String("doc_type", string(res.DocType)),
		zap.Int("candidates", len(order)),
		zap.Int("records", len(res.Records)),
	)
	return res
}

func (h *Harvester) oracleStrategy(ctx context.Context, fam *model.Family, b *model.ExtractionBundle) strategyOutput {
	var out strategyOutput
	if len(b.OracleFields) > 0 || len(b.OracleCodes) > 0 {
		out.codes = append(out.codes, b.OracleCodes...)
		out.docAttrs = snakeKeys(b.OracleFields)
		return out
	}
	if h.oracle == nil || strings.TrimSpace(b.Text) == "" {
		return out
	}
	ex, err := h.oracle.ExtractFields(ctx, b.Text, fam)
	if err != nil || ex == nil {
		zap.L().Warn("harvest: oracle extraction unavailable", zap.String("family", fam.Slug), zap.Error(err))
		return out
	}
	out.codes = append(out.codes, ex.Codes...)
	out.docAttrs = snakeKeys(ex.Fields)
	out.brand = ex.Brand
	out.series = ex.Series
	out.rowAttrs = make(map[string]map[string]any)
	for _, row := range ex.Rows {
		row = snakeKeys(row)
		code := ""
		for k, v := range row {
			if isIdentifierHeader(k) {
				if s, ok := v.(string); ok {
					code = s
				}
				delete(row, k)
			}
		}
		if code == "" {
			continue
		}
		out.codes = append(out.codes, code)
		out.rowAttrs[textnorm.Compact(code)] = row
	}
	return out
}

var idHeaderRe = regexp.MustCompile(`^(?:(?:part|catalog|cat|type|order|ordering|model|item|article|product)_?(?:no|nr|number|num|code|id)?|p_?n|mpn|sku|code)$`)

func isIdentifierHeader(h string) bool {
	return idHeaderRe.MatchString(h)
}

func tableStrategy(tables []model.Table) strategyOutput {
	out := strategyOutput{rowAttrs: make(map[string]map[string]any), docAttrs: make(map[string]any)}
	for _, t := range tables {
		headers := make([]string, len(t.Header))
		idCol := -1
		for i, hdr := range t.Header {
			headers[i] = textnorm.SnakeCase(hdr)
			if idCol < 0 && isIdentifierHeader(headers[i]) {
				idCol = i
			}
		}
		if idCol < 0 {
			// two-column tables are parameter/value spec sheets
			if len(t.Header) == 2 {
				for _, row := range t.Rows {
					if len(row) >= 2 {
						if k := textnorm.SnakeCase(row[0]); k != "" {
							out.docAttrs[k] = strings.TrimSpace(row[1])
						}
					}
				}
			}
			continue
		}
		for _, row := range t.Rows {
			if idCol >= len(row) {
				continue
			}
			code := strings.TrimSpace(row[idCol])
			if !ValidIdentifier(code) {
				continue
			}
			attrs := make(map[string]any)
			for i, cell := range row {
				if i == idCol || i >= len(headers) || headers[i] == "" {
					continue
				}
				if cell = strings.TrimSpace(cell); cell != "" {
					attrs[headers[i]] = cell
				}
			}
			out.codes = append(out.codes, code)
			key := textnorm.Compact(code)
			if _, dup := out.rowAttrs[key]; !dup {
				out.rowAttrs[key] = attrs
			}
		}
	}
	return out
}

func textStrategy(text string, prefixes []string) strategyOutput {
	return strategyOutput{codes: textTokens(text, prefixes), corroborate: len(prefixes) == 0}
}

func detectSeries(text string, prefixes []string) string {
	if text == "" {
		return ""
	}
	corpus := textnorm.NewCorpus(text)
	sorted := append([]string(nil), prefixes...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	for _, p := range sorted {
		if corpus.Contains(p) {
			return p
		}
	}
	return ""
}

func snakeKeys(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sk := textnorm.SnakeCase(k); sk != "" {
			out[sk] = v
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
