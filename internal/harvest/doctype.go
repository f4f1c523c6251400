package harvest

import (
	"regexp"
	"sort"
	"strings"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/textnorm"
)

var orderingMarkerRe = regexp.MustCompile(`(?i)\b(?:ordering\s+(?:information|info|code|key|guide|scheme)|how\s+to\s+order|order(?:ing)?\s+codes?|part\s+number\s+(?:system|key|structure))\b`)

var listSplitRe = regexp.MustCompile(`\s*[,;/|]\s*`)

// HasOrderingMarker reports whether text contains an ordering-section heading.
func HasOrderingMarker(text string) bool {
	return orderingMarkerRe.MatchString(text)
}

// classify counts only verified candidates toward a catalog; a hint or
// oracle code the document does not confirm never turns a single-item sheet
// into a catalog.
func classify(text string, verified, variantLists int) model.DocType {
	switch {
	case variantLists > 0 && HasOrderingMarker(text):
		return model.DocTypeOrdering
	case verified > 1:
		return model.DocTypeCatalog
	default:
		return model.DocTypeSingle
	}
}

// variantLists collects document-level attributes holding more than one
// option. When the family declares variant keys only those count.
func variantLists(fam *model.Family, attrs map[string]any) map[string][]string {
	out := make(map[string][]string)
	for k, v := range attrs {
		if len(fam.VariantKeys) > 0 && !fam.IsVariantKey(k) {
			continue
		}
		if vals := listValues(v); len(vals) > 1 {
			out[k] = vals
		}
	}
	return out
}

func listValues(v any) []string {
	var raw []string
	switch t := v.(type) {
	case []string:
		raw = t
	case []any:
		for _, e := range t {
			if s, ok := e.(string); ok {
				raw = append(raw, s)
			}
		}
	case string:
		if !listSplitRe.MatchString(t) {
			return nil
		}
		raw = listSplitRe.Split(t, -1)
	default:
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// variantOrder lists keys with declared variant keys first, in declared
// order, then the rest sorted.
func variantOrder(fam *model.Family, lists map[string][]string) []string {
	var keys []string
	done := make(map[string]bool)
	for _, k := range fam.VariantKeys {
		if _, ok := lists[k]; ok && !done[k] {
			keys = append(keys, k)
			done[k] = true
		}
	}
	var rest []string
	for k := range lists {
		if !done[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// expand returns the cartesian product of the option lists, capped at limit.
func expand(keys []string, lists map[string][]string, limit int) []map[string]string {
	combos := []map[string]string{{}}
	for _, k := range keys {
		var next []map[string]string
		for _, c := range combos {
			for _, v := range lists[k] {
				if len(next) >= limit {
					break
				}
				m := make(map[string]string, len(c)+1)
				for ck, cv := range c {
					m[ck] = cv
				}
				m[k] = v
				next = append(next, m)
			}
		}
		combos = next
	}
	return combos
}

// buildRecords turns merged candidates into records for the document type.
// Records whose identifier is not confirmed by the document carry a literal
// fallback when one exists: the first literal candidate on a single-item
// sheet, the literal code with matching variant values in ordering mode.
func (h *Harvester) buildRecords(res *Result, family *model.Family, hints model.Hints) {
	proto := model.NewCandidate(res.Brand, "")
	proto.Series = res.Series
	proto.DocType = res.DocType
	for k, v := range res.DocAttrs {
		proto.Attrs[k] = v
	}
	if hints.DisplayName != "" {
		proto.Overflow["display_name"] = hints.DisplayName
	}
	fromCandidate := func(c *Candidate) *model.CandidateRecord {
		r := proto.Clone()
		r.Identifier = c.Code
		r.Literal = c.Literal
		r.Verified = c.Verified
		for k, v := range c.Attrs {
			r.Attrs[k] = v
		}
		return r
	}

	switch res.DocType {
	case model.DocTypeOrdering:
		for _, c := range res.Candidates {
			if c.Literal {
				res.Extras = append(res.Extras, fromCandidate(c))
			}
		}
		keys := variantOrder(family, res.VariantLists)
		for _, combo := range expand(keys, res.VariantLists, h.maxVariants) {
			r := proto.Clone()
			for k, v := range combo {
				r.Attrs[k] = v
			}
			if ex := matchingExtra(res.Extras, combo); ex != nil {
				r.LiteralFallback = ex.Identifier
			}
			res.Records = append(res.Records, r)
		}
	case model.DocTypeCatalog:
		for _, c := range res.Candidates {
			res.Records = append(res.Records, fromCandidate(c))
		}
	default:
		if len(res.Candidates) == 0 {
			res.Records = append(res.Records, proto.Clone())
			return
		}
		r := fromCandidate(res.Candidates[0])
		if !r.Verified {
			for _, c := range res.Candidates[1:] {
				if !c.Literal {
					continue
				}
				r.LiteralFallback = c.Code
				for k, v := range c.Attrs {
					if _, set := r.Attrs[k]; !set {
						r.Attrs[k] = v
					}
				}
				break
			}
		}
		res.Records = append(res.Records, r)
	}
}

// matchingExtra returns the literal record whose attributes agree with every
// value of combo, or nil. Records without those attributes never match.
func matchingExtra(extras []*model.CandidateRecord, combo map[string]string) *model.CandidateRecord {
	if len(combo) == 0 {
		return nil
	}
	for _, ex := range extras {
		match := true
		for k, want := range combo {
			got, ok := ex.Attrs[k].(string)
			if !ok || textnorm.Compact(got) != textnorm.Compact(want) {
				match = false
				break
			}
		}
		if match {
			return ex
		}
	}
	return nil
}
