package normalize

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/template"
)

// Coerce converts rec's attributes to the types of the live columns. Keys
// without a column, base-column collisions and values that cannot be
// coerced move to the overflow map; every coercion failure adds a warning.
func Coerce(rec *model.CandidateRecord, columns map[string]model.AttrType) {
	if rec.Overflow == nil {
		rec.Overflow = make(map[string]any)
	}
	keys := make([]string, 0, len(rec.Attrs))
	for k := range rec.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(rec.Attrs))
	for _, k := range keys {
		v := rec.Attrs[k]
		if model.IsEmptyValue(v) {
			continue
		}
		typ, ok := columns[k]
		if !ok || model.IsBaseColumn(k) {
			rec.Overflow[k] = v
			continue
		}
		switch typ {
		case model.AttrNumeric:
			coerceNumeric(rec, out, columns, k, v)
		case model.AttrBoolean:
			b, ok := ParseBool(v)
			if !ok {
				rec.Overflow[k] = v
				rec.Warn(fmt.Sprintf("%s: %q is not a boolean", k, template.Stringify(v)))
				continue
			}
			out[k] = b
		default:
			out[k] = textValue(v)
		}
	}
	rec.Attrs = out
}

func coerceNumeric(rec *model.CandidateRecord, out map[string]any, columns map[string]model.AttrType, k string, v any) {
	n, ok := ParseNumeric(v)
	if !ok {
		rec.Overflow[k] = v
		rec.Warn(fmt.Sprintf("%s: %q is not numeric", k, template.Stringify(v)))
		return
	}
	if !n.IsRange {
		out[k] = n.Value
		return
	}
	minCol, maxCol := k+"_min", k+"_max"
	if columns[minCol] == model.AttrNumeric && columns[maxCol] == model.AttrNumeric {
		out[minCol] = n.Min
		out[maxCol] = n.Max
		return
	}
	rec.Overflow[k] = v
	rec.Warn(fmt.Sprintf("%s: range %q has no _min/_max columns", k, template.Stringify(v)))
}

func textValue(v any) string {
	switch x := v.(type) {
	case []string:
		return strings.Join(x, ", ")
	case []any:
		parts := make([]string, 0, len(x))
		for _, p := range x {
			parts = append(parts, template.Stringify(p))
		}
		return strings.Join(parts, ", ")
	default:
		return template.Stringify(v)
	}
}

// NormalizeIdentifier applies NFKC, trims, and collapses inner whitespace.
// Case is preserved; the natural key folds case separately.
func NormalizeIdentifier(id string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(id)), " ")
}
