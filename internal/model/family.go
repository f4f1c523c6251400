package model

import (
	"sort"
	"strings"
)

// AttrType is the storage type of a family attribute column.
type AttrType string

const (
	AttrNumeric AttrType = "numeric"
	AttrBoolean AttrType = "boolean"
	AttrText    AttrType = "text"
)

// ParseAttrType maps loose type names from blueprints or the store to an AttrType.
// Unknown names default to text.
func ParseAttrType(s string) AttrType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "numeric", "number", "float", "double precision", "real", "integer", "int", "bigint", "smallint", "decimal":
		return AttrNumeric
	case "boolean", "bool":
		return AttrBoolean
	default:
		return AttrText
	}
}

// BaseColumns are the fixed columns every family relation carries.
var BaseColumns = []string{
	"id", "brand", "identifier", "series", "family", "doc_type",
	"verified", "source_ref", "run_id", "overflow", "created_at", "updated_at",
}

var baseColumnSet = func() map[string]bool {
	m := make(map[string]bool, len(BaseColumns))
	for _, c := range BaseColumns {
		m[c] = true
	}
	return m
}()

// IsBaseColumn reports whether col belongs to the fixed base column set.
func IsBaseColumn(col string) bool {
	return baseColumnSet[col]
}

// Family describes a catalog record type and its storage relation.
type Family struct {
	Slug           string              `json:"slug" yaml:"slug"`
	Table          string              `json:"table" yaml:"table"`
	Attributes     map[string]AttrType `json:"attributes,omitempty" yaml:"attributes"`
	Allowed        []string            `json:"allowed,omitempty" yaml:"-"`
	VariantKeys    []string            `json:"variant_keys,omitempty" yaml:"variant_keys"`
	Template       string              `json:"template,omitempty" yaml:"template"`
	BrandTemplates map[string]string   `json:"brand_templates,omitempty" yaml:"brand_templates"`
	SeriesPrefixes []string            `json:"series_prefixes,omitempty" yaml:"series_prefixes"`
	Keywords       []string            `json:"keywords,omitempty" yaml:"keywords"`
	Brands         []string            `json:"brands,omitempty" yaml:"brands"`
}

// TypeOf returns the declared type for key. Range siblings (key_min/key_max)
// inherit the type of their base attribute.
func (f *Family) TypeOf(key string) AttrType {
	if t, ok := f.Attributes[key]; ok {
		return t
	}
	for _, suffix := range []string{"_min", "_max"} {
		if base, ok := strings.CutSuffix(key, suffix); ok {
			if t, ok := f.Attributes[base]; ok {
				return t
			}
		}
	}
	return AttrText
}

// Vocabulary returns every attribute name known for the family, sorted.
func (f *Family) Vocabulary() []string {
	seen := make(map[string]bool, len(f.Attributes)+len(f.Allowed))
	var out []string
	for k := range f.Attributes {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for _, k := range f.Allowed {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// IsVariantKey reports whether key enumerates distinct items for this family.
func (f *Family) IsVariantKey(key string) bool {
	for _, k := range f.VariantKeys {
		if k == key {
			return true
		}
	}
	return false
}

// TemplateFor returns the explicit identifier recipe for brand, falling back
// to the family-wide template. Brand matching is case-insensitive.
func (f *Family) TemplateFor(brand string) string {
	for b, tmpl := range f.BrandTemplates {
		if strings.EqualFold(b, brand) {
			return tmpl
		}
	}
	return f.Template
}
