package normalize

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/sells-group/catalog-ingest/internal/textnorm"
)

// BrandDirectory provides the alias → canonical brand map.
type BrandDirectory interface {
	BrandAliases(ctx context.Context) (map[string]string, error)
}

var sentinelBrands = map[string]bool{
	"": true, "unknown": true, "n/a": true, "na": true, "none": true,
	"null": true, "-": true, "generic": true, "tbd": true, "?": true,
}

// IsSentinelBrand reports whether s is empty or a placeholder brand value.
func IsSentinelBrand(s string) bool {
	return sentinelBrands[strings.ToLower(strings.TrimSpace(s))]
}

// BrandResolver canonicalizes brand strings against a loaded alias map.
type BrandResolver struct {
	aliases map[string]string // BrandKey(alias) → canonical
	byLen   []string          // alias keys, longest first
}

// NewBrandResolver builds a resolver from an alias map. Aliases are keyed
// through textnorm.BrandKey so lookups ignore case and legal suffixes.
func NewBrandResolver(aliases map[string]string) *BrandResolver {
	r := &BrandResolver{aliases: make(map[string]string, len(aliases))}
	for alias, canonical := range aliases {
		k := textnorm.BrandKey(alias)
		if k == "" || IsSentinelBrand(canonical) {
			continue
		}
		r.aliases[k] = canonical
		// canonical names resolve to themselves
		r.aliases[textnorm.BrandKey(canonical)] = canonical
	}
	for k := range r.aliases {
		r.byLen = append(r.byLen, k)
	}
	sort.Slice(r.byLen, func(i, j int) bool {
		if len(r.byLen[i]) != len(r.byLen[j]) {
			return len(r.byLen[i]) > len(r.byLen[j])
		}
		return r.byLen[i] < r.byLen[j]
	})
	return r
}

// LoadBrandResolver reads the alias directory. A nil directory yields an
// empty resolver.
func LoadBrandResolver(ctx context.Context, dir BrandDirectory) (*BrandResolver, error) {
	if dir == nil {
		return NewBrandResolver(nil), nil
	}
	aliases, err := dir.BrandAliases(ctx)
	if err != nil {
		return nil, err
	}
	return NewBrandResolver(aliases), nil
}

var wordRe = regexp.MustCompile(`[^a-z0-9]+`)

func words(s string) string {
	return " " + strings.TrimSpace(wordRe.ReplaceAllString(strings.ToLower(s), " ")) + " "
}

// Resolve returns the canonical brand for raw. Resolution order: exact alias;
// a known alias contained in raw; for an empty raw, the longest known alias
// found in the document text. An unresolved non-sentinel raw keeps its
// literal form. The empty string means no usable brand.
func (r *BrandResolver) Resolve(raw, text string) string {
	raw = strings.TrimSpace(raw)
	if IsSentinelBrand(raw) {
		raw = ""
	}
	if raw != "" {
		if c, ok := r.aliases[textnorm.BrandKey(raw)]; ok {
			return c
		}
		if c := r.contained(words(raw)); c != "" {
			return c
		}
		return raw
	}
	if text == "" {
		return ""
	}
	return r.contained(words(text))
}

// Known reports whether raw is already an alias or canonical brand.
func (r *BrandResolver) Known(raw string) bool {
	_, ok := r.aliases[textnorm.BrandKey(raw)]
	return ok
}

// ForText prepares the document text once and returns a resolver bound to it.
func (r *BrandResolver) ForText(text string) func(raw string) string {
	prepared := ""
	if text != "" {
		prepared = words(text)
	}
	return func(raw string) string {
		raw = strings.TrimSpace(raw)
		if !IsSentinelBrand(raw) {
			return r.Resolve(raw, "")
		}
		if prepared == "" {
			return ""
		}
		return r.contained(prepared)
	}
}

func (r *BrandResolver) contained(haystack string) string {
	for _, k := range r.byLen {
		if strings.Contains(haystack, words(k)) {
			return r.aliases[k]
		}
	}
	return ""
}
