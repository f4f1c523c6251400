// Package textnorm holds the string normalizations shared by the ingestion
// stages: verbatim matching, snake-case keys, slugs and brand keys.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Compact applies NFKC, case-folds to upper, and strips whitespace and
// punctuation. Two strings that differ only in spacing, dashes, dots or
// compatibility forms compact to the same value.
func Compact(s string) string {
	s = norm.NFKC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// Corpus is a source text prepared for repeated verbatim lookups.
type Corpus struct {
	compact string
}

// NewCorpus compacts text once.
func NewCorpus(text string) *Corpus {
	return &Corpus{compact: Compact(text)}
}

// Contains reports whether s appears verbatim in the corpus after both are
// compacted. Empty needles never match.
func (c *Corpus) Contains(s string) bool {
	if c == nil {
		return false
	}
	n := Compact(s)
	return n != "" && strings.Contains(c.compact, n)
}

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

// SnakeCase converts a free-form header or key into snake_case ASCII.
// Units in parentheses are dropped: "Coil Voltage (V)" -> "coil_voltage".
func SnakeCase(s string) string {
	s = norm.NFKD.String(s)
	if i := strings.IndexAny(s, "(["); i > 0 {
		s = s[:i]
	}
	var b strings.Builder
	prevLower := false
	for _, r := range s {
		if r > unicode.MaxASCII {
			continue
		}
		if unicode.IsUpper(r) && prevLower {
			b.WriteByte('_')
		}
		prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		b.WriteRune(unicode.ToLower(r))
	}
	out := nonAlnumRe.ReplaceAllString(b.String(), "_")
	return strings.Trim(out, "_")
}

// Slug converts a family name into its slug form.
func Slug(s string) string {
	return SnakeCase(strings.ToLower(s))
}

var legalSuffixes = []string{
	" INCORPORATED", " CORPORATION", " GMBH", " LIMITED", " INC", " CORP",
	" LTD", " LLC", " CO", " AG", " SA", " BV", " KK",
}

var multiSpaceRe = regexp.MustCompile(`\s+`)

// BrandKey produces the lookup key for a brand alias: case-folded, with
// punctuation and trailing legal suffixes removed.
func BrandKey(s string) string {
	s = strings.ToUpper(norm.NFKC.String(strings.TrimSpace(s)))
	s = strings.NewReplacer(",", " ", ".", " ", "'", "", "\"", "", "&", " AND ").Replace(s)
	s = multiSpaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	for _, suffix := range legalSuffixes {
		if strings.HasSuffix(s, suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, suffix))
			break
		}
	}
	return folder.String(s)
}
