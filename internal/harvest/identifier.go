package harvest

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	unitTokenRe = regexp.MustCompile(`(?i)^[+-]?\d+(?:[.,]\d+)?\s*(?:v|vac|vdc|a|ma|ua|µa|w|mw|kw|hz|khz|mhz|ghz|ohms?|kohms?|mohms?|ω|kω|mω|°c|°f|c|f|mm|cm|m|in|g|kg|ms|us|µs|s|min|h|pf|nf|uf|µf|mh|uh|db|dbm|%|rpm|va|kva|bar|psi|pa|kpa|nm|awg|k|pcs|x)$`)
	noiseRe     = regexp.MustCompile(`(?i)^(?:iso|iec|en|ul|csa|vde|din|rohs|reach|ieee|ansi|page|rev|fig|table|tel|fax|www|http)[-\s]?\d`)
	dateRe      = regexp.MustCompile(`^\d{1,4}[-/.]\d{1,2}[-/.]\d{1,4}$`)
	versionRe   = regexp.MustCompile(`(?i)^v?\d+(?:\.\d+)+$`)
)

// ValidIdentifier reports whether s is shaped like a catalog identifier:
// 3 to 40 runes, at least one letter and one digit, only identifier
// punctuation, and not a unit, standard reference, date or version token.
func ValidIdentifier(s string) bool {
	s = strings.TrimSpace(s)
	n := utf8.RuneCountInString(s)
	if n < 3 || n > 40 {
		return false
	}
	var letter, digit bool
	spaces := 0
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		case r == ' ':
			spaces++
		case strings.ContainsRune("-_/.+#()", r):
		default:
			return false
		}
	}
	if !letter || !digit || spaces > 2 {
		return false
	}
	if strings.ContainsAny(s, "{}") {
		return false
	}
	return !unitTokenRe.MatchString(s) && !noiseRe.MatchString(s) && !dateRe.MatchString(s) && !versionRe.MatchString(s)
}

var tokenRe = regexp.MustCompile(`[A-Za-z0-9][A-Za-z0-9\-_/.+#]*[A-Za-z0-9#+]`)

// textTokens returns identifier-shaped tokens from free text in order of
// first appearance. When prefixes is non-empty only tokens starting with one
// of them (case-insensitive) are kept.
func textTokens(text string, prefixes []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, tok := range tokenRe.FindAllString(text, -1) {
		if !ValidIdentifier(tok) || seen[tok] {
			continue
		}
		if len(prefixes) > 0 && !hasAnyPrefix(tok, prefixes) {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

func hasAnyPrefix(tok string, prefixes []string) bool {
	up := strings.ToUpper(tok)
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(up, strings.ToUpper(p)) {
			return true
		}
	}
	return false
}
