// Package normalize coerces candidate attribute values to live column
// types, resolves brands, and applies the admission gate.
package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Number is a parsed numeric value or range.
type Number struct {
	Value   float64
	Min     float64
	Max     float64
	IsRange bool
}

var (
	scalarRe = regexp.MustCompile(`^([+-]?(?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?|[+-]?\.\d+)(?:[eE]([+-]?\d+))?\s*(.*)$`)
	unitRe   = regexp.MustCompile(`^[\p{L}%°/²³.·\s]*$`)
	wordSep  = regexp.MustCompile(`(?i)^(.+?)\s*(?:\bto\b|~|–|—|\.{2,3})\s*(.+)$`)
	dashSep  = regexp.MustCompile(`^([+-]?[\d.,]+\s*[^\d\s+-]*)\s*-\s*(\d.*)$`)
)

var scales = map[rune]float64{
	'p': 1e-12, 'n': 1e-9, 'u': 1e-6, 'µ': 1e-6, 'μ': 1e-6,
	'm': 1e-3, 'k': 1e3, 'K': 1e3, 'M': 1e6, 'G': 1e9,
}

// ParseNumeric parses plain numbers, thousands separators, scale suffixes
// and ranges. Scale suffixes apply only when bare ("4.7k") or followed by an
// ohm sign ("10kΩ"); "20 mA" parses as 20 and "5V" as 5. Milli needs the
// ohm sign: "2 m" is 2 and "5 mΩ" is 0.005.
func ParseNumeric(v any) (Number, bool) {
	switch n := v.(type) {
	case float64:
		return Number{Value: n}, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return Number{Value: float64(n)}, true
	case int:
		return Number{Value: float64(n)}, true
	case int64:
		return Number{Value: float64(n)}, true
	case string:
		return parseNumericString(n)
	default:
		return Number{}, false
	}
}

func parseNumericString(s string) (Number, bool) {
	s = strings.TrimSpace(norm.NFKC.String(s))
	s = strings.ReplaceAll(s, "−", "-")
	if s == "" {
		return Number{}, false
	}
	if v, _, ok := parseScalar(s); ok {
		return Number{Value: v}, true
	}
	for _, re := range []*regexp.Regexp{wordSep, dashSep} {
		m := re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		lo, loScaled, ok1 := parseScalar(m[1])
		hi, hiScale, ok2 := parseScalarScale(m[2])
		if !ok1 || !ok2 {
			continue
		}
		if !loScaled && hiScale != 1 {
			lo *= hiScale
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		return Number{Min: lo, Max: hi, IsRange: true}, true
	}
	return Number{}, false
}

func parseScalar(s string) (float64, bool, bool) {
	v, scale, ok := parseScalarScale(s)
	return v, scale != 1, ok
}

func parseScalarScale(s string) (float64, float64, bool) {
	m := scalarRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 1, false
	}
	num := m[1]
	if m[2] != "" {
		num += "e" + m[2]
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(num, ",", ""), 64)
	if err != nil {
		return 0, 1, false
	}
	rest := strings.TrimSpace(m[3])
	if !unitRe.MatchString(rest) {
		return 0, 1, false
	}
	scale := scaleOf(rest)
	return v * scale, scale, true
}

func scaleOf(unit string) float64 {
	if unit == "" {
		return 1
	}
	r := []rune(unit)
	mult, ok := scales[r[0]]
	if !ok {
		return 1
	}
	after := strings.ToLower(strings.TrimSpace(string(r[1:])))
	switch {
	case strings.HasPrefix(after, "ω") || strings.HasPrefix(after, "ohm"):
		return mult
	case after == "" && r[0] != 'm':
		// a bare "m" is metres ("2 m" cable length), never milli
		return mult
	}
	return 1
}

var (
	trueWords  = map[string]bool{"yes": true, "y": true, "true": true, "1": true, "✓": true, "✔": true, "x": true, "on": true}
	falseWords = map[string]bool{"no": true, "n": true, "false": true, "0": true, "✗": true, "✘": true, "off": true}
)

// ParseBool accepts yes/no, true/false, 1/0 and check marks.
func ParseBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case float64:
		return b != 0, true
	case int:
		return b != 0, true
	case string:
		lower := strings.ToLower(strings.TrimSpace(b))
		if trueWords[lower] {
			return true, true
		}
		if falseWords[lower] {
			return false, true
		}
	}
	return false, false
}
