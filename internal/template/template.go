// Package template implements the identifier template grammar and the
// synthesizer that renders catalog identifiers from attribute values.
//
// A template is literal text with placeholders of the form
// {name|transform|...}. Supported transforms:
//
//	upper, lower    change case
//	pad=N           zero-pad the leading digit run to N digits
//	first           first token (split on space, comma, slash)
//	digits          keep digits only
//	map:A>B,C>D     value aliasing, case-insensitive on the input side
//	slice=a:b       rune substring, negative indices count from the end
package template

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
)

// ErrUnresolved is returned by Render when a placeholder has no value.
var ErrUnresolved = eris.New("template: unresolved placeholder")

var placeholderRe = regexp.MustCompile(`\{[A-Za-z_][^{}]*\}`)

// HasPlaceholder reports whether s still contains a {placeholder}.
func HasPlaceholder(s string) bool {
	return placeholderRe.MatchString(s)
}

type transform struct {
	kind    string
	n       int
	from    int
	to      int
	hasFrom bool
	hasTo   bool
	mapping map[string]string
	outputs []string
}

type segment struct {
	literal    string
	name       string
	transforms []transform
}

func (s segment) isPlaceholder() bool { return s.name != "" }

func (s segment) lossy() bool {
	for _, t := range s.transforms {
		if t.kind == "first" || t.kind == "slice" {
			return true
		}
	}
	return false
}

// Template is a parsed identifier template.
type Template struct {
	src      string
	segments []segment
	decoder  *regexp.Regexp
}

// Parse compiles src. Templates without placeholders are rejected.
func Parse(src string) (*Template, error) {
	t := &Template{src: src}
	rest := src
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			t.segments = append(t.segments, segment{literal: rest})
			break
		}
		if open > 0 {
			t.segments = append(t.segments, segment{literal: rest[:open]})
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return nil, eris.Errorf("template: unclosed placeholder in %q", src)
		}
		seg, err := parsePlaceholder(rest[open+1 : open+end])
		if err != nil {
			return nil, eris.Wrapf(err, "template: parse %q", src)
		}
		t.segments = append(t.segments, seg)
		rest = rest[open+end+1:]
	}
	if len(t.Placeholders()) == 0 {
		return nil, eris.Errorf("template: %q has no placeholders", src)
	}
	t.decoder = t.buildDecoder()
	return t, nil
}

// MustParse is Parse that panics on error, for static templates.
func MustParse(src string) *Template {
	t, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return t
}

func parsePlaceholder(body string) (segment, error) {
	parts := strings.Split(body, "|")
	name := strings.TrimSpace(parts[0])
	if name == "" {
		return segment{}, eris.New("empty placeholder name")
	}
	seg := segment{name: name}
	for _, p := range parts[1:] {
		tr, err := parseTransform(strings.TrimSpace(p))
		if err != nil {
			return segment{}, err
		}
		seg.transforms = append(seg.transforms, tr)
	}
	return seg, nil
}

func parseTransform(p string) (transform, error) {
	switch {
	case p == "upper", p == "lower", p == "first", p == "digits":
		return transform{kind: p}, nil
	case strings.HasPrefix(p, "pad="):
		n, err := strconv.Atoi(strings.TrimPrefix(p, "pad="))
		if err != nil || n <= 0 {
			return transform{}, eris.Errorf("bad pad width in %q", p)
		}
		return transform{kind: "pad", n: n}, nil
	case strings.HasPrefix(p, "map:"):
		tr := transform{kind: "map", mapping: make(map[string]string)}
		for _, pair := range strings.Split(strings.TrimPrefix(p, "map:"), ",") {
			from, to, ok := strings.Cut(pair, ">")
			if !ok {
				return transform{}, eris.Errorf("bad map pair %q", pair)
			}
			tr.mapping[strings.ToUpper(strings.TrimSpace(from))] = strings.TrimSpace(to)
			tr.outputs = append(tr.outputs, strings.TrimSpace(to))
		}
		return tr, nil
	case strings.HasPrefix(p, "slice="):
		a, b, ok := strings.Cut(strings.TrimPrefix(p, "slice="), ":")
		if !ok {
			return transform{}, eris.Errorf("bad slice %q", p)
		}
		tr := transform{kind: "slice"}
		if a != "" {
			v, err := strconv.Atoi(a)
			if err != nil {
				return transform{}, eris.Errorf("bad slice start %q", p)
			}
			tr.from, tr.hasFrom = v, true
		}
		if b != "" {
			v, err := strconv.Atoi(b)
			if err != nil {
				return transform{}, eris.Errorf("bad slice end %q", p)
			}
			tr.to, tr.hasTo = v, true
		}
		return tr, nil
	}
	return transform{}, eris.Errorf("unknown transform %q", p)
}

// String returns the template source.
func (t *Template) String() string { return t.src }

// Placeholders returns the distinct placeholder names in order of appearance.
func (t *Template) Placeholders() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range t.segments {
		if s.isPlaceholder() && !seen[s.name] {
			seen[s.name] = true
			out = append(out, s.name)
		}
	}
	return out
}

// Render fills every placeholder from values. Missing or empty values yield
// ErrUnresolved naming the placeholders.
func (t *Template) Render(values map[string]any) (string, error) {
	out, missing := t.render(values)
	if len(missing) > 0 {
		return "", eris.Wrapf(ErrUnresolved, "missing %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// RenderPartial renders what it can and leaves unresolved placeholders in
// place, so the output can be recognized as unresolved downstream.
func (t *Template) RenderPartial(values map[string]any) string {
	out, _ := t.render(values)
	return out
}

func (t *Template) render(values map[string]any) (string, []string) {
	var b strings.Builder
	var missing []string
	for _, s := range t.segments {
		if !s.isPlaceholder() {
			b.WriteString(s.literal)
			continue
		}
		v := Stringify(values[s.name])
		for _, tr := range s.transforms {
			if v == "" {
				break
			}
			v = tr.apply(v)
		}
		if v == "" {
			missing = append(missing, s.name)
			b.WriteString("{" + s.name + "}")
			continue
		}
		b.WriteString(v)
	}
	return b.String(), missing
}

func (tr transform) apply(v string) string {
	switch tr.kind {
	case "upper":
		return strings.ToUpper(v)
	case "lower":
		return strings.ToLower(v)
	case "first":
		f := strings.FieldsFunc(v, func(r rune) bool { return unicode.IsSpace(r) || r == ',' || r == '/' })
		if len(f) == 0 {
			return ""
		}
		return f[0]
	case "digits":
		return strings.Map(func(r rune) rune {
			if unicode.IsDigit(r) {
				return r
			}
			return -1
		}, v)
	case "pad":
		d := leadingDigits(v)
		if d == "" {
			return v
		}
		if len(d) < tr.n {
			d = strings.Repeat("0", tr.n-len(d)) + d
		}
		return d
	case "map":
		if m, ok := tr.mapping[strings.ToUpper(strings.TrimSpace(v))]; ok {
			return m
		}
		return v
	case "slice":
		r := []rune(v)
		from, to := 0, len(r)
		if tr.hasFrom {
			from = clampIndex(tr.from, len(r))
		}
		if tr.hasTo {
			to = clampIndex(tr.to, len(r))
		}
		if from >= to {
			return ""
		}
		return string(r[from:to])
	}
	return v
}

func clampIndex(i, n int) int {
	if i < 0 {
		i += n
	}
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}

func leadingDigits(v string) string {
	v = strings.TrimSpace(v)
	end := 0
	for end < len(v) && v[end] >= '0' && v[end] <= '9' {
		end++
	}
	return v[:end]
}

// Stringify renders an attribute value for template substitution. Integral
// floats print without a fractional part. Lists and nil yield "".
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return Stringify(float64(x))
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case []string, []any:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

// Decode reverses the template against an identifier and returns the
// recoverable placeholder values. Placeholders using lossy transforms
// (first, slice) are matched but not returned. Mapped values are translated
// back to their source form and padding is stripped.
func (t *Template) Decode(identifier string) (map[string]string, bool) {
	m := t.decoder.FindStringSubmatch(strings.TrimSpace(identifier))
	if m == nil {
		return nil, false
	}
	out := make(map[string]string)
	group := 1
	for _, s := range t.segments {
		if !s.isPlaceholder() {
			continue
		}
		v := m[group]
		group++
		if _, done := out[s.name]; done || s.lossy() {
			continue
		}
		out[s.name] = s.reverse(v)
	}
	return out, true
}

func (t *Template) buildDecoder() *regexp.Regexp {
	var b strings.Builder
	b.WriteString(`(?i)^`)
	for _, s := range t.segments {
		if !s.isPlaceholder() {
			b.WriteString(regexp.QuoteMeta(s.literal))
			continue
		}
		b.WriteString("(" + s.pattern() + ")")
	}
	b.WriteString(`$`)
	return regexp.MustCompile(b.String())
}

func (s segment) pattern() string {
	for _, tr := range s.transforms {
		switch tr.kind {
		case "map":
			outs := append([]string(nil), tr.outputs...)
			sort.Slice(outs, func(i, j int) bool { return len(outs[i]) > len(outs[j]) })
			quoted := make([]string, len(outs))
			for i, o := range outs {
				quoted[i] = regexp.QuoteMeta(o)
			}
			return strings.Join(quoted, "|")
		case "pad", "digits":
			return `\d+`
		}
	}
	return `.+?`
}

func (s segment) reverse(v string) string {
	for i := len(s.transforms) - 1; i >= 0; i-- {
		tr := s.transforms[i]
		switch tr.kind {
		case "map":
			for from, to := range tr.mapping {
				if strings.EqualFold(to, v) {
					v = from
					break
				}
			}
		case "pad":
			v = strings.TrimLeft(v, "0")
			if v == "" {
				v = "0"
			}
		}
	}
	return v
}
