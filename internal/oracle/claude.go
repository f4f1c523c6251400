package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/resilience"
	"github.com/sells-group/catalog-ingest/internal/template"
	"github.com/sells-group/catalog-ingest/internal/textnorm"
	"github.com/sells-group/catalog-ingest/pkg/anthropic"
)

const maxRankedKeys = 5

// ClaudeConfig configures the Claude-backed oracle.
type ClaudeConfig struct {
	Model     string
	MaxTokens int64
	// SampleBytes caps how much document text is sent per call.
	SampleBytes int
	Guard       *resilience.Guard
	// OnCall observes every call outcome, e.g. for metrics.
	OnCall func(op string, err error)
}

// Claude implements Oracle on the Anthropic messages API.
type Claude struct {
	client anthropic.Client
	cfg    ClaudeConfig
}

var _ Oracle = (*Claude)(nil)

// NewClaude creates a Claude oracle. A nil guard gets a default one with
// a 45 second timeout and no rate limit.
func NewClaude(client anthropic.Client, cfg ClaudeConfig) *Claude {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.SampleBytes <= 0 {
		cfg.SampleBytes = 8000
	}
	if cfg.Guard == nil {
		cfg.Guard = resilience.NewGuard(resilience.GuardConfig{Name: "oracle"})
	}
	return &Claude{client: client, cfg: cfg}
}

const systemPrompt = `You extract structured data from electronic and industrial component datasheets.
Respond with a single JSON object and nothing else. Never invent part numbers that do not appear in the document.
Confidence values are numbers between 0 and 1.`

var temperature = 0.0

// ask sends one prompt and decodes the JSON answer into out. Every failure
// is reported as ErrUnavailable.
func (c *Claude) ask(ctx context.Context, op, prompt string, out any) (err error) {
	defer func() {
		if c.cfg.OnCall != nil {
			c.cfg.OnCall(op, err)
		}
	}()

	req := anthropic.MessageRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		System:      anthropic.CachedSystem(systemPrompt),
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temperature,
	}
	resp, err := resilience.Call(ctx, c.cfg.Guard, op, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		resp, err := c.client.CreateMessage(ctx, req)
		if err != nil {
			if code := anthropic.StatusCode(err); resilience.IsTransientStatus(code) {
				return nil, resilience.NewTransientError(err, code)
			}
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return eris.Wrapf(ErrUnavailable, "oracle: %s: %v", op, err)
	}
	resp.Usage.Log(resp.Model, op)

	cleaned := cleanJSON(resp.Text())
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		zap.L().Debug("oracle: malformed answer", zap.String("op", op), zap.Error(err))
		return eris.Wrapf(ErrUnavailable, "oracle: %s: malformed answer", op)
	}
	return nil
}

// ClassifyFamily asks which of the known families the document belongs to.
// Answers naming an unknown family come back with zero confidence.
func (c *Claude) ClassifyFamily(ctx context.Context, text string, families []string) (Classification, error) {
	prompt := fmt.Sprintf(`Classify the datasheet into exactly one of these product families: %s.
Answer as {"family": "<one of the families>", "confidence": <0..1>}.

Document:
%s`, strings.Join(families, ", "), c.sample(text))

	var ans Classification
	if err := c.ask(ctx, "classify_family", prompt, &ans); err != nil {
		return Classification{}, err
	}
	ans.Family = textnorm.Slug(ans.Family)
	ans.Confidence = clamp(ans.Confidence)
	known := false
	for _, f := range families {
		if textnorm.Slug(f) == ans.Family {
			known = true
			break
		}
	}
	if !known {
		ans.Confidence = 0
	}
	return ans, nil
}

// ExtractFields asks for brand, series, attribute fields and item codes.
func (c *Claude) ExtractFields(ctx context.Context, text string, fam *model.Family) (*Extraction, error) {
	prompt := fmt.Sprintf(`Extract the product data from this %s datasheet.
Known attributes: %s.
Answer as {"brand": "", "series": "", "fields": {"<attribute>": "<value as printed>"}, "codes": ["<part numbers exactly as printed>"], "rows": [{"part_number": "", "<attribute>": ""}]}.
Use "rows" only when the document lists several parts with differing attributes. List every option for an orderable variant as a comma separated string.

Document:
%s`, fam.Slug, strings.Join(fam.Vocabulary(), ", "), c.sample(text))

	var ans Extraction
	if err := c.ask(ctx, "extract_fields", prompt, &ans); err != nil {
		return nil, err
	}
	ans.Codes = dedupe(ans.Codes)
	return &ans, nil
}

// CanonicalizeKeys proposes a vocabulary key for each raw attribute name.
// Keys the oracle did not ask about are discarded.
func (c *Claude) CanonicalizeKeys(ctx context.Context, fam *model.Family, keys, vocabulary []string) (map[string]Canonical, error) {
	if len(keys) == 0 {
		return map[string]Canonical{}, nil
	}
	prompt := fmt.Sprintf(`For a %s family, map each raw attribute name to the best matching canonical attribute.
Canonical attributes: %s.
Raw attributes: %s.
Answer as {"mappings": {"<raw>": {"key": "<canonical or a new snake_case name>", "confidence": <0..1>}}}.`,
		fam.Slug, strings.Join(vocabulary, ", "), strings.Join(keys, ", "))

	var ans struct {
		Mappings map[string]Canonical `json:"mappings"`
	}
	if err := c.ask(ctx, "canonicalize_keys", prompt, &ans); err != nil {
		return nil, err
	}
	asked := make(map[string]bool, len(keys))
	for _, k := range keys {
		asked[k] = true
	}
	out := make(map[string]Canonical, len(ans.Mappings))
	for raw, m := range ans.Mappings {
		key := textnorm.SnakeCase(m.Key)
		if !asked[raw] || key == "" {
			continue
		}
		out[raw] = Canonical{Key: key, Confidence: clamp(m.Confidence)}
	}
	return out, nil
}

// RankVariantKeys asks which attributes distinguish orderable variants.
func (c *Claude) RankVariantKeys(ctx context.Context, fam *model.Family, text string, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	prompt := fmt.Sprintf(`Which of these %s attributes distinguish orderable variants in this datasheet? Rank at most %d, most significant first.
Attributes: %s.
Answer as {"keys": ["<attribute>"]}.

Document:
%s`, fam.Slug, maxRankedKeys, strings.Join(sorted, ", "), c.sample(text))

	var ans struct {
		Keys []string `json:"keys"`
	}
	if err := c.ask(ctx, "rank_variant_keys", prompt, &ans); err != nil {
		return nil, err
	}
	allowed := make(map[string]bool, len(keys))
	for _, k := range keys {
		allowed[k] = true
	}
	var out []string
	for _, k := range dedupe(ans.Keys) {
		if allowed[k] && len(out) < maxRankedKeys {
			out = append(out, k)
		}
	}
	return out, nil
}

// InferTemplate asks for an identifier template explaining how part numbers
// are composed from attributes. Templates that do not parse are rejected.
func (c *Claude) InferTemplate(ctx context.Context, text string, fam *model.Family, examples []map[string]any) (string, float64, error) {
	ex, err := json.Marshal(examples)
	if err != nil {
		return "", 0, eris.Wrap(err, "oracle: marshal examples")
	}
	prompt := fmt.Sprintf(`Infer how part numbers in this %s datasheet are built from attribute values.
Write a template of literal text and {attribute|transform} placeholders. Transforms: upper, lower, first, digits, pad=N, map:A>B,C>D, slice=a:b.
Example rows: %s
Answer as {"template": "<template>", "confidence": <0..1>}.

Document:
%s`, fam.Slug, ex, c.sample(text))

	var ans struct {
		Template   string  `json:"template"`
		Confidence float64 `json:"confidence"`
	}
	if err := c.ask(ctx, "infer_template", prompt, &ans); err != nil {
		return "", 0, err
	}
	if _, err := template.Parse(ans.Template); err != nil {
		return "", 0, eris.Wrapf(ErrUnavailable, "oracle: infer_template: %v", err)
	}
	return ans.Template, clamp(ans.Confidence), nil
}

func (c *Claude) sample(text string) string {
	if len(text) <= c.cfg.SampleBytes {
		return text
	}
	cut := c.cfg.SampleBytes
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// cleanJSON strips markdown fences and extracts the JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

func dedupe(in []string) []string {
	var out []string
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// IsUnavailable reports whether err means the oracle could not answer.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
