// Package oracle defines the extraction oracle contract and its
// implementations. Oracle answers are untrusted and best-effort; callers
// treat ErrUnavailable as a signal to fall back to heuristics.
package oracle

import (
	"context"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// ErrUnavailable is returned when the oracle timed out, is rate limited,
// has an open breaker, or produced an unusable answer.
var ErrUnavailable = model.ErrOracleUnavailable

// Classification is a family guess with confidence in [0,1].
type Classification struct {
	Family     string  `json:"family"`
	Confidence float64 `json:"confidence"`
}

// Extraction is a best-effort field map and list of item codes.
type Extraction struct {
	Brand  string           `json:"brand,omitempty"`
	Series string           `json:"series,omitempty"`
	Fields map[string]any   `json:"fields,omitempty"`
	Codes  []string         `json:"codes,omitempty"`
	Rows   []map[string]any `json:"rows,omitempty"`
}

// Canonical is a proposed canonical key for a raw attribute name.
type Canonical struct {
	Key        string  `json:"key"`
	Confidence float64 `json:"confidence"`
}

// Oracle is the external, untrusted document-to-structure service.
type Oracle interface {
	ClassifyFamily(ctx context.Context, text string, families []string) (Classification, error)
	ExtractFields(ctx context.Context, text string, fam *model.Family) (*Extraction, error)
	CanonicalizeKeys(ctx context.Context, fam *model.Family, keys, vocabulary []string) (map[string]Canonical, error)
	RankVariantKeys(ctx context.Context, fam *model.Family, text string, keys []string) ([]string, error)
	InferTemplate(ctx context.Context, text string, fam *model.Family, examples []map[string]any) (string, float64, error)
}

// Nop is an Oracle that is always unavailable. It is used when no oracle is
// configured so every stage runs on heuristics alone.
type Nop struct{}

var _ Oracle = Nop{}

func (Nop) ClassifyFamily(context.Context, string, []string) (Classification, error) {
	return Classification{}, ErrUnavailable
}

func (Nop) ExtractFields(context.Context, string, *model.Family) (*Extraction, error) {
	return nil, ErrUnavailable
}

func (Nop) CanonicalizeKeys(context.Context, *model.Family, []string, []string) (map[string]Canonical, error) {
	return nil, ErrUnavailable
}

func (Nop) RankVariantKeys(context.Context, *model.Family, string, []string) ([]string, error) {
	return nil, ErrUnavailable
}

func (Nop) InferTemplate(context.Context, string, *model.Family, []map[string]any) (string, float64, error) {
	return "", 0, ErrUnavailable
}
