package harvest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/oracle"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) ExtractFields(ctx context.Context, text string, fam *model.Family) (*oracle.Extraction, error) {
	args := m.Called(ctx, text, fam)
	ex, _ := args.Get(0).(*oracle.Extraction)
	return ex, args.Error(1)
}

func relayFamily() *model.Family {
	return &model.Family{Slug: "relay", Table: "catalog_relay"}
}

func relayTable() model.Table {
	return model.Table{
		Header: []string{"Part No.", "Coil Voltage (V)", "Contact Form"},
		Rows: [][]string{
			{"G5V-1-12", "12", "1C"},
			{"G5V-1-24", "24", "1C"},
			{"12V", "x", "y"},
		},
	}
}

func TestHarvest_TableCatalog(t *testing.T) {
	t.Parallel()
	h := New(nil)
	res := h.Harvest(context.Background(), Input{
		Family: relayFamily(),
		Bundle: &model.ExtractionBundle{
			Text:   "G5V series relays: G5V-1-12 and G5V-1-24 are available.",
			Tables: []model.Table{relayTable()},
		},
		Hints: model.Hints{Brand: "Omron"},
	})

	assert.Equal(t, model.DocTypeCatalog, res.DocType)
	assert.Equal(t, "Omron", res.Brand)
	require.Len(t, res.Records, 2)

	first := res.Records[0]
	assert.Equal(t, "G5V-1-12", first.Identifier)
	assert.Equal(t, "Omron", first.Brand)
	assert.True(t, first.Literal)
	assert.True(t, first.Verified)
	assert.Equal(t, "12", first.Attrs["coil_voltage"])
	assert.Equal(t, "1C", first.Attrs["contact_form"])
	assert.Equal(t, model.DocTypeCatalog, first.DocType)
	assert.Equal(t, []string{SourceTable, SourceText}, res.Candidates[0].Sources)
}

func TestHarvest_UnconstrainedTextOnlyCorroborates(t *testing.T) {
	t.Parallel()
	h := New(nil)
	res := h.Harvest(context.Background(), Input{
		Family: relayFamily(),
		Bundle: &model.ExtractionBundle{Text: "Drawing DWG4411 page 3, see also AB1234 and KX99."},
	})

	assert.Empty(t, res.Candidates)
	assert.Equal(t, model.DocTypeSingle, res.DocType)
	require.Len(t, res.Records, 1)
	assert.Empty(t, res.Records[0].Identifier)
}

func TestHarvest_HintCodeNotInText(t *testing.T) {
	t.Parallel()
	h := New(nil)
	res := h.Harvest(context.Background(), Input{
		Family: relayFamily(),
		Bundle: &model.ExtractionBundle{Text: "A general purpose relay."},
		Hints:  model.Hints{Code: "ZZ900", DisplayName: "Relay ZZ"},
	})

	require.Len(t, res.Records, 1)
	rec := res.Records[0]
	assert.Equal(t, "ZZ900", rec.Identifier)
	assert.False(t, rec.Literal)
	assert.False(t, rec.Verified)
	assert.Equal(t, "Relay ZZ", rec.Overflow["display_name"])
	assert.Equal(t, []string{SourceHint}, res.Candidates[0].Sources)
}

func TestHarvest_CodeOnlyInTableIsLiteral(t *testing.T) {
	t.Parallel()
	res := New(nil).Harvest(context.Background(), Input{
		Family: relayFamily(),
		Bundle: &model.ExtractionBundle{
			Text: "Acme X1 series toggle switch.",
			Tables: []model.Table{{
				Header: []string{"Part No.", "Voltage"},
				Rows:   [][]string{{"X1-24", "24"}},
			}},
		},
	})

	require.Len(t, res.Candidates, 1)
	c := res.Candidates[0]
	assert.Equal(t, "X1-24", c.Code)
	assert.Equal(t, []string{SourceTable}, c.Sources)
	assert.True(t, c.Literal)
	assert.True(t, c.Verified)
	require.Len(t, res.Records, 1)
	assert.True(t, res.Records[0].Literal)
	assert.Equal(t, "24", res.Records[0].Attrs["voltage"])
}

func TestHarvest_UnverifiedHintFallsBackToLiteral(t *testing.T) {
	t.Parallel()
	res := New(nil).Harvest(context.Background(), Input{
		Family: relayFamily(),
		Bundle: &model.ExtractionBundle{
			Text: "Acme X1 series toggle switch. Order X1-24.",
			Tables: []model.Table{{
				Header: []string{"Part No.", "Voltage", "Current"},
				Rows:   [][]string{{"X1-24", "24", "10 mA"}},
			}},
		},
		Hints: model.Hints{Code: "X1-24B"},
	})

	assert.Equal(t, model.DocTypeSingle, res.DocType)
	require.Len(t, res.Records, 1)
	rec := res.Records[0]
	assert.Equal(t, "X1-24B", rec.Identifier)
	assert.False(t, rec.Verified)
	assert.Equal(t, "X1-24", rec.LiteralFallback)
	assert.Equal(t, "24", rec.Attrs["voltage"])
	assert.Equal(t, "10 mA", rec.Attrs["current"])
}

func TestHarvest_OracleExtraction(t *testing.T) {
	t.Parallel()
	fam := relayFamily()
	text := "Acme AB123 miniature relay"
	ex := new(mockExtractor)
	ex.On("ExtractFields", mock.Anything, text, fam).Return(&oracle.Extraction{
		Brand:  "Acme",
		Codes:  []string{"AB123", "QQ777"},
		Fields: map[string]any{"Coil Voltage": "24"},
	}, nil)

	res := New(ex).Harvest(context.Background(), Input{
		Family: fam,
		Bundle: &model.ExtractionBundle{Text: text},
	})

	assert.Equal(t, "Acme", res.Brand)
	assert.Equal(t, "24", res.DocAttrs["coil_voltage"])
	require.Len(t, res.Candidates, 2)
	assert.True(t, res.Candidates[0].Verified)
	assert.Equal(t, []string{SourceOracle, SourceText}, res.Candidates[0].Sources)
	assert.False(t, res.Candidates[1].Verified, "oracle-only code absent from text")
	assert.Equal(t, model.DocTypeSingle, res.DocType, "one verified code is a single-item sheet")
	require.Len(t, res.Records, 1)
	assert.Equal(t, "AB123", res.Records[0].Identifier)
	assert.Empty(t, res.Records[0].LiteralFallback)
	ex.AssertExpectations(t)
}

func TestHarvest_OracleFailureFallsBackToTables(t *testing.T) {
	t.Parallel()
	ex := new(mockExtractor)
	ex.On("ExtractFields", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("oracle: unavailable"))

	res := New(ex).Harvest(context.Background(), Input{
		Family: relayFamily(),
		Bundle: &model.ExtractionBundle{
			Text:   "G5V-1-12 G5V-1-24",
			Tables: []model.Table{relayTable()},
		},
	})
	assert.Len(t, res.Records, 2)
}

func TestHarvest_BundleOracleFieldsSkipCall(t *testing.T) {
	t.Parallel()
	ex := new(mockExtractor)
	res := New(ex).Harvest(context.Background(), Input{
		Family: relayFamily(),
		Bundle: &model.ExtractionBundle{
			Text:         "KX-100 relay",
			OracleCodes:  []string{"KX-100"},
			OracleFields: map[string]any{"Rated Current": "5A"},
		},
	})
	require.Len(t, res.Records, 1)
	assert.Equal(t, "KX-100", res.Records[0].Identifier)
	assert.Equal(t, "5A", res.Records[0].Attrs["rated_current"])
	ex.AssertNotCalled(t, "ExtractFields", mock.Anything, mock.Anything, mock.Anything)
}

func TestHarvest_SpecTable(t *testing.T) {
	t.Parallel()
	res := New(nil).Harvest(context.Background(), Input{
		Family: relayFamily(),
		Bundle: &model.ExtractionBundle{
			Tables: []model.Table{{
				Header: []string{"Parameter", "Value"},
				Rows:   [][]string{{"Coil Voltage", "24 VDC"}, {"Contact Rating", "10 A"}},
			}},
		},
	})
	assert.Equal(t, "24 VDC", res.DocAttrs["coil_voltage"])
	assert.Equal(t, "10 A", res.DocAttrs["contact_rating"])
}

const rxOrdering = `RX Series Signal Relay
Ordering information
RX112  RX124  RX312  RX324`

func TestHarvest_OrderingExpansion(t *testing.T) {
	t.Parallel()
	fam := relayFamily()
	fam.VariantKeys = []string{"contact_form", "coil_voltage"}
	fam.SeriesPrefixes = []string{"RX"}

	res := New(nil).Harvest(context.Background(), Input{
		Family: fam,
		Bundle: &model.ExtractionBundle{
			Text: rxOrdering,
			OracleFields: map[string]any{
				"contact_form": "1A, 1C",
				"coil_voltage": "12, 24",
				"mounting":     "PCB",
			},
		},
		Hints: model.Hints{Brand: "Acme"},
	})

	assert.Equal(t, model.DocTypeOrdering, res.DocType)
	assert.Equal(t, "RX", res.Series)
	require.Len(t, res.Records, 4)
	var combos [][2]any
	for _, r := range res.Records {
		assert.Empty(t, r.Identifier)
		assert.Equal(t, "PCB", r.Attrs["mounting"])
		assert.Equal(t, "RX", r.Series)
		combos = append(combos, [2]any{r.Attrs["contact_form"], r.Attrs["coil_voltage"]})
	}
	assert.Equal(t, [][2]any{{"1A", "12"}, {"1A", "24"}, {"1C", "12"}, {"1C", "24"}}, combos)
	require.Len(t, res.Extras, 4)
	assert.Equal(t, "RX112", res.Extras[0].Identifier)
}

func TestHarvest_OrderingFallbackMatchesVariantValues(t *testing.T) {
	t.Parallel()
	fam := relayFamily()
	fam.VariantKeys = []string{"contact_form"}
	fam.SeriesPrefixes = []string{"RX"}

	res := New(nil).Harvest(context.Background(), Input{
		Family: fam,
		Bundle: &model.ExtractionBundle{
			Text: "RX Series\nOrdering information\nRX-1A-12-P  RX-1C-12-P",
			Tables: []model.Table{{
				Header: []string{"Part No.", "Contact Form", "Coil Voltage"},
				Rows:   [][]string{{"RX-1A-12-P", "1A", "12"}, {"RX-1C-12-P", "1C", "12"}},
			}},
			OracleFields: map[string]any{"contact_form": "1A, 1C", "coil_voltage": "12"},
		},
		Hints: model.Hints{Brand: "Acme"},
	})

	assert.Equal(t, model.DocTypeOrdering, res.DocType)
	require.Len(t, res.Records, 2)
	fallbacks := map[any]string{}
	for _, r := range res.Records {
		fallbacks[r.Attrs["contact_form"]] = r.LiteralFallback
	}
	assert.Equal(t, map[any]string{"1A": "RX-1A-12-P", "1C": "RX-1C-12-P"}, fallbacks)
	assert.Len(t, res.Extras, 2)
}

func TestHarvest_OrderingTextCodesDoNotMatchVariants(t *testing.T) {
	t.Parallel()
	fam := relayFamily()
	fam.SeriesPrefixes = []string{"RX"}
	res := New(nil).Harvest(context.Background(), Input{
		Family: fam,
		Bundle: &model.ExtractionBundle{
			Text:         rxOrdering,
			OracleFields: map[string]any{"contact_form": "1A, 1C"},
		},
	})
	require.Equal(t, model.DocTypeOrdering, res.DocType)
	for _, r := range res.Records {
		assert.Empty(t, r.LiteralFallback)
	}
}

func TestHarvest_ListWithoutMarkerIsNotOrdering(t *testing.T) {
	t.Parallel()
	res := New(nil).Harvest(context.Background(), Input{
		Family: relayFamily(),
		Bundle: &model.ExtractionBundle{
			Text:         "Relay AB123",
			OracleCodes:  []string{"AB123"},
			OracleFields: map[string]any{"coil_voltage": "12, 24"},
		},
	})
	assert.Equal(t, model.DocTypeSingle, res.DocType)
}

func TestHarvest_Deterministic(t *testing.T) {
	t.Parallel()
	in := Input{
		Family: relayFamily(),
		Bundle: &model.ExtractionBundle{
			Text:        "G5V-1-12 G5V-1-24 AB123",
			Tables:      []model.Table{relayTable()},
			OracleCodes: []string{"AB123"},
		},
	}
	h := New(nil)
	first := h.Harvest(context.Background(), in)
	for i := 0; i < 5; i++ {
		again := h.Harvest(context.Background(), in)
		require.Len(t, again.Candidates, len(first.Candidates))
		for j := range first.Candidates {
			assert.Equal(t, first.Candidates[j].Code, again.Candidates[j].Code)
		}
	}
	assert.Equal(t, "AB123", first.Candidates[0].Code)
}

func TestExpand_Cap(t *testing.T) {
	t.Parallel()
	lists := map[string][]string{"a": {"1", "2", "3"}, "b": {"x", "y"}}
	assert.Len(t, expand([]string{"a", "b"}, lists, 4), 4)
	assert.Len(t, expand([]string{"a", "b"}, lists, 100), 6)
}
