package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/catalog"
	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/oracle"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type mockOracle struct {
	mock.Mock
}

func (m *mockOracle) CanonicalizeKeys(ctx context.Context, fam *model.Family, keys, vocabulary []string) (map[string]oracle.Canonical, error) {
	args := m.Called(ctx, fam, keys, vocabulary)
	out, _ := args.Get(0).(map[string]oracle.Canonical)
	return out, args.Error(1)
}

func (m *mockOracle) RankVariantKeys(ctx context.Context, fam *model.Family, text string, keys []string) ([]string, error) {
	args := m.Called(ctx, fam, text, keys)
	out, _ := args.Get(0).([]string)
	return out, args.Error(1)
}

func relay() *model.Family {
	return &model.Family{
		Slug:  "relay",
		Table: "catalog_relay",
		Attributes: map[string]model.AttrType{
			"coil_voltage": model.AttrNumeric,
			"coil_current": model.AttrNumeric,
			"contact_form": model.AttrText,
		},
	}
}

func newStore(t *testing.T, fam *model.Family) *catalog.MemoryStore {
	t.Helper()
	s := catalog.NewMemory()
	require.NoError(t, s.EnsureFamily(context.Background(), fam))
	return s
}

func TestNegotiate_IdentityAndNewColumns(t *testing.T) {
	t.Parallel()
	fam := relay()
	store := newStore(t, fam)
	n := New(store, nil, Config{})

	out, err := n.Negotiate(context.Background(), Request{
		Family: fam,
		Values: map[string][]any{
			"coil_voltage": {"12"},
			"mounting":     {"PCB"},
			"rated_load":   {"5", "10"},
			"sealed":       {"yes", "no"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "coil_voltage", out.Mapping["coil_voltage"])
	assert.Equal(t, SourceIdentity, out.Sources["mounting"])
	assert.Equal(t, []string{"mounting", "rated_load", "sealed"}, out.Added)

	cols, err := store.Columns(context.Background(), fam.Table)
	require.NoError(t, err)
	assert.Equal(t, model.AttrText, cols["mounting"])
	assert.Equal(t, model.AttrNumeric, cols["rated_load"])
	assert.Equal(t, model.AttrBoolean, cols["sealed"])
	assert.Equal(t, cols, out.Columns)
}

func TestNegotiate_RangeAddsSiblings(t *testing.T) {
	t.Parallel()
	fam := relay()
	store := newStore(t, fam)

	out, err := New(store, nil, Config{}).Negotiate(context.Background(), Request{
		Family: fam,
		Values: map[string][]any{"coil_current": {"10 to 20 mA"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"coil_current_max", "coil_current_min"}, out.Added)
	assert.Equal(t, model.AttrNumeric, out.Columns["coil_current_min"])
}

func TestNegotiate_BaseColumnGoesToOverflow(t *testing.T) {
	t.Parallel()
	fam := relay()
	out, err := New(newStore(t, fam), nil, Config{}).Negotiate(context.Background(), Request{
		Family: fam,
		Values: map[string][]any{"identifier": {"X"}, "created_at": {"today"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "", out.Mapping["identifier"])
	assert.Equal(t, "", out.Mapping["created_at"])
	assert.Empty(t, out.Added)
}

func TestScopeAliases(t *testing.T) {
	t.Parallel()
	aliases := []catalog.Alias{
		{Raw: "nominal_voltage", Canonical: "coil_voltage"},
		{Brand: "Acme", Raw: "nominal_voltage", Canonical: "rated_voltage"},
		{Brand: "Acme", Series: "RX", Raw: "nominal_voltage", Canonical: "coil_voltage_nominal"},
		{Brand: "Other", Raw: "v", Canonical: "ignored"},
	}

	assert.Equal(t, "coil_voltage_nominal", scopeAliases(aliases, "acme", "rx")["nominal_voltage"])
	assert.Equal(t, "rated_voltage", scopeAliases(aliases, "Acme", "")["nominal_voltage"])
	assert.Equal(t, "rated_voltage", scopeAliases(aliases, "Acme", "ZZ")["nominal_voltage"])
	assert.Equal(t, "coil_voltage", scopeAliases(aliases, "Globex", "RX")["nominal_voltage"])
	assert.NotContains(t, scopeAliases(aliases, "Acme", ""), "v")
}

func TestNegotiate_AliasBeatsOracle(t *testing.T) {
	t.Parallel()
	fam := relay()
	fam.VariantKeys = []string{"contact_form"}
	store := newStore(t, fam)
	require.NoError(t, store.SaveAlias(context.Background(), catalog.Alias{Family: "relay", Raw: "v_coil", Canonical: "coil_voltage", Confidence: 1}))
	o := new(mockOracle)

	out, err := New(store, o, Config{MaxVariantKeys: 1}).Negotiate(context.Background(), Request{
		Family: fam,
		Values: map[string][]any{"v_coil": {"24"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "coil_voltage", out.Mapping["v_coil"])
	assert.Equal(t, SourceAlias, out.Sources["v_coil"])
	o.AssertNotCalled(t, "CanonicalizeKeys", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestNegotiate_OracleThreshold(t *testing.T) {
	t.Parallel()
	fam := relay()
	fam.VariantKeys = []string{"contact_form"}
	store := newStore(t, fam)
	o := new(mockOracle)
	o.On("CanonicalizeKeys", mock.Anything, fam, []string{"nominal_coil_v", "weird_thing"}, mock.Anything).
		Return(map[string]oracle.Canonical{
			"nominal_coil_v": {Key: "coil_voltage", Confidence: 0.95},
			"weird_thing":    {Key: "coil_voltage", Confidence: 0.4},
		}, nil)

	out, err := New(store, o, Config{CanonThreshold: 0.8, MaxVariantKeys: 1}).Negotiate(context.Background(), Request{
		Family: fam,
		Brand:  "Acme",
		Values: map[string][]any{"nominal_coil_v": {"24"}, "weird_thing": {"x"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "coil_voltage", out.Mapping["nominal_coil_v"])
	assert.Equal(t, SourceOracle, out.Sources["nominal_coil_v"])
	assert.Equal(t, "weird_thing", out.Mapping["weird_thing"])
	assert.Equal(t, []string{"weird_thing"}, out.Added)

	aliases, err := store.Aliases(context.Background(), "relay")
	require.NoError(t, err)
	require.Len(t, aliases, 1)
	assert.Equal(t, catalog.Alias{
		Family: "relay", Brand: "Acme", Raw: "nominal_coil_v", Canonical: "coil_voltage", Confidence: 0.95, Source: SourceOracle,
	}, aliases[0])
	o.AssertExpectations(t)
}

func TestNegotiate_OracleUnavailableFallsBack(t *testing.T) {
	t.Parallel()
	fam := relay()
	o := new(mockOracle)
	o.On("CanonicalizeKeys", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, oracle.ErrUnavailable)
	o.On("RankVariantKeys", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, oracle.ErrUnavailable)

	out, err := New(newStore(t, fam), o, Config{}).Negotiate(context.Background(), Request{
		Family: fam,
		Values: map[string][]any{"Pickup Voltage": {"9"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "pickup_voltage", out.Mapping["Pickup Voltage"])
	assert.Empty(t, out.NewVariantKeys)
}

func TestNegotiate_StoreFailureIsSchemaNotReady(t *testing.T) {
	t.Parallel()
	fam := relay()
	store := newStore(t, fam)
	store.AddColumnErr = errors.New("lock timeout")

	_, err := New(store, nil, Config{}).Negotiate(context.Background(), Request{
		Family: fam,
		Values: map[string][]any{"mounting": {"PCB"}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrSchemaNotReady))

	_, err = New(catalog.NewMemory(), nil, Config{}).Negotiate(context.Background(), Request{Family: fam})
	assert.True(t, errors.Is(err, model.ErrSchemaNotReady), "missing relation")
}

func TestNegotiate_Monotonic(t *testing.T) {
	t.Parallel()
	fam := relay()
	store := newStore(t, fam)
	n := New(store, nil, Config{})
	ctx := context.Background()

	first, err := n.Negotiate(ctx, Request{Family: fam, Values: map[string][]any{"mounting": {"PCB"}, "weight": {"3 g"}}})
	require.NoError(t, err)
	second, err := n.Negotiate(ctx, Request{Family: fam, Values: map[string][]any{"weight": {"heavy"}, "color": {"red"}}})
	require.NoError(t, err)

	for col, typ := range first.Columns {
		assert.Equal(t, typ, second.Columns[col], "column %s keeps its type", col)
	}
	assert.Equal(t, model.AttrNumeric, second.Columns["weight"])
	assert.Equal(t, []string{"color"}, second.Added)
}

func TestNegotiate_LearnsVariantKeys(t *testing.T) {
	t.Parallel()
	fam := relay()
	fam.VariantKeys = []string{"contact_form"}
	store := newStore(t, fam)
	o := new(mockOracle)
	o.On("RankVariantKeys", mock.Anything, fam, "ordering text", []string{"coil_voltage", "mounting"}).
		Return([]string{"coil_voltage", "not_offered", "contact_form"}, nil)

	out, err := New(store, o, Config{MaxVariantKeys: 5}).Negotiate(context.Background(), Request{
		Family: fam,
		Text:   "ordering text",
		Values: map[string][]any{"coil_voltage": {"12"}, "contact_form": {"1A"}, "mounting": {"PCB"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"contact_form", "coil_voltage"}, out.VariantKeys)
	assert.Equal(t, []string{"coil_voltage"}, out.NewVariantKeys)

	rec, err := store.GetFamily(context.Background(), "relay")
	require.NoError(t, err)
	assert.Equal(t, []string{"coil_voltage", "contact_form"}, rec.VariantKeys)
}

func TestInferType(t *testing.T) {
	t.Parallel()
	fam := relay()
	assert.Equal(t, model.AttrNumeric, inferType(fam, "coil_voltage", []any{"abc"}))
	assert.Equal(t, model.AttrNumeric, inferType(fam, "coil_current_min", nil))
	assert.Equal(t, model.AttrNumeric, inferType(fam, "x", []any{"1", "2.5 mm", 3.0}))
	assert.Equal(t, model.AttrBoolean, inferType(fam, "x", []any{"yes", "no"}))
	assert.Equal(t, model.AttrText, inferType(fam, "x", []any{"yes", "maybe"}))
	assert.Equal(t, model.AttrText, inferType(fam, "x", []any{"", nil}))
}
