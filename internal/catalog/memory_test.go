package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-ingest/internal/model"
)

func TestMemoryStore_UpsertMerges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()
	fam := relayFamily()
	require.NoError(t, s.EnsureFamily(ctx, fam))

	first := model.NewCandidate("Acme", "RX112")
	first.Attrs["coil_voltage"] = 12.0
	first.Overflow["note"] = "a"
	inserted, err := s.Upsert(ctx, fam, first, RecordMeta{RunID: "r1"})
	require.NoError(t, err)
	assert.True(t, inserted)

	second := model.NewCandidate("ACME", "rx112")
	second.Attrs["contact_form"] = "1A"
	second.Attrs["coil_voltage"] = nil
	second.Overflow["extra"] = "b"
	inserted, err = s.Upsert(ctx, fam, second, RecordMeta{RunID: "r2"})
	require.NoError(t, err)
	assert.False(t, inserted)

	rows := s.Rows("catalog_relay")
	require.Len(t, rows, 1)
	assert.Equal(t, "Acme", rows[0].Brand, "identity columns are never rewritten")
	assert.Equal(t, "RX112", rows[0].Identifier)
	assert.Equal(t, 12.0, rows[0].Attrs["coil_voltage"])
	assert.Equal(t, "1A", rows[0].Attrs["contact_form"])
	assert.Equal(t, map[string]any{"note": "a", "extra": "b"}, rows[0].Overflow)
	assert.Equal(t, "r2", rows[0].RunID)
}

func TestMemoryStore_UnknownColumnFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()
	fam := relayFamily()
	require.NoError(t, s.EnsureFamily(ctx, fam))

	rec := model.NewCandidate("Acme", "RX112")
	rec.Attrs["mystery"] = "x"
	_, err := s.Upsert(ctx, fam, rec, RecordMeta{})
	require.Error(t, err)

	require.NoError(t, s.AddColumn(ctx, fam.Table, "mystery", model.AttrText))
	_, err = s.Upsert(ctx, fam, rec, RecordMeta{})
	require.NoError(t, err)
}

func TestMemoryStore_AddColumnKeepsFirstType(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.EnsureFamily(ctx, relayFamily()))
	require.NoError(t, s.AddColumn(ctx, "catalog_relay", "coil_voltage", model.AttrText))

	cols, err := s.Columns(ctx, "catalog_relay")
	require.NoError(t, err)
	assert.Equal(t, model.AttrNumeric, cols["coil_voltage"])
	assert.Error(t, s.AddColumn(ctx, "catalog_relay", "identifier", model.AttrText))
}

func TestMemoryStore_RunLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	lock, ok, err := s.AcquireRunLock(ctx, "r1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.AcquireRunLock(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Release(ctx))
	_, ok, _ = s.AcquireRunLock(ctx, "r1")
	assert.True(t, ok)
}

func TestMemoryStore_Registries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.EnsureFamily(ctx, relayFamily()))

	require.NoError(t, s.SaveVariantKeys(ctx, "relay", []string{"coil_voltage", "contact_form"}))
	rec, err := s.GetFamily(ctx, "relay")
	require.NoError(t, err)
	assert.Equal(t, []string{"coil_voltage", "contact_form"}, rec.VariantKeys)

	require.NoError(t, s.SaveAlias(ctx, Alias{Family: "relay", Raw: "v", Canonical: "coil_voltage", Confidence: 0.9}))
	require.NoError(t, s.SaveAlias(ctx, Alias{Family: "relay", Raw: "v", Canonical: "other", Confidence: 0.5}))
	aliases, err := s.Aliases(ctx, "relay")
	require.NoError(t, err)
	require.Len(t, aliases, 1)
	assert.Equal(t, "coil_voltage", aliases[0].Canonical)

	require.NoError(t, s.SaveTemplate(ctx, "relay", "Acme", "", "RX{coil_voltage}", 0.9))
	tmpl, ok, err := s.LookupTemplate(ctx, "relay", "ACME", "RX")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "RX{coil_voltage}", tmpl)
}

func TestMemoryStore_Backfill(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()
	fam := relayFamily()
	require.NoError(t, s.EnsureFamily(ctx, fam))
	_, err := s.Upsert(ctx, fam, model.NewCandidate("Acme", "RX112"), RecordMeta{})
	require.NoError(t, err)

	rows, err := s.RowsMissing(ctx, fam.Table, "coil_voltage", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NoError(t, s.SetAttribute(ctx, fam.Table, rows[0].ID, "coil_voltage", 12.0))

	rows, err = s.RowsMissing(ctx, fam.Table, "coil_voltage", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
