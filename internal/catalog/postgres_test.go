package catalog

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// newMockPostgresStore creates a PostgresStore backed by pgxmock.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return NewPostgresFromPool(mock), mock
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func relayFamily() *model.Family {
	return &model.Family{
		Slug:        "relay",
		Table:       "catalog_relay",
		Attributes:  map[string]model.AttrType{"coil_voltage": model.AttrNumeric, "contact_form": model.AttrText},
		VariantKeys: []string{"contact_form"},
	}
}

func TestPostgresStore_EnsureFamily(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "catalog_relay"`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE UNIQUE INDEX IF NOT EXISTS "catalog_relay_natural_key" ON "catalog_relay" ((lower(brand)), (lower(identifier)))`)).
		WillReturnError(&pgconn.PgError{Code: "42P07"})
	mock.ExpectExec(`ALTER TABLE "catalog_relay" ADD COLUMN IF NOT EXISTS "coil_voltage" DOUBLE PRECISION`).
		WillReturnResult(pgxmock.NewResult("ALTER TABLE", 0))
	mock.ExpectExec(`ALTER TABLE "catalog_relay" ADD COLUMN IF NOT EXISTS "contact_form" TEXT`).
		WillReturnError(&pgconn.PgError{Code: "42701"})
	mock.ExpectExec(`INSERT INTO catalog_families`).
		WithArgs("relay", "catalog_relay", []string{"contact_form"}, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.EnsureFamily(context.Background(), relayFamily()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnsureFamilyFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS`).WillReturnError(errors.New("permission denied"))

	err := s.EnsureFamily(context.Background(), relayFamily())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ensure family relay")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Columns(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM information_schema.columns`).
		WithArgs("public", "catalog_relay").
		WillReturnRows(pgxmock.NewRows([]string{"column_name", "data_type"}).
			AddRow("id", "uuid").
			AddRow("brand", "text").
			AddRow("coil_voltage", "double precision").
			AddRow("rohs", "boolean").
			AddRow("contact_form", "text"))

	cols, err := s.Columns(context.Background(), "catalog_relay")
	require.NoError(t, err)
	assert.Equal(t, map[string]model.AttrType{
		"coil_voltage": model.AttrNumeric,
		"rohs":         model.AttrBoolean,
		"contact_form": model.AttrText,
	}, cols)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddColumnRejectsBaseColumn(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	err := s.AddColumn(context.Background(), "catalog_relay", "brand", model.AttrText)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	rec := model.NewCandidate("Acme", "RX112")
	rec.Series = "RX"
	rec.Verified = true
	rec.Attrs["coil_voltage"] = 12.0
	rec.Attrs["contact_form"] = "1A"
	rec.Attrs["empty"] = ""

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "catalog_relay" AS t ("id", "brand", "identifier", "series", "family", "doc_type", "verified", "source_ref", "run_id", "overflow", "coil_voltage", "contact_form")`)).
		WithArgs(anyArgs(12)...).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectCommit()

	inserted, err := s.Upsert(context.Background(), relayFamily(), rec, RecordMeta{SourceRef: "s3://docs/rx.pdf", RunID: "run-1"})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertConflictClause(t *testing.T) {
	rec := model.NewCandidate("Acme", "RX112")
	rec.Attrs["coil_voltage"] = 12.0
	spec, vals, err := recordSpec(relayFamily(), rec, RecordMeta{})
	require.NoError(t, err)
	assert.Len(t, vals, len(spec.Columns))
	assert.Equal(t, []string{"lower(brand)", "lower(identifier)"}, spec.ConflictExprs)
	assert.Contains(t, spec.Immutable, "brand")
	assert.Contains(t, spec.Immutable, "identifier")
	assert.NotContains(t, spec.Columns, "created_at")
	assert.Equal(t, []byte("{}"), vals[9])
}

func TestPostgresStore_UpsertFailureRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	rec := model.NewCandidate("Acme", "RX112")

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "catalog_relay"`).WithArgs(anyArgs(10)...).WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	_, err := s.Upsert(context.Background(), relayFamily(), rec, RecordMeta{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert Acme/RX112")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RunLock(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`pg_try_advisory_xact_lock`).WithArgs("ingest-run:r1").
		WillReturnRows(pgxmock.NewRows([]string{"pg_try_advisory_xact_lock"}).AddRow(true))
	mock.ExpectRollback()

	lock, ok, err := s.AcquireRunLock(context.Background(), "r1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, lock.Release(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RunLockContended(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`pg_try_advisory_xact_lock`).WithArgs("ingest-run:r1").
		WillReturnRows(pgxmock.NewRows([]string{"pg_try_advisory_xact_lock"}).AddRow(false))
	mock.ExpectRollback()

	lock, ok, err := s.AcquireRunLock(context.Background(), "r1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, lock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RefreshViewsFallsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT name FROM catalog_views`).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("all_parts").AddRow("relay_summary"))
	mock.ExpectExec(`REFRESH MATERIALIZED VIEW CONCURRENTLY "all_parts"`).
		WillReturnError(&pgconn.PgError{Code: "55000"})
	mock.ExpectExec(`REFRESH MATERIALIZED VIEW "all_parts"`).
		WillReturnResult(pgxmock.NewResult("REFRESH", 0))
	mock.ExpectExec(`REFRESH MATERIALIZED VIEW CONCURRENTLY "relay_summary"`).
		WillReturnResult(pgxmock.NewResult("REFRESH", 0))

	require.NoError(t, s.RefreshViews(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RefreshViewsReportsFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT name FROM catalog_views`).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("broken"))
	mock.ExpectExec(`REFRESH MATERIALIZED VIEW CONCURRENTLY "broken"`).
		WillReturnError(errors.New("relation does not exist"))

	err := s.RefreshViews(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refresh view broken")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetFamily(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectQuery(`FROM catalog_families WHERE slug = \$1`).WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`FROM catalog_families WHERE slug = \$1`).WithArgs("relay").
		WillReturnRows(pgxmock.NewRows([]string{"slug", "table_name", "variant_keys", "template", "created_at", "updated_at"}).
			AddRow("relay", "catalog_relay", []string{"coil_voltage"}, "RX{coil_voltage}", now, now))

	rec, err := s.GetFamily(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = s.GetFamily(context.Background(), "relay")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "catalog_relay", rec.Table)
	assert.Equal(t, []string{"coil_voltage"}, rec.VariantKeys)
	assert.Equal(t, "RX{coil_voltage}", rec.Template)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveVariantKeys(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE catalog_families SET variant_keys`).
		WithArgs("relay", []string{"coil_voltage"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.SaveVariantKeys(context.Background(), "relay", []string{"coil_voltage"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Aliases(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM catalog_attribute_aliases WHERE family = \$1`).WithArgs("relay").
		WillReturnRows(pgxmock.NewRows([]string{"family", "brand", "series", "raw_key", "canonical", "confidence", "source"}).
			AddRow("relay", "", "", "nominal_voltage", "coil_voltage", 1.0, "manual").
			AddRow("relay", "Acme", "RX", "v_coil", "coil_voltage", 0.9, "oracle"))
	mock.ExpectExec(`INSERT INTO catalog_attribute_aliases`).
		WithArgs("relay", "Acme", "", "coil_v", "coil_voltage", 0.85, "oracle").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	aliases, err := s.Aliases(context.Background(), "relay")
	require.NoError(t, err)
	require.Len(t, aliases, 2)
	assert.Equal(t, "RX", aliases[1].Series)

	err = s.SaveAlias(context.Background(), Alias{
		Family: "relay", Brand: "Acme", Raw: "coil_v", Canonical: "coil_voltage", Confidence: 0.85, Source: "oracle",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Templates(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM catalog_template_cache`).WithArgs("relay", "Acme", "RX").WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO catalog_template_cache`).
		WithArgs("relay", "Acme", "RX", "RX{coil_voltage}", 0.8).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`FROM catalog_template_cache`).WithArgs("relay", "Acme", "RX").
		WillReturnRows(pgxmock.NewRows([]string{"template"}).AddRow("RX{coil_voltage}"))

	_, ok, err := s.LookupTemplate(context.Background(), "relay", "Acme", "RX")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveTemplate(context.Background(), "relay", "Acme", "RX", "RX{coil_voltage}", 0.8))

	tmpl, ok, err := s.LookupTemplate(context.Background(), "relay", "Acme", "RX")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "RX{coil_voltage}", tmpl)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BrandAliases(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT alias, canonical FROM catalog_brand_aliases`).
		WillReturnRows(pgxmock.NewRows([]string{"alias", "canonical"}).AddRow("TE", "TE Connectivity"))
	mock.ExpectExec(`INSERT INTO catalog_brand_aliases`).WithArgs("Tyco", "TE Connectivity").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	aliases, err := s.BrandAliases(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"TE": "TE Connectivity"}, aliases)
	require.NoError(t, s.SaveBrandAlias(context.Background(), "Tyco", "TE Connectivity"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Backfill(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id::text, brand, identifier, COALESCE\(series, ''\) FROM "catalog_relay" WHERE "coil_voltage" IS NULL`).
		WithArgs(100).
		WillReturnRows(pgxmock.NewRows([]string{"id", "brand", "identifier", "series"}).AddRow("id-1", "Acme", "RX112", "RX"))
	mock.ExpectExec(`UPDATE "catalog_relay" SET "coil_voltage" = \$1`).
		WithArgs("12", "id-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	rows, err := s.RowsMissing(context.Background(), "catalog_relay", "coil_voltage", 100)
	require.NoError(t, err)
	assert.Equal(t, []StoredRow{{ID: "id-1", Brand: "Acme", Identifier: "RX112", Series: "RX"}}, rows)
	require.NoError(t, s.SetAttribute(context.Background(), "catalog_relay", "id-1", "coil_voltage", "12"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS catalog_families`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgTypeRoundTrip(t *testing.T) {
	t.Parallel()
	for _, typ := range []model.AttrType{model.AttrNumeric, model.AttrBoolean, model.AttrText} {
		assert.Equal(t, typ, attrType(pgType(typ)))
	}
}
