package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpec() UpsertSpec {
	return UpsertSpec{
		Table:         "catalog_relay",
		Columns:       []string{"id", "brand", "identifier", "voltage", "overflow", "updated_at"},
		ConflictExprs: []string{"lower(brand)", "lower(identifier)"},
		Immutable:     []string{"id", "brand", "identifier"},
		MergeJSON:     []string{"overflow"},
		Touch:         "updated_at",
	}
}

func TestBuildUpsert(t *testing.T) {
	sql, err := BuildUpsert(testSpec())
	require.NoError(t, err)

	assert.Contains(t, sql, `INSERT INTO "catalog_relay" AS t ("id", "brand", "identifier", "voltage", "overflow", "updated_at") VALUES ($1, $2, $3, $4, $5, $6)`)
	assert.Contains(t, sql, "ON CONFLICT ((lower(brand)), (lower(identifier)))")
	assert.Contains(t, sql, `"voltage" = COALESCE(EXCLUDED."voltage", t."voltage")`)
	assert.Contains(t, sql, `"overflow" = COALESCE(t."overflow", '{}'::jsonb) || COALESCE(EXCLUDED."overflow", '{}'::jsonb)`)
	assert.Contains(t, sql, `"updated_at" = now()`)
	assert.NotContains(t, sql, `"brand" = COALESCE`)
	assert.NotContains(t, sql, `"id" = COALESCE`)
	assert.Contains(t, sql, "RETURNING (xmax = 0) AS inserted")
}

func TestBuildUpsert_Validation(t *testing.T) {
	_, err := BuildUpsert(UpsertSpec{Table: "t", ConflictExprs: []string{"id"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")

	_, err = BuildUpsert(UpsertSpec{Table: "t", Columns: []string{"id"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")

	_, err = BuildUpsert(UpsertSpec{Table: "t", Columns: []string{"id"}, ConflictExprs: []string{"id"}, Immutable: []string{"id"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to update")
}

func TestUpsert_ReturnsInserted(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO "catalog_relay" AS t`).
		WithArgs("id-1", "Acme", "X1-24", 24.0, []byte(`{}`), nil).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))

	inserted, err := Upsert(context.Background(), mock, testSpec(), []any{"id-1", "Acme", "X1-24", 24.0, []byte(`{}`), nil})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_ArgCountMismatch(t *testing.T) {
	_, err := Upsert(context.Background(), nil, testSpec(), []any{"only-one"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 values for 6 columns")
}

func TestTryXactLock(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT pg_try_advisory_xact_lock\(hashtext\(\$1\)\)`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"ok"}).AddRow(false))
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := mock.Begin(ctx)
	require.NoError(t, err)
	ok, err := TryXactLock(ctx, tx, "run-1")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, tx.Rollback(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"catalog.relays", `"catalog"."relays"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name", "value"`, quoteAndJoin([]string{"id", "name", "value"}))
}

func TestErrorClassification(t *testing.T) {
	dup := &pgconn.PgError{Code: "42701"}
	assert.True(t, IsDuplicateColumn(dup))
	assert.False(t, IsDuplicateObject(dup))

	assert.True(t, IsDuplicateObject(&pgconn.PgError{Code: "42P07"}))
	assert.True(t, IsNotPopulatedOrNoIndex(&pgconn.PgError{Code: "55000"}))
	assert.False(t, IsDuplicateColumn(eris.New("plain")))
}
