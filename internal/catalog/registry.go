package catalog

import (
	"context"
	"errors"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// GetFamily returns the registry entry for slug, or nil when unregistered.
func (s *PostgresStore) GetFamily(ctx context.Context, slug string) (*FamilyRecord, error) {
	var rec FamilyRecord
	err := s.pool.QueryRow(ctx,
		`SELECT slug, table_name, variant_keys, COALESCE(template, ''), created_at, updated_at FROM catalog_families WHERE slug = $1`,
		slug).Scan(&rec.Slug, &rec.Table, &rec.VariantKeys, &rec.Template, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: get family %s", slug)
	}
	return &rec, nil
}

// ListFamilies returns every registered family ordered by slug.
func (s *PostgresStore) ListFamilies(ctx context.Context) ([]FamilyRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT slug, table_name, variant_keys, COALESCE(template, ''), created_at, updated_at FROM catalog_families ORDER BY slug`)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: list families")
	}
	defer rows.Close()

	var out []FamilyRecord
	for rows.Next() {
		var rec FamilyRecord
		if err := rows.Scan(&rec.Slug, &rec.Table, &rec.VariantKeys, &rec.Template, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "catalog: scan family")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "catalog: list families")
}

// SaveVariantKeys merges keys into the family's learned variant keys.
func (s *PostgresStore) SaveVariantKeys(ctx context.Context, slug string, keys []string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE catalog_families SET variant_keys = ARRAY(SELECT DISTINCT unnest(variant_keys || $2::text[]) ORDER BY 1), updated_at = now() WHERE slug = $1`,
		slug, nonNil(keys))
	return eris.Wrapf(err, "catalog: save variant keys for %s", slug)
}

// Aliases returns every attribute alias of a family across all scopes.
func (s *PostgresStore) Aliases(ctx context.Context, family string) ([]Alias, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT family, brand, series, raw_key, canonical, confidence, source FROM catalog_attribute_aliases WHERE family = $1`,
		family)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: aliases of %s", family)
	}
	defer rows.Close()

	var out []Alias
	for rows.Next() {
		var a Alias
		if err := rows.Scan(&a.Family, &a.Brand, &a.Series, &a.Raw, &a.Canonical, &a.Confidence, &a.Source); err != nil {
			return nil, eris.Wrap(err, "catalog: scan alias")
		}
		out = append(out, a)
	}
	return out, eris.Wrapf(rows.Err(), "catalog: aliases of %s", family)
}

// SaveAlias records an alias, keeping the higher-confidence mapping when
// one already exists for the scope.
func (s *PostgresStore) SaveAlias(ctx context.Context, a Alias) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO catalog_attribute_aliases (family, brand, series, raw_key, canonical, confidence, source)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (family, brand, series, raw_key) DO UPDATE SET canonical = EXCLUDED.canonical, confidence = EXCLUDED.confidence, source = EXCLUDED.source
WHERE catalog_attribute_aliases.confidence <= EXCLUDED.confidence`,
		a.Family, a.Brand, a.Series, a.Raw, a.Canonical, a.Confidence, a.Source)
	return eris.Wrapf(err, "catalog: save alias %s -> %s", a.Raw, a.Canonical)
}

// LookupTemplate returns the cached template for (family, brand, series),
// falling back to the brand-wide entry.
func (s *PostgresStore) LookupTemplate(ctx context.Context, family, brand, series string) (string, bool, error) {
	var tmpl string
	err := s.pool.QueryRow(ctx,
		`SELECT template FROM catalog_template_cache WHERE family = $1 AND lower(brand) = lower($2) AND lower(series) IN (lower($3), '') ORDER BY (series = '') ASC LIMIT 1`,
		family, brand, series).Scan(&tmpl)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "catalog: lookup template %s/%s", family, brand)
	}
	return tmpl, true, nil
}

// SaveTemplate caches a learned template.
func (s *PostgresStore) SaveTemplate(ctx context.Context, family, brand, series, tmpl string, confidence float64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO catalog_template_cache (family, brand, series, template, confidence, hits)
VALUES ($1, $2, $3, $4, $5, 1)
ON CONFLICT (family, brand, series) DO UPDATE SET template = EXCLUDED.template, confidence = EXCLUDED.confidence, hits = catalog_template_cache.hits + 1, updated_at = now()`,
		family, brand, series, tmpl, confidence)
	return eris.Wrapf(err, "catalog: save template %s/%s", family, brand)
}

// BrandAliases returns the alias to canonical brand directory.
func (s *PostgresStore) BrandAliases(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT alias, canonical FROM catalog_brand_aliases`)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: brand aliases")
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var alias, canonical string
		if err := rows.Scan(&alias, &canonical); err != nil {
			return nil, eris.Wrap(err, "catalog: scan brand alias")
		}
		out[alias] = canonical
	}
	return out, eris.Wrap(rows.Err(), "catalog: brand aliases")
}

// SaveBrandAlias records alias for canonical unless alias is already known.
func (s *PostgresStore) SaveBrandAlias(ctx context.Context, alias, canonical string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO catalog_brand_aliases (alias, canonical) VALUES ($1, $2) ON CONFLICT (alias) DO NOTHING`,
		alias, canonical)
	return eris.Wrapf(err, "catalog: save brand alias %s", alias)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
