// Package catalog persists family tables, their evolving schema and the
// learned registries (aliases, templates, brands, variant keys) that the
// ingestion stages read through and write back to.
package catalog

import (
	"context"
	"time"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/template"
)

// RecordMeta is run-level provenance written with every record.
type RecordMeta struct {
	SourceRef string
	RunID     string
}

// Alias maps a raw attribute key to its canonical column within a scope.
// Empty Brand or Series widens the scope.
type Alias struct {
	Family     string  `json:"family"`
	Brand      string  `json:"brand"`
	Series     string  `json:"series"`
	Raw        string  `json:"raw"`
	Canonical  string  `json:"canonical"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// FamilyRecord is the store-side registry entry of a family.
type FamilyRecord struct {
	Slug        string    `json:"slug"`
	Table       string    `json:"table"`
	VariantKeys []string  `json:"variant_keys"`
	Template    string    `json:"template,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StoredRow is the identity of a persisted record.
type StoredRow struct {
	ID         string
	Brand      string
	Identifier string
	Series     string
}

// SchemaStore manages family relations and their columns.
type SchemaStore interface {
	EnsureFamily(ctx context.Context, fam *model.Family) error
	Columns(ctx context.Context, table string) (map[string]model.AttrType, error)
	AddColumn(ctx context.Context, table, column string, typ model.AttrType) error
}

// RecordStore writes records keyed by (lower(brand), lower(identifier)).
type RecordStore interface {
	Upsert(ctx context.Context, fam *model.Family, rec *model.CandidateRecord, meta RecordMeta) (bool, error)
}

// AliasStore holds learned attribute-key canonicalizations.
type AliasStore interface {
	Aliases(ctx context.Context, family string) ([]Alias, error)
	SaveAlias(ctx context.Context, a Alias) error
}

// TemplateStore caches learned identifier templates.
type TemplateStore interface {
	template.Cache
}

// BrandStore holds the brand alias directory.
type BrandStore interface {
	BrandAliases(ctx context.Context) (map[string]string, error)
	SaveBrandAlias(ctx context.Context, alias, canonical string) error
}

// FamilyRegistry tracks registered families and their learned variant keys.
type FamilyRegistry interface {
	GetFamily(ctx context.Context, slug string) (*FamilyRecord, error)
	ListFamilies(ctx context.Context) ([]FamilyRecord, error)
	SaveVariantKeys(ctx context.Context, slug string, keys []string) error
}

// RunLock is a held run-scoped lock.
type RunLock interface {
	Release(ctx context.Context) error
}

// RunLocker acquires run-scoped locks. ok is false when another holder has it.
type RunLocker interface {
	AcquireRunLock(ctx context.Context, runID string) (lock RunLock, ok bool, err error)
}

// ViewRefresher refreshes registered cross-family views.
type ViewRefresher interface {
	RefreshViews(ctx context.Context) error
}

// BackfillStore reads records lacking a column and fills it in.
type BackfillStore interface {
	RowsMissing(ctx context.Context, table, column string, limit int) ([]StoredRow, error)
	SetAttribute(ctx context.Context, table, id, column string, value any) error
}

// Store is the full relational store.
type Store interface {
	SchemaStore
	RecordStore
	AliasStore
	TemplateStore
	BrandStore
	FamilyRegistry
	RunLocker
	ViewRefresher
	BackfillStore

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// TableFor returns the relation name for a family slug.
func TableFor(slug string) string {
	return "catalog_" + slug
}
