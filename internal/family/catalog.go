package family

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/catalog"
	"github.com/sells-group/catalog-ingest/internal/model"
)

// Registry is the store surface the catalog reads through.
type Registry interface {
	GetFamily(ctx context.Context, slug string) (*catalog.FamilyRecord, error)
	EnsureFamily(ctx context.Context, fam *model.Family) error
	Columns(ctx context.Context, table string) (map[string]model.AttrType, error)
}

// Catalog merges YAML blueprints with the store-side registry and caches
// the result per slug.
type Catalog struct {
	order      []string
	blueprints map[string]model.Family
	reg        Registry

	mu    sync.RWMutex
	cache map[string]*model.Family
}

// NewCatalog creates a Catalog over blueprints and reg.
func NewCatalog(blueprints []model.Family, reg Registry) *Catalog {
	c := &Catalog{
		blueprints: make(map[string]model.Family, len(blueprints)),
		reg:        reg,
		cache:      make(map[string]*model.Family),
	}
	for _, bp := range blueprints {
		c.order = append(c.order, bp.Slug)
		c.blueprints[bp.Slug] = bp
	}
	return c
}

// Blueprints returns the blueprints in declaration order.
func (c *Catalog) Blueprints() []model.Family {
	out := make([]model.Family, 0, len(c.order))
	for _, slug := range c.order {
		out = append(out, c.blueprints[slug])
	}
	return out
}

// Slugs returns the blueprint slugs in declaration order.
func (c *Catalog) Slugs() []string {
	return append([]string(nil), c.order...)
}

// Get returns the family descriptor for slug. Families never seen before
// are registered: their relation is created with the base columns, the
// natural-key index and the declared attributes. Store failures are
// reported as model.ErrSchemaNotReady.
func (c *Catalog) Get(ctx context.Context, slug string) (*model.Family, error) {
	c.mu.RLock()
	cached, ok := c.cache[slug]
	c.mu.RUnlock()
	if ok {
		return clone(cached), nil
	}

	fam := c.blueprint(slug)
	rec, err := c.reg.GetFamily(ctx, slug)
	if err != nil {
		return nil, eris.Wrapf(model.ErrSchemaNotReady, "family: registry lookup %s: %v", slug, err)
	}
	if rec == nil {
		if err := c.reg.EnsureFamily(ctx, fam); err != nil {
			return nil, eris.Wrapf(model.ErrSchemaNotReady, "family: register %s: %v", slug, err)
		}
		zap.L().Info("family: registered", zap.String("family", slug), zap.String("table", fam.Table))
	} else {
		if rec.Table != "" {
			fam.Table = rec.Table
		}
		fam.VariantKeys = union(fam.VariantKeys, rec.VariantKeys)
		if fam.Template == "" {
			fam.Template = rec.Template
		}
	}

	cols, err := c.reg.Columns(ctx, fam.Table)
	if err != nil {
		return nil, eris.Wrapf(model.ErrSchemaNotReady, "family: columns of %s: %v", fam.Table, err)
	}
	fam.Allowed = nil
	for _, col := range sortedCols(cols) {
		if _, declared := fam.Attributes[col]; !declared {
			fam.Allowed = append(fam.Allowed, col)
		}
	}

	c.mu.Lock()
	c.cache[slug] = fam
	c.mu.Unlock()
	return clone(fam), nil
}

// Invalidate drops slug from the cache, e.g. after variant keys were learned
// or columns added.
func (c *Catalog) Invalidate(slug string) {
	c.mu.Lock()
	delete(c.cache, slug)
	c.mu.Unlock()
}

// Describe returns the blueprint-only descriptor for slug without touching
// the store.
func (c *Catalog) Describe(slug string) *model.Family {
	return c.blueprint(slug)
}

func (c *Catalog) blueprint(slug string) *model.Family {
	bp, ok := c.blueprints[slug]
	if !ok {
		bp = model.Family{Slug: slug}
	}
	fam := clone(&bp)
	if fam.Table == "" {
		fam.Table = catalog.TableFor(slug)
	}
	return fam
}

func clone(f *model.Family) *model.Family {
	c := *f
	c.Attributes = make(map[string]model.AttrType, len(f.Attributes))
	for k, v := range f.Attributes {
		c.Attributes[k] = v
	}
	c.BrandTemplates = make(map[string]string, len(f.BrandTemplates))
	for k, v := range f.BrandTemplates {
		c.BrandTemplates[k] = v
	}
	c.Allowed = append([]string(nil), f.Allowed...)
	c.VariantKeys = append([]string(nil), f.VariantKeys...)
	c.SeriesPrefixes = append([]string(nil), f.SeriesPrefixes...)
	c.Keywords = append([]string(nil), f.Keywords...)
	c.Brands = append([]string(nil), f.Brands...)
	return &c
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

func sortedCols(m map[string]model.AttrType) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
