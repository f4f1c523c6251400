package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// MemoryRow is a record held by MemoryStore.
type MemoryRow struct {
	ID         string
	Brand      string
	Identifier string
	Series     string
	Family     string
	DocType    string
	Verified   bool
	SourceRef  string
	RunID      string
	Attrs      map[string]any
	Overflow   map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type memTable struct {
	columns map[string]model.AttrType
	rows    map[string]*MemoryRow
	order   []string
}

// MemoryStore is an in-process Store with the same merge semantics as
// PostgresStore. It backs dry runs and tests.
type MemoryStore struct {
	mu        sync.Mutex
	tables    map[string]*memTable
	families  map[string]FamilyRecord
	aliases   []Alias
	templates map[string]string
	brands    map[string]string
	locks     map[string]bool
	refreshes int

	// UpsertErr, when set, is consulted before every upsert.
	UpsertErr func(rec *model.CandidateRecord) error
	// AddColumnErr, when set, fails every AddColumn.
	AddColumnErr error
}

var _ Store = (*MemoryStore)(nil)

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		tables:    make(map[string]*memTable),
		families:  make(map[string]FamilyRecord),
		templates: make(map[string]string),
		brands:    make(map[string]string),
		locks:     make(map[string]bool),
	}
}

func (m *MemoryStore) Ping(context.Context) error    { return nil }
func (m *MemoryStore) Migrate(context.Context) error { return nil }
func (m *MemoryStore) Close() error                  { return nil }

func (m *MemoryStore) table(name string) (*memTable, error) {
	t, ok := m.tables[name]
	if !ok {
		return nil, eris.Errorf("catalog: relation %q does not exist", name)
	}
	return t, nil
}

// EnsureFamily creates the table, declared columns and registry entry.
func (m *MemoryStore) EnsureFamily(_ context.Context, fam *model.Family) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := fam.Table
	if table == "" {
		table = TableFor(fam.Slug)
	}
	t, ok := m.tables[table]
	if !ok {
		t = &memTable{columns: make(map[string]model.AttrType), rows: make(map[string]*MemoryRow)}
		m.tables[table] = t
	}
	for col, typ := range fam.Attributes {
		if _, exists := t.columns[col]; !exists && !model.IsBaseColumn(col) {
			t.columns[col] = typ
		}
	}
	if _, ok := m.families[fam.Slug]; !ok {
		now := time.Now().UTC()
		m.families[fam.Slug] = FamilyRecord{
			Slug:        fam.Slug,
			Table:       table,
			VariantKeys: append([]string{}, fam.VariantKeys...),
			Template:    fam.Template,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}
	return nil
}

// Columns returns a copy of the live attribute columns.
func (m *MemoryStore) Columns(_ context.Context, table string) (map[string]model.AttrType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(table)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.AttrType, len(t.columns))
	for k, v := range t.columns {
		out[k] = v
	}
	return out, nil
}

// AddColumn adds column if missing. The first type chosen sticks.
func (m *MemoryStore) AddColumn(_ context.Context, table, column string, typ model.AttrType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AddColumnErr != nil {
		return m.AddColumnErr
	}
	if model.IsBaseColumn(column) {
		return eris.Errorf("catalog: %q is a base column", column)
	}
	t, err := m.table(table)
	if err != nil {
		return err
	}
	if _, ok := t.columns[column]; !ok {
		t.columns[column] = typ
	}
	return nil
}

// Upsert merges rec into the row with the same natural key.
func (m *MemoryStore) Upsert(_ context.Context, fam *model.Family, rec *model.CandidateRecord, meta RecordMeta) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertErr != nil {
		if err := m.UpsertErr(rec); err != nil {
			return false, err
		}
	}
	table := fam.Table
	if table == "" {
		table = TableFor(fam.Slug)
	}
	t, err := m.table(table)
	if err != nil {
		return false, err
	}
	for k, v := range rec.Attrs {
		if _, ok := t.columns[k]; !ok && !model.IsEmptyValue(v) {
			return false, eris.Errorf("catalog: column %q of relation %q does not exist", k, table)
		}
	}

	now := time.Now().UTC()
	key := model.NaturalKey(rec.Brand, rec.Identifier)
	row, exists := t.rows[key]
	if !exists {
		row = &MemoryRow{
			ID:         uuid.NewString(),
			Brand:      rec.Brand,
			Identifier: rec.Identifier,
			Family:     fam.Slug,
			Attrs:      make(map[string]any),
			Overflow:   make(map[string]any),
			CreatedAt:  now,
		}
		t.rows[key] = row
		t.order = append(t.order, key)
	}
	coalesce(&row.Series, rec.Series)
	coalesce(&row.DocType, string(rec.DocType))
	coalesce(&row.SourceRef, meta.SourceRef)
	coalesce(&row.RunID, meta.RunID)
	row.Verified = rec.Verified
	for k, v := range rec.Attrs {
		if !model.IsEmptyValue(v) {
			row.Attrs[k] = v
		}
	}
	for k, v := range rec.Overflow {
		row.Overflow[k] = v
	}
	row.UpdatedAt = now
	return !exists, nil
}

func coalesce(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Rows returns copies of the rows of table in insertion order.
func (m *MemoryStore) Rows(table string) []MemoryRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return nil
	}
	out := make([]MemoryRow, 0, len(t.order))
	for _, key := range t.order {
		r := *t.rows[key]
		r.Attrs = copyMap(r.Attrs)
		r.Overflow = copyMap(r.Overflow)
		out = append(out, r)
	}
	return out
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Aliases returns the aliases of family.
func (m *MemoryStore) Aliases(_ context.Context, family string) ([]Alias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Alias
	for _, a := range m.aliases {
		if a.Family == family {
			out = append(out, a)
		}
	}
	return out, nil
}

// SaveAlias stores a, replacing a lower-confidence alias in the same scope.
func (m *MemoryStore) SaveAlias(_ context.Context, a Alias) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cur := range m.aliases {
		if cur.Family == a.Family && cur.Brand == a.Brand && cur.Series == a.Series && cur.Raw == a.Raw {
			if cur.Confidence <= a.Confidence {
				m.aliases[i] = a
			}
			return nil
		}
	}
	m.aliases = append(m.aliases, a)
	return nil
}

func templateKey(family, brand, series string) string {
	return family + "\x00" + strings.ToLower(brand) + "\x00" + strings.ToLower(series)
}

// LookupTemplate finds the series template, then the brand-wide one.
func (m *MemoryStore) LookupTemplate(_ context.Context, family, brand, series string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.templates[templateKey(family, brand, series)]; ok {
		return t, true, nil
	}
	t, ok := m.templates[templateKey(family, brand, "")]
	return t, ok, nil
}

// SaveTemplate caches tmpl.
func (m *MemoryStore) SaveTemplate(_ context.Context, family, brand, series, tmpl string, _ float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[templateKey(family, brand, series)] = tmpl
	return nil
}

// BrandAliases returns a copy of the brand directory.
func (m *MemoryStore) BrandAliases(context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.brands))
	for k, v := range m.brands {
		out[k] = v
	}
	return out, nil
}

// SaveBrandAlias stores alias unless it is already known.
func (m *MemoryStore) SaveBrandAlias(_ context.Context, alias, canonical string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.brands[alias]; !ok {
		m.brands[alias] = canonical
	}
	return nil
}

// GetFamily returns the registry entry for slug or nil.
func (m *MemoryStore) GetFamily(_ context.Context, slug string) (*FamilyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.families[slug]
	if !ok {
		return nil, nil
	}
	rec.VariantKeys = append([]string{}, rec.VariantKeys...)
	return &rec, nil
}

// ListFamilies returns every registry entry ordered by slug.
func (m *MemoryStore) ListFamilies(context.Context) ([]FamilyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FamilyRecord, 0, len(m.families))
	for _, rec := range m.families {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// SaveVariantKeys merges keys into the family's variant keys.
func (m *MemoryStore) SaveVariantKeys(_ context.Context, slug string, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.families[slug]
	if !ok {
		return eris.Errorf("catalog: family %q not registered", slug)
	}
	seen := make(map[string]bool)
	var merged []string
	for _, k := range append(rec.VariantKeys, keys...) {
		if !seen[k] {
			seen[k] = true
			merged = append(merged, k)
		}
	}
	sort.Strings(merged)
	rec.VariantKeys = merged
	rec.UpdatedAt = time.Now().UTC()
	m.families[slug] = rec
	return nil
}

type memLock struct {
	m     *MemoryStore
	runID string
}

func (l *memLock) Release(context.Context) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	delete(l.m.locks, l.runID)
	return nil
}

// AcquireRunLock takes the lock for runID if free.
func (m *MemoryStore) AcquireRunLock(_ context.Context, runID string) (RunLock, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[runID] {
		return nil, false, nil
	}
	m.locks[runID] = true
	return &memLock{m: m, runID: runID}, true, nil
}

// RefreshViews counts refreshes.
func (m *MemoryStore) RefreshViews(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes++
	return nil
}

// Refreshes reports how many view refreshes ran.
func (m *MemoryStore) Refreshes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshes
}

// RowsMissing lists rows of table with no value for column.
func (m *MemoryStore) RowsMissing(_ context.Context, table, column string, limit int) ([]StoredRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(table)
	if err != nil {
		return nil, err
	}
	var out []StoredRow
	for _, key := range t.order {
		r := t.rows[key]
		if _, ok := r.Attrs[column]; ok {
			continue
		}
		out = append(out, StoredRow{ID: r.ID, Brand: r.Brand, Identifier: r.Identifier, Series: r.Series})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// SetAttribute fills column on the row with id if still empty.
func (m *MemoryStore) SetAttribute(_ context.Context, table, id, column string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(table)
	if err != nil {
		return err
	}
	for _, r := range t.rows {
		if r.ID == id {
			if _, ok := r.Attrs[column]; !ok {
				r.Attrs[column] = value
				r.UpdatedAt = time.Now().UTC()
			}
			return nil
		}
	}
	return eris.Errorf("catalog: row %s not found", id)
}
