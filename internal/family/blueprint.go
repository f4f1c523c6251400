package family

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/catalog-ingest/internal/catalog"
	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/textnorm"
)

type blueprintFile struct {
	Families []model.Family `yaml:"families"`
}

// LoadBlueprints reads family descriptors from a YAML file. A missing path
// yields no blueprints.
func LoadBlueprints(path string) ([]model.Family, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "family: read blueprints %s", path)
	}
	return ParseBlueprints(data)
}

// ParseBlueprints decodes and normalizes blueprint YAML. Slugs are
// normalized, tables default to catalog_<slug>, and attribute names and
// types are canonicalized. Declaration order is preserved.
func ParseBlueprints(data []byte) ([]model.Family, error) {
	var f blueprintFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "family: parse blueprints")
	}
	seen := make(map[string]bool, len(f.Families))
	out := make([]model.Family, 0, len(f.Families))
	for _, fam := range f.Families {
		fam.Slug = textnorm.Slug(fam.Slug)
		if fam.Slug == "" {
			return nil, eris.New("family: blueprint without slug")
		}
		if seen[fam.Slug] {
			return nil, eris.Errorf("family: duplicate blueprint %q", fam.Slug)
		}
		seen[fam.Slug] = true
		if fam.Table == "" {
			fam.Table = catalog.TableFor(fam.Slug)
		}
		attrs := make(map[string]model.AttrType, len(fam.Attributes))
		for k, t := range fam.Attributes {
			key := textnorm.SnakeCase(k)
			if key == "" || model.IsBaseColumn(key) {
				return nil, eris.Errorf("family: %s: invalid attribute %q", fam.Slug, k)
			}
			attrs[key] = model.ParseAttrType(string(t))
		}
		fam.Attributes = attrs
		out = append(out, fam)
	}
	return out, nil
}
