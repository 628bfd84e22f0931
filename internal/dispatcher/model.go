package dispatcher

import "fmt"

// Model is the static metadata needed to dispatch a synthesis request:
// the slug clients name, and the usage multiplier spec.md §4.2/§4.9
// applies to `len(text)` when billing against the waterfall.
type Model struct {
	Slug            string
	UsageMultiplier float64
}

// Catalog resolves a model slug to its Model. A missing slug is a
// validation error (spec.md §7 taxonomy item 1), never a panic.
type Catalog interface {
	Lookup(slug string) (Model, error)
}

// StaticCatalog is a fixed, in-process model table — adequate for a
// gateway process whose model roster changes by redeploy, not at
// runtime.
type StaticCatalog struct {
	models map[string]Model
}

func NewStaticCatalog(models ...Model) *StaticCatalog {
	m := make(map[string]Model, len(models))
	for _, mo := range models {
		m[mo.Slug] = mo
	}
	return &StaticCatalog{models: m}
}

func (c *StaticCatalog) Lookup(slug string) (Model, error) {
	m, ok := c.models[slug]
	if !ok {
		return Model{}, fmt.Errorf("dispatcher: unknown model %q", slug)
	}
	return m, nil
}

var _ Catalog = (*StaticCatalog)(nil)
