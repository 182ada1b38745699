// Package condition provides the catalog of known combat conditions,
// loaded from YAML content files. The delta applier consults the catalog
// when one is configured so narrator-proposed condition names can be
// normalized against the ruleset.
package condition

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition is the static description of one condition.
type Definition struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	// Duration is "rounds", "until_removed", or "permanent". Informational;
	// the engine stores condition names only and leaves expiry to the
	// narrator.
	Duration string `yaml:"duration"`
}

// Catalog holds all known condition Definitions keyed by ID.
type Catalog struct {
	defs map[string]*Definition
}

// NewCatalog creates an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{defs: make(map[string]*Definition)}
}

// Register adds def, overwriting any existing entry with the same ID.
//
// Precondition: def must not be nil and def.ID must not be empty.
func (c *Catalog) Register(def *Definition) {
	c.defs[def.ID] = def
}

// Get returns the Definition for id, or (nil, false) if not found.
func (c *Catalog) Get(id string) (*Definition, bool) {
	d, ok := c.defs[id]
	return d, ok
}

// Known reports whether name is a catalog condition id.
func (c *Catalog) Known(name string) bool {
	_, ok := c.defs[name]
	return ok
}

// Len returns the number of registered conditions.
func (c *Catalog) Len() int {
	return len(c.defs)
}

// All returns every registered Definition sorted by ID.
func (c *Catalog) All() []*Definition {
	out := make([]*Definition, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b *Definition) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// LoadDirectory reads every *.yaml file in dir, parses each as a list of
// Definitions, and returns a populated Catalog.
//
// Precondition: dir must be a readable directory.
func LoadDirectory(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading condition dir %q: %w", dir, err)
	}

	cat := NewCatalog()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", path, err)
		}
		var defs []Definition
		if err := yaml.Unmarshal(data, &defs); err != nil {
			return nil, fmt.Errorf("parsing %q: %w", path, err)
		}
		for i := range defs {
			if defs[i].ID == "" {
				return nil, fmt.Errorf("condition %d in %q has no id", i, path)
			}
			cat.Register(&defs[i])
		}
	}
	return cat, nil
}
