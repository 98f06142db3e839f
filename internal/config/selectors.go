package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed selectors.yaml
var builtinSelectors []byte

// TargetSpec describes how one UI element can be found on the page.
type TargetSpec struct {
	Selectors    []string `yaml:"selectors"`
	Text         []string `yaml:"text"`
	Scope        string   `yaml:"scope"`
	Fields       []string `yaml:"fields"`
	Exclude      []string `yaml:"exclude"`
	Anchor       string   `yaml:"anchor"`
	AnchorScope  string   `yaml:"anchor_scope"`
	Near         string   `yaml:"near"`
	Learnable    bool     `yaml:"learnable"`
	LearnClosest string   `yaml:"learn_closest"`
}

// Catalog maps target names to their lookup hints.
type Catalog map[string]TargetSpec

// ParseCatalog decodes a YAML catalog.
func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse selector catalog: %w", err)
	}
	if c == nil {
		c = Catalog{}
	}
	return c, nil
}

// DefaultCatalog returns a fresh copy of the built-in catalog.
func DefaultCatalog() Catalog {
	c, err := ParseCatalog(builtinSelectors)
	if err != nil {
		panic(fmt.Sprintf("built-in selector catalog is invalid: %v", err))
	}
	return c
}

// LoadCatalog returns the built-in catalog with entries from path merged
// over it. An empty path yields the built-in catalog.
func LoadCatalog(path string) (Catalog, error) {
	c := DefaultCatalog()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read selector catalog %s: %w", path, err)
	}
	user, err := ParseCatalog(data)
	if err != nil {
		return nil, err
	}
	c.Merge(user)
	return c, nil
}

// Merge replaces entries of c with the entries of other by name.
func (c Catalog) Merge(other Catalog) {
	for name, spec := range other {
		c[name] = spec
	}
}

// Lookup returns the TargetSpec for name, or a zero value if it is unknown.
func (c Catalog) Lookup(name string) TargetSpec {
	return c[name]
}
