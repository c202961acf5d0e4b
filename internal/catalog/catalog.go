package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed examples.yaml
var builtin []byte

// ErrNotFound is returned when no example matches a reference.
var ErrNotFound = errors.New("example not found")

// Example is a completed public report offered for browsing.
type Example struct {
	ID          string `yaml:"id" json:"id"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description"`
	Type        string `yaml:"type" json:"type"`
}

// Catalog is an ordered list of examples.
type Catalog struct {
	Examples []Example `yaml:"examples" json:"examples"`
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(builtin)
	if err != nil {
		panic(fmt.Sprintf("catalog: built-in examples are invalid: %v", err))
	}
	return c
}

// Load reads a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog. Every example needs a unique
// id and a title.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	seen := make(map[string]bool, len(c.Examples))
	for i, ex := range c.Examples {
		if strings.TrimSpace(ex.ID) == "" {
			return nil, fmt.Errorf("example %d: id is required", i+1)
		}
		if strings.TrimSpace(ex.Title) == "" {
			return nil, fmt.Errorf("example %s: title is required", ex.ID)
		}
		if seen[ex.ID] {
			return nil, fmt.Errorf("example %s: duplicate id", ex.ID)
		}
		seen[ex.ID] = true
	}
	return &c, nil
}

// Find resolves ref as an id, a 1-based position or a case-insensitive title.
func (c *Catalog) Find(ref string) (Example, error) {
	ref = strings.TrimSpace(ref)
	for _, ex := range c.Examples {
		if ex.ID == ref {
			return ex, nil
		}
	}
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(c.Examples) {
		return c.Examples[n-1], nil
	}
	for _, ex := range c.Examples {
		if strings.EqualFold(ex.Title, ref) {
			return ex, nil
		}
	}
	return Example{}, fmt.Errorf("%w: %q", ErrNotFound, ref)
}
