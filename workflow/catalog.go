// Package workflow holds the task template catalogs used to populate
// newly created projects. A catalog is an ordered list of sections,
// each with an ordered list of task definitions. Catalogs are entity
// data, not logic: deployments choose a built-in variant or point the
// configuration at a yaml catalog file of their own.
package workflow

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"gopkg.in/yaml.v2"

	"oppsync/internal/mounts"
)

//go:embed catalogs
var CatalogsEmbeddedFS embed.FS

// Task is a single task definition within a section.
type Task struct {
	Name  string `yaml:"name"`
	Notes string `yaml:"notes"`
}

// Section is a named subdivision of the catalog holding an ordered
// list of tasks.
type Section struct {
	Name  string `yaml:"name"`
	Tasks []Task `yaml:"tasks"`
}

// Catalog is an ordered task template catalog.
type Catalog struct {
	Name     string    `yaml:"name"`
	Sections []Section `yaml:"sections"`
}

// SectionNames returns the section names in catalog order.
func (c *Catalog) SectionNames() []string {
	names := make([]string, len(c.Sections))
	for i, s := range c.Sections {
		names[i] = s.Name
	}
	return names
}

// TaskCount returns the total number of tasks across all sections.
func (c *Catalog) TaskCount() int {
	var n int
	for _, s := range c.Sections {
		n += len(s.Tasks)
	}
	return n
}

// validate checks a parsed catalog for structural problems.
func (c *Catalog) validate() error {
	if c.Name == "" {
		return fmt.Errorf("catalog has no name")
	}
	if len(c.Sections) == 0 {
		return fmt.Errorf("catalog %q has no sections", c.Name)
	}
	seen := map[string]bool{}
	for _, s := range c.Sections {
		if s.Name == "" {
			return fmt.Errorf("catalog %q has an unnamed section", c.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("catalog %q has duplicate section %q", c.Name, s.Name)
		}
		seen[s.Name] = true
		for _, t := range s.Tasks {
			if t.Name == "" {
				return fmt.Errorf("catalog %q section %q has an unnamed task", c.Name, s.Name)
			}
		}
	}
	return nil
}

// variantFiles maps built-in variant names to their embedded catalog
// files.
var variantFiles = map[string]string{
	"industrial-automation": "industrial_automation.yaml",
	"panel-shop":            "panel_shop.yaml",
}

// LoadVariant loads a built-in catalog by variant name.
func LoadVariant(variant string) (*Catalog, error) {
	file, ok := variantFiles[variant]
	if !ok {
		return nil, fmt.Errorf("unknown workflow variant %q", variant)
	}
	catalogFS, err := mounts.NewFileMount("catalogs", CatalogsEmbeddedFS, "")
	if err != nil {
		return nil, fmt.Errorf("could not mount catalogs fs: %w", err)
	}
	b, err := fs.ReadFile(catalogFS, file)
	if err != nil {
		return nil, fmt.Errorf("could not read built-in catalog %q: %w", file, err)
	}
	return parse(b)
}

// LoadFile loads a catalog from a yaml file on disk.
func LoadFile(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read catalog file: %w", err)
	}
	return parse(b)
}

// parse unmarshals and validates catalog yaml.
func parse(b []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("unable to parse catalog yaml: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Store holds the active catalog behind a mutex so the watcher can
// swap it in place while webhook deliveries read it.
type Store struct {
	mu      sync.RWMutex
	catalog *Catalog
	path    string // path of the on-disk catalog, if any
}

// NewStore creates a Store from the configured variant and optional
// on-disk catalog path. A set path overrides the variant.
func NewStore(variant, path string) (*Store, error) {
	var catalog *Catalog
	var err error
	if path != "" {
		catalog, err = LoadFile(path)
	} else {
		catalog, err = LoadVariant(variant)
	}
	if err != nil {
		return nil, err
	}
	return &Store{catalog: catalog, path: path}, nil
}

// Catalog returns the active catalog.
func (s *Store) Catalog() *Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog
}

// Reload re-reads the on-disk catalog. It is a no-op for built-in
// variants. An invalid on-disk catalog leaves the active catalog
// unchanged and returns the parse error.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	catalog, err := LoadFile(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.catalog = catalog
	s.mu.Unlock()
	return nil
}
