// Package config loads the YAML configuration of a zing database.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Storage selects the storage backend.
type Storage struct {
	// Driver is either "memory" or "sqlite".
	Driver string `yaml:"driver"`
	// Path is the database file used by the sqlite driver.
	Path string `yaml:"path,omitempty"`
}

// Cache sets the size of the process wide caches. Zero means unbounded.
type Cache struct {
	Templates           int `yaml:"templates"`
	TemplateByChangeset int `yaml:"template_by_changeset"`
	FixedTemplates      int `yaml:"fixed_templates"`
	Queries             int `yaml:"queries"`
}

// Merge contains the settings of batch merges.
type Merge struct {
	// IsolateCollections collects per collection failures instead of
	// stopping the batch at the first one.
	IsolateCollections bool `yaml:"isolate_collections"`
	// Concurrency is the number of collections merged at once.
	Concurrency int `yaml:"concurrency"`
}

// Collection declares a collection dag and its template.
type Collection struct {
	Name string `yaml:"name"`
	// Schema is the template source.
	Schema string `yaml:"schema,omitempty"`
	// SchemaFile is read into Schema when Schema is empty. Relative paths
	// are resolved against the directory of the config file.
	SchemaFile string `yaml:"schema_file,omitempty"`
	// Fixed marks a collection whose template is not stored per changeset.
	Fixed bool `yaml:"fixed"`
	// Trivial marks a collection without record identity.
	Trivial bool `yaml:"trivial"`
}

// Config is the complete configuration.
type Config struct {
	LogLevel    string       `yaml:"log_level"`
	Storage     Storage      `yaml:"storage"`
	Cache       Cache        `yaml:"cache"`
	Merge       Merge        `yaml:"merge"`
	Collections []Collection `yaml:"collections"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Storage: Storage{
			Driver: DriverMemory,
			Path:   "zing.db",
		},
		Cache: Cache{
			Queries: 128,
		},
		Merge: Merge{
			Concurrency: 1,
		},
	}
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	for i := range cfg.Collections {
		c := &cfg.Collections[i]
		if c.Schema != "" || c.SchemaFile == "" {
			continue
		}
		file := c.SchemaFile
		if !filepath.IsAbs(file) {
			file = filepath.Join(dir, file)
		}
		schema, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("collection %s: reading schema: %w", c.Name, err)
		}
		c.Schema = string(schema)
	}
	return cfg, nil
}

// Parse decodes and validates the configuration, filling in defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage: path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("storage: unknown driver %q", c.Storage.Driver)
	}
	if c.Merge.Concurrency < 1 {
		return fmt.Errorf("merge: concurrency must be positive")
	}
	for _, size := range []int{c.Cache.Templates, c.Cache.TemplateByChangeset, c.Cache.FixedTemplates, c.Cache.Queries} {
		if size < 0 {
			return fmt.Errorf("cache: sizes must be non-negative")
		}
	}
	seen := make(map[string]bool, len(c.Collections))
	for _, col := range c.Collections {
		if col.Name == "" {
			return fmt.Errorf("collection name is required")
		}
		if seen[col.Name] {
			return fmt.Errorf("duplicate collection %q", col.Name)
		}
		seen[col.Name] = true
		if col.Schema == "" && col.SchemaFile == "" {
			return fmt.Errorf("collection %s: schema or schema_file is required", col.Name)
		}
	}
	return nil
}

// Collection returns the collection with the given name.
func (c *Config) Collection(name string) (Collection, bool) {
	for _, col := range c.Collections {
		if col.Name == name {
			return col, true
		}
	}
	return Collection{}, false
}
