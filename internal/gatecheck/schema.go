package gatecheck

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Strob0t/forgesprint/internal/port/cache"
)

// Schema is an externally supplied structural definition for one artifact
// role, consumed read-only by the syntax and format gates.
type Schema struct {
	Role     string              `yaml:"role" json:"role"`
	Match    []string            `yaml:"match" json:"match"` // filename globs
	Format   string              `yaml:"format" json:"format"`
	Required []string            `yaml:"required_fields" json:"required_fields"`
	Enums    map[string][]string `yaml:"enums" json:"enums"`
}

// Catalog loads artifact schemas from a directory of YAML files and serves
// lookups by filename. Parsed catalogs are kept in an L1 cache so repeated
// gate runs do not re-read the directory.
type Catalog struct {
	dir   string
	cache cache.Cache
	ttl   time.Duration
}

// NewCatalog creates a Catalog over dir backed by the given cache.
func NewCatalog(dir string, c cache.Cache) *Catalog {
	return &Catalog{dir: dir, cache: c, ttl: time.Minute}
}

// ForFile returns the schema whose globs match the file's base name, or
// nil when no schema is declared for it.
func (c *Catalog) ForFile(ctx context.Context, path string) (*Schema, error) {
	schemas, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	base := filepath.Base(path)
	for i := range schemas {
		for _, glob := range schemas[i].Match {
			if ok, _ := filepath.Match(glob, base); ok {
				return &schemas[i], nil
			}
		}
	}
	return nil, nil
}

func (c *Catalog) load(ctx context.Context) ([]Schema, error) {
	key := "schemas:" + c.dir
	if c.cache != nil {
		if data, ok, err := c.cache.Get(ctx, key); err == nil && ok {
			var schemas []Schema
			if err := json.Unmarshal(data, &schemas); err == nil {
				return schemas, nil
			}
		}
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("schema catalog: %w", err)
	}

	var schemas []Schema
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dir, e.Name())) //nolint:gosec // G304: catalog dir is operator config
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", e.Name(), err)
		}
		var s Schema
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("schema %s: %w", e.Name(), err)
		}
		if s.Role == "" {
			continue
		}
		schemas = append(schemas, s)
	}

	if c.cache != nil {
		if data, err := json.Marshal(schemas); err == nil {
			_ = c.cache.Set(ctx, key, data, c.ttl)
		}
	}
	return schemas, nil
}
