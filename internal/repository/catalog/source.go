// Package catalog reads the product collection from its backing document.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kailas-cloud/pairwise/internal/domain"
)

// Source is a re-readable catalog document: a JSON file of the form
// {"products": [...]}.
type Source struct {
	path string
}

// NewSource creates a catalog source for a file path.
func NewSource(path string) *Source {
	return &Source{path: path}
}

// document is the on-disk shape of the catalog.
type document struct {
	Products []domain.Product `json:"products"`
}

// Load reads and validates the full product collection. Field defaults are
// applied here, at the load boundary, not at use sites.
func (s *Source) Load() (*domain.Catalog, error) {
	data, err := os.ReadFile(filepath.Clean(s.path))
	if err != nil {
		return nil, fmt.Errorf("read %s: %v: %w", s.path, err, domain.ErrCatalogSource)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %v: %w", s.path, err, domain.ErrCatalogSource)
	}

	for i := range doc.Products {
		applyDefaults(&doc.Products[i])
	}

	catalog, err := domain.NewCatalog(doc.Products)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog: %v: %w", err, domain.ErrCatalogSource)
	}
	return catalog, nil
}

// applyDefaults normalizes a loosely-shaped product record.
func applyDefaults(p *domain.Product) {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		p.Name = p.ID
	}
	if p.Synonyms == nil {
		p.Synonyms = []string{}
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
}
