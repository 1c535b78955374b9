package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Product is a single catalog entry. Products are immutable once loaded;
// a reload replaces the whole collection.
type Product struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Category    string         `json:"category"`
	Synonyms    []string       `json:"synonyms,omitempty"`
	Description string         `json:"description,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Price       *float64       `json:"price,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// CompositeText returns the embedding text for a product:
// name | category | joined synonyms | description.
func (p Product) CompositeText() string {
	return fmt.Sprintf("%s | %s | %s | %s",
		p.Name, p.Category, strings.Join(p.Synonyms, " "), p.Description)
}

// Catalog is an ordered product collection with positional id lookup.
// Positions are stable for the lifetime of a catalog; the embedding matrix
// built from it shares the same ordering.
type Catalog struct {
	products []Product
	byID     map[string]int
}

// NewCatalog builds a catalog from an ordered product slice.
// IDs must be unique and non-empty.
func NewCatalog(products []Product) (*Catalog, error) {
	byID := make(map[string]int, len(products))
	for i, p := range products {
		if p.ID == "" {
			return nil, fmt.Errorf("product at position %d has empty id", i)
		}
		if prev, ok := byID[p.ID]; ok {
			return nil, fmt.Errorf("duplicate product id %q at positions %d and %d", p.ID, prev, i)
		}
		byID[p.ID] = i
	}
	return &Catalog{products: products, byID: byID}, nil
}

// Len returns the number of products.
func (c *Catalog) Len() int { return len(c.products) }

// At returns the product at the given position.
func (c *Catalog) At(pos int) Product { return c.products[pos] }

// Products returns the ordered product slice. Callers must not mutate it.
func (c *Catalog) Products() []Product { return c.products }

// PositionOf returns the position of a product id.
func (c *Catalog) PositionOf(id string) (int, bool) {
	pos, ok := c.byID[id]
	return pos, ok
}

// CategoryCount is a category with its product count.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// TopCategories returns the n most frequent categories, count descending,
// ties broken by category name.
func (c *Catalog) TopCategories(n int) []CategoryCount {
	counts := make(map[string]int)
	for _, p := range c.products {
		counts[p.Category]++
	}
	out := make([]CategoryCount, 0, len(counts))
	for cat, cnt := range counts {
		out = append(out, CategoryCount{Category: cat, Count: cnt})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
