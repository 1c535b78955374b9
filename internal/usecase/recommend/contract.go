package recommend

import (
	"context"

	"github.com/kailas-cloud/pairwise/internal/complement"
	"github.com/kailas-cloud/pairwise/internal/domain"
)

// CatalogSource re-reads the full product collection on demand.
type CatalogSource interface {
	Load() (*domain.Catalog, error)
}

// ComplementProvider maps an anchor product to complementary category labels.
// An empty result means "no category prior, do not filter".
type ComplementProvider interface {
	Complements(ctx context.Context, anchor domain.Product, useCache bool) []string
	Stats() complement.Stats
	Clear(ctx context.Context)
}

// Reranker scores candidate documents against a query, normalized and sorted
// descending.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []domain.Document) ([]domain.ScoredDocument, error)
}
