// Package index holds an in-memory embedding matrix over a catalog and
// answers nearest-neighbor queries by cosine similarity.
package index

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/kailas-cloud/pairwise/internal/domain"
)

// normEpsilon guards against zero division when normalizing vectors.
const normEpsilon = 1e-9

// Hit is a single nearest-neighbor result: a catalog position with its
// cosine similarity to the query vector.
type Hit struct {
	Position   int
	Similarity float64
}

// Index pairs a catalog with one embedding row per product, in catalog order.
// The matrix is built wholesale; any catalog change requires a new Index.
type Index struct {
	catalog *domain.Catalog
	embed   domain.BatchEmbedder
	matrix  [][]float32
	norms   []float64
}

// New creates an unbuilt index over a catalog.
func New(catalog *domain.Catalog, embed domain.BatchEmbedder) *Index {
	return &Index{catalog: catalog, embed: embed}
}

// Build embeds every product's composite text in a single batch call.
// On failure the index is left unbuilt, never partially built.
func (ix *Index) Build(ctx context.Context) error {
	texts := make([]string, ix.catalog.Len())
	for i, p := range ix.catalog.Products() {
		texts[i] = p.CompositeText()
	}

	vecs, err := ix.embed.BatchEmbed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed catalog: %w", err)
	}
	if len(vecs) != len(texts) {
		return fmt.Errorf("embed catalog: got %d vectors for %d texts: %w",
			len(vecs), len(texts), domain.ErrMalformedResponse)
	}

	norms := make([]float64, len(vecs))
	for i, v := range vecs {
		norms[i] = l2norm(v)
	}
	ix.matrix = vecs
	ix.norms = norms
	return nil
}

// Built reports whether Build has completed successfully.
func (ix *Index) Built() bool { return ix.matrix != nil }

// Size returns the number of indexed products.
func (ix *Index) Size() int { return ix.catalog.Len() }

// TopK returns the k most similar catalog positions for a query vector,
// similarity descending, ties broken by original position. Selection is
// partial (a size-k heap), only the selected k are sorted.
func (ix *Index) TopK(query []float32, k int) ([]Hit, error) {
	if !ix.Built() {
		return nil, domain.ErrIndexNotBuilt
	}
	if len(ix.matrix) == 0 || k <= 0 {
		return nil, nil
	}
	if k > len(ix.matrix) {
		k = len(ix.matrix)
	}

	qn := l2norm(query)

	h := make(hitHeap, 0, k)
	for pos, row := range ix.matrix {
		sim := dot(query, row) / ((qn + normEpsilon) * (ix.norms[pos] + normEpsilon))
		hit := Hit{Position: pos, Similarity: sim}
		if len(h) < k {
			heap.Push(&h, hit)
			continue
		}
		if better(hit, h[0]) {
			h[0] = hit
			heap.Fix(&h, 0)
		}
	}

	hits := []Hit(h)
	sort.Slice(hits, func(i, j int) bool { return better(hits[i], hits[j]) })
	return hits, nil
}

// ByPositions returns products at the given catalog positions.
// Callers are responsible for passing valid positions.
func (ix *Index) ByPositions(positions []int) []domain.Product {
	out := make([]domain.Product, len(positions))
	for i, pos := range positions {
		out[i] = ix.catalog.At(pos)
	}
	return out
}

// better orders hits by similarity descending, then position ascending.
func better(a, b Hit) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	return a.Position < b.Position
}

// hitHeap is a min-heap under the better ordering: the root is the worst
// retained hit and the first to be evicted.
type hitHeap []Hit

func (h hitHeap) Len() int            { return len(h) }
func (h hitHeap) Less(i, j int) bool  { return better(h[j], h[i]) }
func (h hitHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x any)         { *h = append(*h, x.(Hit)) }
func (h *hitHeap) Pop() any           { old := *h; n := len(old); x := old[n-1]; *h = old[:n-1]; return x }

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func l2norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
