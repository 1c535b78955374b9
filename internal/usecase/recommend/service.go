// Package recommend composes the recommendation pipeline: anchor selection,
// candidate generation, deduplication, and reranking.
package recommend

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pairwise/internal/domain"
	"github.com/kailas-cloud/pairwise/internal/index"
	"github.com/kailas-cloud/pairwise/internal/metrics"
)

// Config holds pipeline settings.
type Config struct {
	// TopKCandidates bounds the KNN expansion set.
	TopKCandidates int
	// TopKReturn is the default response size when the request does not set one.
	TopKReturn int
	// UseQueryNormalizer gates the LLM query normalization step.
	UseQueryNormalizer bool
	// UseComplementCache toggles the complement cache fast path.
	UseComplementCache bool
	// NormalizeTimeout bounds the query normalization call (short: the
	// payload is a single query, unlike batch embedding or rerank).
	NormalizeTimeout time.Duration
	// NormalizedMaxLen is the acceptance ceiling for a normalized query, in runes.
	NormalizedMaxLen int
}

// snapshot pairs a catalog with its built index. Snapshots are immutable;
// a reload builds a fresh one and publishes it atomically, so in-flight
// requests never observe a half-rebuilt index.
type snapshot struct {
	catalog *domain.Catalog
	index   *index.Index // nil until the first successful build
}

// Service is the recommendation orchestrator.
type Service struct {
	source      CatalogSource
	embed       domain.BatchEmbedder
	chat        domain.ChatClient
	complements ComplementProvider
	reranker    Reranker
	cfg         Config
	logger      *zap.Logger

	snap    atomic.Pointer[snapshot]
	buildMu sync.Mutex // serializes index builds and reloads
}

// New creates the orchestrator and loads the initial catalog. The index is
// built lazily on the first request (or via EnsureBuilt at startup).
func New(
	source CatalogSource,
	embed domain.BatchEmbedder,
	chat domain.ChatClient,
	complements ComplementProvider,
	reranker Reranker,
	cfg Config,
	logger *zap.Logger,
) (*Service, error) {
	catalog, err := source.Load()
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	s := &Service{
		source:      source,
		embed:       embed,
		chat:        chat,
		complements: complements,
		reranker:    reranker,
		cfg:         cfg,
		logger:      logger,
	}
	s.snap.Store(&snapshot{catalog: catalog})
	return s, nil
}

// EnsureBuilt builds the vector index for the current catalog if needed.
// Idempotent: subsequent calls before a reload are no-ops.
func (s *Service) EnsureBuilt(ctx context.Context) error {
	if s.snap.Load().index != nil {
		return nil
	}

	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	snap := s.snap.Load()
	if snap.index != nil {
		return nil
	}

	ix := index.New(snap.catalog, s.embed)
	if err := ix.Build(ctx); err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	s.snap.Store(&snapshot{catalog: snap.catalog, index: ix})
	s.logger.Info("Vector index built", zap.Int("num_products", snap.catalog.Len()))
	return nil
}

// ReloadResult is the reload response.
type ReloadResult struct {
	OK          bool `json:"ok"`
	NumProducts int  `json:"num_products"`
}

// Reload re-reads the catalog source and rebuilds the index before returning.
// All-or-nothing: any failure leaves the previous catalog and index serving.
func (s *Service) Reload(ctx context.Context) (ReloadResult, error) {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	catalog, err := s.source.Load()
	if err != nil {
		return ReloadResult{}, fmt.Errorf("reload catalog: %w", err)
	}

	ix := index.New(catalog, s.embed)
	if err := ix.Build(ctx); err != nil {
		return ReloadResult{}, fmt.Errorf("rebuild index: %w", err)
	}

	s.snap.Store(&snapshot{catalog: catalog, index: ix})
	s.logger.Info("Catalog reloaded", zap.Int("num_products", catalog.Len()))
	return ReloadResult{OK: true, NumProducts: catalog.Len()}, nil
}

// Anchor identifies the product a recommendation is scoped to.
type Anchor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Item is a recommended product with its rerank score.
type Item struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Response is the recommendation result.
type Response struct {
	Anchor Anchor `json:"anchor"`
	Items  []Item `json:"items"`
}

// Recommend runs the full pipeline for a query.
func (s *Service) Recommend(ctx context.Context, query string, topK int, debug bool) (Response, error) {
	start := time.Now()
	defer func() { metrics.RecommendDuration.Observe(time.Since(start).Seconds()) }()

	query = strings.TrimSpace(query)
	if query == "" {
		return Response{}, domain.ErrEmptyQuery
	}

	if err := s.EnsureBuilt(ctx); err != nil {
		return Response{}, err
	}
	snap := s.snap.Load()
	if snap.catalog.Len() == 0 {
		return Response{}, fmt.Errorf("empty catalog: %w", domain.ErrCatalogSource)
	}

	normalized := query
	if s.cfg.UseQueryNormalizer {
		normalized = s.normalizeQuery(ctx, query)
	}

	anchor, err := s.selectAnchor(ctx, snap, normalized, debug)
	if err != nil {
		return Response{}, err
	}
	s.logger.Info("Selected anchor",
		zap.String("anchor_id", anchor.ID),
		zap.String("anchor_name", anchor.Name),
		zap.String("category", anchor.Category),
	)

	candidates, err := s.buildCandidates(ctx, snap, anchor)
	if err != nil {
		return Response{}, err
	}

	rerankQuery := fmt.Sprintf(
		"Complementary products bought or used together with %s, most relevant first.", anchor.Name)
	docs := make([]domain.Document, len(candidates))
	for i, p := range candidates {
		docs[i] = domain.DocumentFromProduct(p)
	}

	scored, err := s.reranker.Rerank(ctx, rerankQuery, docs)
	if err != nil {
		return Response{}, fmt.Errorf("rerank candidates: %w", err)
	}

	if topK <= 0 {
		topK = s.cfg.TopKReturn
	}
	if topK > len(scored) {
		topK = len(scored)
	}

	nameByID := make(map[string]string, len(candidates))
	for _, p := range candidates {
		nameByID[p.ID] = p.Name
	}

	items := make([]Item, topK)
	for i, sd := range scored[:topK] {
		name := nameByID[sd.ID]
		if name == "" {
			name = sd.Meta.Name
		}
		if name == "" {
			name = sd.ID
		}
		items[i] = Item{ID: sd.ID, Name: name, Score: round4(sd.Score)}
	}

	return Response{Anchor: Anchor{ID: anchor.ID, Name: anchor.Name}, Items: items}, nil
}

// selectAnchor embeds the normalized query and takes the single nearest
// catalog entry.
func (s *Service) selectAnchor(
	ctx context.Context, snap *snapshot, query string, debug bool,
) (domain.Product, error) {
	vecs, err := s.embed.BatchEmbed(ctx, []string{query})
	if err != nil {
		return domain.Product{}, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return domain.Product{}, fmt.Errorf("got %d query vectors: %w", len(vecs), domain.ErrMalformedResponse)
	}

	if debug {
		s.logAnchorCandidates(snap, vecs[0], query)
	}

	hits, err := snap.index.TopK(vecs[0], 1)
	if err != nil {
		return domain.Product{}, fmt.Errorf("anchor lookup: %w", err)
	}
	return snap.catalog.At(hits[0].Position), nil
}

func (s *Service) logAnchorCandidates(snap *snapshot, queryVec []float32, query string) {
	hits, err := snap.index.TopK(queryVec, 5)
	if err != nil {
		return
	}
	for rank, h := range hits {
		p := snap.catalog.At(h.Position)
		s.logger.Debug("Anchor candidate",
			zap.String("query", query),
			zap.Int("rank", rank+1),
			zap.String("id", p.ID),
			zap.String("name", p.Name),
			zap.String("category", p.Category),
			zap.Float64("similarity", h.Similarity),
		)
	}
}

// buildCandidates merges category-prior and KNN candidates, deduplicated by
// id with the anchor excluded.
func (s *Service) buildCandidates(
	ctx context.Context, snap *snapshot, anchor domain.Product,
) ([]domain.Product, error) {
	prior := s.priorCandidates(ctx, snap, anchor)

	anchorVecs, err := s.embed.BatchEmbed(ctx, []string{anchor.CompositeText()})
	if err != nil {
		return nil, fmt.Errorf("embed anchor: %w", err)
	}
	if len(anchorVecs) != 1 {
		return nil, fmt.Errorf("got %d anchor vectors: %w", len(anchorVecs), domain.ErrMalformedResponse)
	}

	hits, err := snap.index.TopK(anchorVecs[0], s.cfg.TopKCandidates)
	if err != nil {
		return nil, fmt.Errorf("knn expansion: %w", err)
	}
	positions := make([]int, len(hits))
	for i, h := range hits {
		positions[i] = h.Position
	}
	knn := snap.index.ByPositions(positions)

	return mergeCandidates(prior, knn, anchor.ID), nil
}

// priorCandidates filters the catalog by the anchor's complementary
// categories. An empty category prior admits every non-anchor product.
func (s *Service) priorCandidates(
	ctx context.Context, snap *snapshot, anchor domain.Product,
) []domain.Product {
	cats := s.complements.Complements(ctx, anchor, s.cfg.UseComplementCache)

	allowed := make(map[string]bool, len(cats))
	for _, c := range cats {
		allowed[c] = true
	}

	var out []domain.Product
	for _, p := range snap.catalog.Products() {
		if p.ID == anchor.ID {
			continue
		}
		if len(allowed) == 0 || allowed[p.Category] {
			out = append(out, p)
		}
	}
	return out
}

// mergeCandidates unions two candidate lists by product id, preserving first
// appearance order. On an id collision the KNN copy wins; both draw from the
// same immutable catalog, so the overwrite is observably a no-op.
func mergeCandidates(prior, knn []domain.Product, anchorID string) []domain.Product {
	byID := make(map[string]int)
	var out []domain.Product
	for _, p := range prior {
		if p.ID == anchorID {
			continue
		}
		if _, ok := byID[p.ID]; ok {
			continue
		}
		byID[p.ID] = len(out)
		out = append(out, p)
	}
	for _, p := range knn {
		if p.ID == anchorID {
			continue
		}
		if i, ok := byID[p.ID]; ok {
			out[i] = p
			continue
		}
		byID[p.ID] = len(out)
		out = append(out, p)
	}
	return out
}

// StatsResult is the stats surface.
type StatsResult struct {
	NumProducts   int                    `json:"num_products"`
	TopCategories []domain.CategoryCount `json:"top_categories"`
	CacheStats    any                    `json:"cache_stats"`
}

// Stats reports catalog and cache statistics.
func (s *Service) Stats() StatsResult {
	snap := s.snap.Load()
	return StatsResult{
		NumProducts:   snap.catalog.Len(),
		TopCategories: snap.catalog.TopCategories(10),
		CacheStats:    s.complements.Stats(),
	}
}

// ClearCache empties the complement cache.
func (s *Service) ClearCache(ctx context.Context) {
	s.complements.Clear(ctx)
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
