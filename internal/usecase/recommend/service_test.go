package recommend

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pairwise/internal/complement"
	"github.com/kailas-cloud/pairwise/internal/domain"
)

// --- Mocks ---

type fakeSource struct {
	products []domain.Product
	err      error
	loads    int
}

func (f *fakeSource) Load() (*domain.Catalog, error) {
	f.loads++
	if f.err != nil {
		return nil, f.err
	}
	return domain.NewCatalog(f.products)
}

type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   [][]string
}

func (f *fakeEmbedder) BatchEmbed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := f.vectors[t]; ok {
			out[i] = v
		} else {
			out[i] = []float32{0, 0, 0}
		}
	}
	return out, nil
}

type fakeChat struct {
	content string
	err     error
	calls   int
}

func (f *fakeChat) Generate(_ context.Context, _, _ string, _ float32, _ int) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.content, nil
}

type fakeComplements struct {
	cats     []string
	useCache []bool
	cleared  bool
}

func (f *fakeComplements) Complements(_ context.Context, _ domain.Product, useCache bool) []string {
	f.useCache = append(f.useCache, useCache)
	return f.cats
}
func (f *fakeComplements) Stats() complement.Stats {
	return complement.Stats{Total: 3, Valid: 2, Expired: 1}
}

func (f *fakeComplements) Clear(_ context.Context) { f.cleared = true }

type fakeReranker struct {
	gotQuery string
	gotDocs  []domain.Document
	err      error
}

// Rerank scores documents in input order, descending from 1.0.
func (f *fakeReranker) Rerank(_ context.Context, query string, docs []domain.Document) ([]domain.ScoredDocument, error) {
	f.gotQuery = query
	f.gotDocs = docs
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.ScoredDocument, len(docs))
	for i, d := range docs {
		out[i] = domain.ScoredDocument{
			ID: d.ID, Text: d.Text, Meta: d.Meta,
			Score: 1.0 - float64(i)*0.1,
		}
	}
	return out, nil
}

// --- Fixtures ---

var scenarioProducts = []domain.Product{
	{ID: "p1", Name: "Swim Trunks", Category: "Swim"},
	{ID: "p2", Name: "Sunscreen", Category: "Suncare"},
	{ID: "p3", Name: "Winter Coat", Category: "Outerwear"},
}

func scenarioVectors() map[string][]float32 {
	return map[string][]float32{
		"Swim Trunks | Swim |  | ":       {1, 0, 0},
		"Sunscreen | Suncare |  | ":      {0, 1, 0},
		"Winter Coat | Outerwear |  | ":  {0, 0, 1},
		"swim trunks":                    {0.9, 0.1, 0},
	}
}

type fixture struct {
	source      *fakeSource
	embed       *fakeEmbedder
	chat        *fakeChat
	complements *fakeComplements
	reranker    *fakeReranker
	svc         *Service
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	if cfg.TopKCandidates == 0 {
		cfg.TopKCandidates = 3
	}
	if cfg.TopKReturn == 0 {
		cfg.TopKReturn = 8
	}
	if cfg.NormalizedMaxLen == 0 {
		cfg.NormalizedMaxLen = 50
	}
	cfg.UseComplementCache = true

	f := &fixture{
		source:      &fakeSource{products: scenarioProducts},
		embed:       &fakeEmbedder{vectors: scenarioVectors()},
		chat:        &fakeChat{},
		complements: &fakeComplements{},
		reranker:    &fakeReranker{},
	}

	svc, err := New(f.source, f.embed, f.chat, f.complements, f.reranker, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.svc = svc
	return f
}

func itemIDs(items []Item) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

// --- Tests ---

func TestRecommend_EmptyQuery(t *testing.T) {
	f := newFixture(t, Config{})
	if _, err := f.svc.Recommend(context.Background(), "   ", 5, false); !errors.Is(err, domain.ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestRecommend_CategoryPriorScenario(t *testing.T) {
	f := newFixture(t, Config{TopKCandidates: 1})
	f.complements.cats = []string{"Swim", "Suncare"}

	resp, err := f.svc.Recommend(context.Background(), "swim trunks", 8, false)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}

	if resp.Anchor.ID != "p1" || resp.Anchor.Name != "Swim Trunks" {
		t.Fatalf("anchor = %+v, want p1", resp.Anchor)
	}

	// Prior admits p2 (Suncare); p3 (Outerwear) is excluded. KNN with k=1
	// returns only the anchor itself, which is filtered at merge time.
	for _, d := range f.reranker.gotDocs {
		if d.ID == "p1" {
			t.Error("anchor leaked into the candidate set")
		}
		if d.ID == "p3" {
			t.Error("p3 must be excluded by the category prior")
		}
	}
	for _, id := range itemIDs(resp.Items) {
		if id == "p1" {
			t.Error("anchor present in items")
		}
	}
	if len(resp.Items) == 0 || resp.Items[0].ID != "p2" {
		t.Fatalf("expected p2 recommended, got %v", resp.Items)
	}
}

func TestRecommend_EmptyPriorAdmitsAll(t *testing.T) {
	f := newFixture(t, Config{})
	f.complements.cats = nil

	resp, err := f.svc.Recommend(context.Background(), "swim trunks", 8, false)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}

	got := make(map[string]bool)
	for _, d := range f.reranker.gotDocs {
		got[d.ID] = true
	}
	if !got["p2"] || !got["p3"] || got["p1"] {
		t.Fatalf("empty prior must admit all non-anchor products, got %v", got)
	}
	for _, id := range itemIDs(resp.Items) {
		if id == "p1" {
			t.Error("anchor present in items")
		}
	}
}

func TestRecommend_CoPurchaseQueryReferencesAnchor(t *testing.T) {
	f := newFixture(t, Config{})
	if _, err := f.svc.Recommend(context.Background(), "swim trunks", 8, false); err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if want := "Swim Trunks"; !strings.Contains(f.reranker.gotQuery, want) {
		t.Errorf("rerank query %q does not reference the anchor name", f.reranker.gotQuery)
	}
}

func TestRecommend_TopKDefaultAndClamp(t *testing.T) {
	f := newFixture(t, Config{TopKReturn: 1})
	resp, err := f.svc.Recommend(context.Background(), "swim trunks", 0, false)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected default top_k=1, got %d items", len(resp.Items))
	}

	resp, err = f.svc.Recommend(context.Background(), "swim trunks", 100, false)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(resp.Items) > 2 {
		t.Fatalf("top_k must clamp to candidate count, got %d", len(resp.Items))
	}
}

func TestRecommend_RerankFailurePropagates(t *testing.T) {
	f := newFixture(t, Config{})
	f.reranker.err = domain.ErrEmbeddingProviderError
	if _, err := f.svc.Recommend(context.Background(), "swim trunks", 8, false); !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestEnsureBuilt_Idempotent(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	if _, err := f.svc.Recommend(ctx, "swim trunks", 8, false); err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if _, err := f.svc.Recommend(ctx, "swim trunks", 8, false); err != nil {
		t.Fatalf("Recommend: %v", err)
	}

	builds := 0
	for _, call := range f.embed.calls {
		if len(call) == len(scenarioProducts) {
			builds++
		}
	}
	if builds != 1 {
		t.Errorf("index built %d times, want 1", builds)
	}
}

func TestRecommend_BuildFailureThenRecovery(t *testing.T) {
	f := newFixture(t, Config{})
	f.embed.err = domain.ErrEmbeddingProviderError

	if _, err := f.svc.Recommend(context.Background(), "swim trunks", 8, false); !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected provider error, got %v", err)
	}

	// The index stays unbuilt; the next request builds it.
	f.embed.err = nil
	if _, err := f.svc.Recommend(context.Background(), "swim trunks", 8, false); err != nil {
		t.Fatalf("Recommend after recovery: %v", err)
	}
}

func TestReload_ReplacesCatalog(t *testing.T) {
	f := newFixture(t, Config{})
	if _, err := f.svc.Recommend(context.Background(), "swim trunks", 8, false); err != nil {
		t.Fatalf("Recommend: %v", err)
	}

	f.source.products = scenarioProducts[:2]
	res, err := f.svc.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if !res.OK || res.NumProducts != 2 {
		t.Fatalf("unexpected reload result: %+v", res)
	}
	if got := f.svc.Stats().NumProducts; got != 2 {
		t.Errorf("stats after reload = %d products, want 2", got)
	}
}

func TestReload_FailureKeepsPreviousSnapshot(t *testing.T) {
	f := newFixture(t, Config{})
	if _, err := f.svc.Recommend(context.Background(), "swim trunks", 8, false); err != nil {
		t.Fatalf("Recommend: %v", err)
	}

	f.source.err = errors.New("source gone")
	if _, err := f.svc.Reload(context.Background()); err == nil {
		t.Fatal("expected reload error")
	}
	f.source.err = nil

	f.embed.err = domain.ErrEmbeddingProviderError
	if _, err := f.svc.Reload(context.Background()); err == nil {
		t.Fatal("expected rebuild error")
	}
	f.embed.err = nil

	// The previous snapshot keeps serving without a rebuild.
	if _, err := f.svc.Recommend(context.Background(), "swim trunks", 8, false); err != nil {
		t.Fatalf("Recommend after failed reload: %v", err)
	}
	if got := f.svc.Stats().NumProducts; got != 3 {
		t.Errorf("catalog replaced despite failed reload: %d products", got)
	}
}

func TestRecommend_NormalizationFailureKeepsOriginal(t *testing.T) {
	f := newFixture(t, Config{UseQueryNormalizer: true})
	f.chat.err = errors.New("chat down")

	resp, err := f.svc.Recommend(context.Background(), "swim trunks", 8, false)
	if err != nil {
		t.Fatalf("normalization failure must not fail the request: %v", err)
	}
	if resp.Anchor.ID != "p1" {
		t.Errorf("anchor = %v, want p1 from the original query", resp.Anchor)
	}
	if f.chat.calls != 1 {
		t.Errorf("chat called %d times, want 1", f.chat.calls)
	}
}

func TestRecommend_NormalizedQueryUsed(t *testing.T) {
	f := newFixture(t, Config{UseQueryNormalizer: true})
	f.embed.vectors["swimsuit"] = []float32{0.9, 0.1, 0}
	f.chat.content = "swimsuit"

	if _, err := f.svc.Recommend(context.Background(), "i wanna buy swimwear", 8, false); err != nil {
		t.Fatalf("Recommend: %v", err)
	}

	// The second embed call (after the build) carries the normalized query.
	queryCall := f.embed.calls[1]
	if len(queryCall) != 1 || queryCall[0] != "swimsuit" {
		t.Errorf("query embedding used %v, want the normalized query", queryCall)
	}
}

func TestRecommend_OverlongNormalizationRejected(t *testing.T) {
	f := newFixture(t, Config{UseQueryNormalizer: true, NormalizedMaxLen: 5})
	f.chat.content = "a very long normalized query"

	if _, err := f.svc.Recommend(context.Background(), "swim trunks", 8, false); err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	queryCall := f.embed.calls[1]
	if queryCall[0] != "swim trunks" {
		t.Errorf("overlong normalization must be rejected, embedded %q", queryCall[0])
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t, Config{})
	st := f.svc.Stats()
	if st.NumProducts != 3 {
		t.Errorf("NumProducts = %d", st.NumProducts)
	}
	if len(st.TopCategories) != 3 {
		t.Errorf("TopCategories = %v", st.TopCategories)
	}
}

func TestClearCache(t *testing.T) {
	f := newFixture(t, Config{})
	f.svc.ClearCache(context.Background())
	if !f.complements.cleared {
		t.Error("cache not cleared")
	}
}

func TestMergeCandidates_Idempotent(t *testing.T) {
	a := []domain.Product{{ID: "p2"}, {ID: "p3"}}
	merged := mergeCandidates(a, a, "p1")
	if len(merged) != 2 {
		t.Fatalf("merging a set with itself must not duplicate: %v", merged)
	}
}

