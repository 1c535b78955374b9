// Package rerank scores candidate documents against a query. The primary
// strategy is an external pair-scoring call; on any failure it degrades to
// cosine similarity against fresh embeddings. Both paths return scores
// normalized to [0,1], sorted descending.
package rerank

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/pairwise/internal/domain"
)

const (
	// sepToken joins query and document text for the pair scorer.
	sepToken = " [SEP] "
	// scoreEpsilon is the degenerate-range threshold for normalization.
	scoreEpsilon = 1e-9
	// normEpsilon guards against zero division on vector norms.
	normEpsilon = 1e-9
)

// Stage is the rerank stage.
type Stage struct {
	scorer        domain.PairScorer
	embed         domain.BatchEmbedder
	timeout       time.Duration
	strategyTotal *prometheus.CounterVec
	logger        *zap.Logger
}

// Config holds rerank stage settings.
type Config struct {
	// Timeout bounds each scoring call individually. The cosine fallback
	// gets a fresh budget: a primary timeout must not consume it.
	Timeout time.Duration
	// StrategyTotal is a counter vec with label "strategy"
	// ("primary"/"cosine_fallback"); optional.
	StrategyTotal *prometheus.CounterVec
}

// New creates a rerank stage.
func New(scorer domain.PairScorer, embed domain.BatchEmbedder, cfg Config, logger *zap.Logger) *Stage {
	return &Stage{
		scorer:        scorer,
		embed:         embed,
		timeout:       cfg.Timeout,
		strategyTotal: cfg.StrategyTotal,
		logger:        logger,
	}
}

// Rerank scores documents against a query. The result has the same
// cardinality as the input and is sorted descending by normalized score.
func (s *Stage) Rerank(ctx context.Context, query string, docs []domain.Document) ([]domain.ScoredDocument, error) {
	if len(docs) == 0 {
		return []domain.ScoredDocument{}, nil
	}

	scores, err := s.scorePrimary(ctx, query, docs)
	if err != nil {
		s.logger.Warn("Pair scorer failed, degrading to cosine similarity", zap.Error(err))
		scores, err = s.scoreCosine(ctx, query, docs)
		if err != nil {
			return nil, fmt.Errorf("cosine fallback: %w", err)
		}
		s.incStrategy("cosine_fallback")
	} else {
		s.incStrategy("primary")
	}

	return scoredFrom(docs, scores), nil
}

// scorePrimary submits one batched pair-scoring call. A result count
// mismatched with the input is treated as a provider failure.
func (s *Stage) scorePrimary(ctx context.Context, query string, docs []domain.Document) ([]float64, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	pairs := make([]string, len(docs))
	for i, d := range docs {
		pairs[i] = query + sepToken + d.Text
	}

	scores, err := s.scorer.Score(ctx, pairs)
	if err != nil {
		return nil, fmt.Errorf("score pairs: %w", err)
	}
	if len(scores) != len(docs) {
		return nil, fmt.Errorf("got %d scores for %d documents: %w",
			len(scores), len(docs), domain.ErrMalformedResponse)
	}
	return scores, nil
}

// scoreCosine embeds [query]+documents in one batch and scores by cosine
// similarity. Output is structurally indistinguishable from the primary path.
func (s *Stage) scoreCosine(ctx context.Context, query string, docs []domain.Document) ([]float64, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	texts := make([]string, 0, len(docs)+1)
	texts = append(texts, query)
	for _, d := range docs {
		texts = append(texts, d.Text)
	}

	vecs, err := s.embed.BatchEmbed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed pairs: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("got %d vectors for %d texts: %w",
			len(vecs), len(texts), domain.ErrMalformedResponse)
	}

	q := vecs[0]
	qn := l2norm(q)
	scores := make([]float64, len(docs))
	for i, v := range vecs[1:] {
		scores[i] = dot(q, v) / ((qn + normEpsilon) * (l2norm(v) + normEpsilon))
	}
	return scores, nil
}

// scoredFrom normalizes raw scores and sorts descending. When the score range
// is degenerate (all-equal or single-document batches) every score is 1.0.
func scoredFrom(docs []domain.Document, scores []float64) []domain.ScoredDocument {
	lo, hi := scores[0], scores[0]
	for _, v := range scores[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	out := make([]domain.ScoredDocument, len(docs))
	for i, d := range docs {
		score := 1.0
		if hi-lo > scoreEpsilon {
			score = (scores[i] - lo) / (hi - lo)
		}
		out[i] = domain.ScoredDocument{ID: d.ID, Text: d.Text, Meta: d.Meta, Score: score}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// callContext scopes the configured timeout to one scoring call, off the
// caller's context.
func (s *Stage) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Stage) incStrategy(strategy string) {
	if s.strategyTotal != nil {
		s.strategyTotal.WithLabelValues(strategy).Inc()
	}
}

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
