package openai

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/pairwise/internal/domain"
)

// PairScorer scores query-document pair texts through the reranker model's
// embeddings endpoint. The first vector component is taken as the scalar
// score; the contract is opaque beyond "higher is better".
type PairScorer struct {
	client  *openai.Client
	model   openai.EmbeddingModel
	timeout time.Duration
	logger  *zap.Logger
}

// NewPairScorer creates a pair-scoring client.
func NewPairScorer(cfg *Config) *PairScorer {
	return &PairScorer{
		client:  newClient(cfg.APIKey, cfg.BaseURL),
		model:   openai.EmbeddingModel(cfg.Model),
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

// Score implements domain.PairScorer with one batched call.
func (s *PairScorer) Score(ctx context.Context, pairs []string) ([]float64, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:          pairs,
		Model:          s.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	})
	if err != nil {
		return nil, parseAPIError(err, domain.ErrEmbeddingProviderError)
	}
	if len(resp.Data) != len(pairs) {
		return nil, fmt.Errorf("got %d scores for %d pairs: %w",
			len(resp.Data), len(pairs), domain.ErrMalformedResponse)
	}

	scores := make([]float64, len(pairs))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(scores) {
			return nil, fmt.Errorf("score index %d out of range: %w",
				d.Index, domain.ErrMalformedResponse)
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("empty score vector at index %d: %w",
				d.Index, domain.ErrMalformedResponse)
		}
		scores[d.Index] = float64(d.Embedding[0])
	}
	return scores, nil
}
