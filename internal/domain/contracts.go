package domain

import "context"

// BatchEmbedder vectorizes multiple texts in a single API call.
// The returned vectors are 1:1 with the input order.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatClient generates text from a system+user prompt pair.
type ChatClient interface {
	Generate(ctx context.Context, system, user string, temperature float32, maxTokens int) (string, error)
}

// PairScorer scores a batch of query-document pair texts. The scalar contract
// is opaque: higher is better, no further meaning is assumed.
type PairScorer interface {
	Score(ctx context.Context, pairs []string) ([]float64, error)
}
