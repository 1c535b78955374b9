package domain

import "errors"

var (
	// ErrEmptyQuery signals an empty or whitespace-only query.
	ErrEmptyQuery = errors.New("query is empty")
	// ErrIndexNotBuilt signals an operation on an unbuilt vector index.
	ErrIndexNotBuilt = errors.New("vector index not built")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrChatProviderError signals a chat/generation provider failure.
	ErrChatProviderError = errors.New("chat provider error")
	// ErrMalformedResponse signals an unparseable or size-mismatched provider payload.
	ErrMalformedResponse = errors.New("malformed provider response")
	// ErrCatalogSource signals that the catalog source could not be read.
	ErrCatalogSource = errors.New("catalog source unavailable")
)
