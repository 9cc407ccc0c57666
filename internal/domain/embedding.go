package domain

import "context"

// EmbeddingResult holds a vector and the token usage that produced it.
// A zero-length Embedding is valid and means the input had no content.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// Embedder vectorizes text. Implementations must return an empty result
// (not an error) for empty or whitespace-only input without contacting
// the backend.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// HealthChecker is optionally implemented by providers that can probe
// their backend cheaply.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
