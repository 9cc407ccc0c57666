package retrieval

import (
	"context"

	"github.com/kailas-cloud/lexrag/internal/domain"
)

// Embedder vectorizes the query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// FragmentFinder runs the vector search against the retrieval backend.
type FragmentFinder interface {
	FindFragments(ctx context.Context, vector []float32, settings domain.Settings) ([]domain.FragmentRef, error)
}

// ContentStore reads page content and the topic/FAQ catalogs.
type ContentStore interface {
	PageText(ctx context.Context, documentID string, page int) (domain.PageContent, error)
	Topics(ctx context.Context) ([]string, error)
	FAQs(ctx context.Context) ([]string, error)
}

// AnswerGenerator synthesizes an answer grounded on records.
type AnswerGenerator interface {
	Generate(ctx context.Context, query string, records []domain.Record, opts domain.GenerationOptions) (string, error)
}
