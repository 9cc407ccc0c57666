// Package vector implements fragment retrieval over a Redis vector index.
package vector

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/kailas-cloud/lexrag/internal/db"
	"github.com/kailas-cloud/lexrag/internal/domain"
)

// searcher is the consumer interface for KNN search (ISP).
type searcher interface {
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
}

// Repo finds document fragments via FT.SEARCH KNN.
//
// Scores are cosine distances: lower is better, and the configured threshold
// is a ceiling. Candidates above it are filtered out here, before the
// orchestrator sees them.
type Repo struct {
	store     searcher
	indexName string
	logger    *zap.Logger
}

// New creates a Redis-backed fragment finder.
func New(store searcher, indexName string, logger *zap.Logger) *Repo {
	return &Repo{store: store, indexName: indexName, logger: logger}
}

// FindFragments runs a KNN search and returns refs ordered best-first
// (ascending distance), already filtered by the score threshold.
func (r *Repo) FindFragments(
	ctx context.Context, vector []float32, settings domain.Settings,
) ([]domain.FragmentRef, error) {
	res, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.indexName,
		Vector:       vector,
		K:            settings.TopK,
		ReturnFields: []string{"filename", "page"},
	})
	if err != nil {
		return nil, domain.NewProviderError("redis-retrieval", 0, err)
	}

	refs := make([]domain.FragmentRef, 0, len(res.Hits))
	for _, hit := range res.Hits {
		filename, ok := hit.Fields["filename"]
		if !ok || filename == "" {
			r.logger.Warn("Skipping search hit without filename", zap.String("key", hit.ID))
			continue
		}

		// Cosine distance: keep only hits at or below the threshold.
		if hit.Score > settings.ScoreThreshold {
			continue
		}

		page := 0
		if pageStr, ok := hit.Fields["page"]; ok {
			if v, err := strconv.Atoi(pageStr); err == nil {
				page = v
			} else {
				r.logger.Warn("Skipping search hit with unparsable page",
					zap.String("key", hit.ID), zap.String("page", pageStr))
				continue
			}
		}

		score := hit.Score
		refs = append(refs, domain.FragmentRef{
			DocumentID: filename,
			Page:       page,
			Score:      &score,
		})
	}

	r.logger.Debug("Vector search completed",
		zap.Int("hits", len(res.Hits)),
		zap.Int("after_threshold", len(refs)),
		zap.Float64("threshold", settings.ScoreThreshold),
	)

	return refs, nil
}
