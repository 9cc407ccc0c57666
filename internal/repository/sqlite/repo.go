package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/kailas-cloud/lexrag/internal/domain"
)

// Repo implements both the content store and the fragment finder on sqlite.
//
// Unlike the Redis backend, scores are cosine similarities: higher is better,
// and the configured threshold is a floor.
type Repo struct {
	db     *sql.DB
	logger *zap.Logger
}

// New creates a sqlite-backed content store and fragment finder.
func New(db *sql.DB, logger *zap.Logger) *Repo {
	return &Repo{db: db, logger: logger}
}

// PageText returns one page's text and metadata. Missing rows yield empty
// text, not an error.
func (r *Repo) PageText(ctx context.Context, documentID string, page int) (domain.PageContent, error) {
	var content, metadataJSON string
	err := r.db.QueryRowContext(ctx,
		`SELECT content, metadata FROM document_pages WHERE document_id = ? AND page = ?`,
		documentID, page,
	).Scan(&content, &metadataJSON)
	if errors.Is(err, sql.ErrNoRows) {
		r.logger.Warn("Document page not found",
			zap.String("document_id", documentID), zap.Int("page", page))
		return domain.PageContent{}, nil
	}
	if err != nil {
		return domain.PageContent{}, domain.NewProviderError("sqlite-content", 0, err)
	}

	var metadata map[string]string
	if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
		r.logger.Warn("Unparsable page metadata",
			zap.String("document_id", documentID), zap.Error(err))
		metadata = nil
	}

	return domain.PageContent{Text: content, Metadata: metadata}, nil
}

// Topics returns the topic catalog.
func (r *Repo) Topics(ctx context.Context) ([]string, error) {
	return r.selectStrings(ctx, `SELECT name FROM topics ORDER BY name`)
}

// FAQs returns the FAQ catalog.
func (r *Repo) FAQs(ctx context.Context) ([]string, error) {
	return r.selectStrings(ctx, `SELECT question FROM faqs ORDER BY question`)
}

func (r *Repo) selectStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, domain.NewProviderError("sqlite-content", 0, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, domain.NewProviderError("sqlite-content", 0, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewProviderError("sqlite-content", 0, err)
	}
	return out, nil
}

// FindFragments scans all stored page embeddings and ranks them by cosine
// similarity, keeping only those at or above the threshold, best-first.
// Brute force is fine at knowledge-base scale; index internals are the
// Redis backend's business.
func (r *Repo) FindFragments(
	ctx context.Context, vector []float32, settings domain.Settings,
) ([]domain.FragmentRef, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT document_id, page, embedding FROM document_pages WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, domain.NewProviderError("sqlite-retrieval", 0, err)
	}
	defer rows.Close()

	type scored struct {
		ref   domain.FragmentRef
		order int
	}
	var candidates []scored

	order := 0
	for rows.Next() {
		var documentID string
		var page int
		var blob []byte
		if err := rows.Scan(&documentID, &page, &blob); err != nil {
			return nil, domain.NewProviderError("sqlite-retrieval", 0, err)
		}

		stored, err := bytesToVector(blob)
		if err != nil {
			r.logger.Warn("Skipping page with invalid embedding blob",
				zap.String("document_id", documentID), zap.Int("page", page), zap.Error(err))
			continue
		}

		sim, ok := cosineSimilarity(vector, stored)
		if !ok {
			continue
		}
		// Cosine similarity: keep only hits at or above the threshold.
		if sim < settings.ScoreThreshold {
			continue
		}

		score := sim
		candidates = append(candidates, scored{
			ref:   domain.FragmentRef{DocumentID: documentID, Page: page, Score: &score},
			order: order,
		})
		order++
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewProviderError("sqlite-retrieval", 0, err)
	}

	// Best-first: descending similarity, stable for equal scores.
	sort.SliceStable(candidates, func(i, j int) bool {
		return *candidates[i].ref.Score > *candidates[j].ref.Score
	})

	if len(candidates) > settings.TopK {
		candidates = candidates[:settings.TopK]
	}

	refs := make([]domain.FragmentRef, len(candidates))
	for i, c := range candidates {
		refs[i] = c.ref
	}
	return refs, nil
}

// UpsertPage stores a page with its content, metadata and embedding.
// Used by ingestion tooling and tests.
func (r *Repo) UpsertPage(
	ctx context.Context, documentID string, page int,
	content string, metadata map[string]string, embedding []float32,
) error {
	metadataJSON := "{}"
	if len(metadata) > 0 {
		data, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal page metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	var blob []byte
	if len(embedding) > 0 {
		blob = vectorToBytes(embedding)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO document_pages (document_id, page, content, metadata, embedding)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (document_id, page) DO UPDATE
		 SET content = excluded.content, metadata = excluded.metadata, embedding = excluded.embedding`,
		documentID, page, content, metadataJSON, blob,
	)
	if err != nil {
		return fmt.Errorf("upsert page %s:%d: %w", documentID, page, err)
	}
	return nil
}

func cosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
