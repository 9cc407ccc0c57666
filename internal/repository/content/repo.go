// Package content implements the document content store over Redis.
//
// Documents live at document:<id> as JSON with a pages array and optional
// metadata. Topic and FAQ catalogs are spread over topics:* and questions:*
// keys and deduplicated on read.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/kailas-cloud/lexrag/internal/db"
	"github.com/kailas-cloud/lexrag/internal/domain"
)

const documentKeyPrefix = "document:"

// store is the consumer interface for content lookups (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	MGet(ctx context.Context, keys []string) ([][]byte, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Repo reads document pages and topic/FAQ catalogs from Redis.
type Repo struct {
	store  store
	logger *zap.Logger
}

// New creates a Redis-backed content store.
func New(store store, logger *zap.Logger) *Repo {
	return &Repo{store: store, logger: logger}
}

// storedDocument is the JSON layout of a document value.
type storedDocument struct {
	Pages    []string          `json:"pages"`
	Metadata map[string]string `json:"metadata"`
}

// PageText returns the text of one document page. A missing document, an
// invalid payload, or an out-of-range page yields empty text, not an error:
// partial retrieval must never fail the whole query.
func (r *Repo) PageText(ctx context.Context, documentID string, page int) (domain.PageContent, error) {
	data, err := r.store.Get(ctx, documentKeyPrefix+documentID)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			r.logger.Warn("Document not found", zap.String("document_id", documentID))
			return domain.PageContent{}, nil
		}
		return domain.PageContent{}, domain.NewProviderError("redis-content", 0, err)
	}

	var doc storedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		r.logger.Warn("Document payload is not valid JSON",
			zap.String("document_id", documentID), zap.Error(err))
		return domain.PageContent{}, nil
	}

	if page < 0 || page >= len(doc.Pages) {
		r.logger.Warn("Page out of range",
			zap.String("document_id", documentID),
			zap.Int("page", page),
			zap.Int("pages", len(doc.Pages)),
		)
		return domain.PageContent{Metadata: doc.Metadata}, nil
	}

	return domain.PageContent{Text: doc.Pages[page], Metadata: doc.Metadata}, nil
}

// Topics returns the deduplicated topic catalog across all topics:* keys.
func (r *Repo) Topics(ctx context.Context) ([]string, error) {
	return r.scanAndCollect(ctx, "topics:*", func(value []byte) ([]string, error) {
		var parsed struct {
			Topics []string `json:"topics"`
		}
		if err := json.Unmarshal(value, &parsed); err != nil {
			return nil, fmt.Errorf("parse topics value: %w", err)
		}
		return parsed.Topics, nil
	})
}

// FAQs returns the deduplicated FAQ catalog across all questions:* keys.
func (r *Repo) FAQs(ctx context.Context) ([]string, error) {
	return r.scanAndCollect(ctx, "questions:*", func(value []byte) ([]string, error) {
		var parsed struct {
			Questions []string `json:"questions"`
		}
		if err := json.Unmarshal(value, &parsed); err != nil {
			return nil, fmt.Errorf("parse questions value: %w", err)
		}
		return parsed.Questions, nil
	})
}

// scanAndCollect scans keys by pattern, fetches them in one MGET and merges
// the extracted items into a sorted, deduplicated list.
func (r *Repo) scanAndCollect(
	ctx context.Context, pattern string, extract func([]byte) ([]string, error),
) ([]string, error) {
	keys, err := r.store.Scan(ctx, pattern)
	if err != nil {
		return nil, domain.NewProviderError("redis-content", 0, err)
	}
	if len(keys) == 0 {
		return []string{}, nil
	}

	values, err := r.store.MGet(ctx, keys)
	if err != nil {
		return nil, domain.NewProviderError("redis-content", 0, err)
	}

	unique := make(map[string]struct{})
	for i, value := range values {
		if value == nil {
			continue
		}
		items, err := extract(value)
		if err != nil {
			r.logger.Warn("Skipping unparsable catalog value",
				zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		for _, item := range items {
			if item != "" {
				unique[item] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(unique))
	for item := range unique {
		out = append(out, item)
	}
	sort.Strings(out)
	return out, nil
}
