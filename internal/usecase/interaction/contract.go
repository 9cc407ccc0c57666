package interaction

import (
	"context"
	"time"

	"github.com/kailas-cloud/lexrag/internal/domain"
)

// Store persists interaction log entries.
type Store interface {
	Insert(ctx context.Context, entry domain.LogEntry) error
	List(ctx context.Context, filters domain.ListFilters, limit, skip int) ([]domain.LogEntry, error)
	Count(ctx context.Context, filters domain.ListFilters) (int, error)
	Stats(ctx context.Context, filters domain.ListFilters) (domain.Stats, error)
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)
}
