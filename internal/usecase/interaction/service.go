// Package interaction records answered calls for analytics. Writes are
// fire-and-forget: the HTTP adapter calls Record after responding, and a
// failed write never surfaces to the caller.
package interaction

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/lexrag/internal/domain"
	"github.com/kailas-cloud/lexrag/internal/metrics"
)

const (
	defaultListLimit     = 50
	defaultRetentionDays = 90
	writeTimeout         = 5 * time.Second
)

// Service records and queries question-answering interactions.
type Service struct {
	store         Store
	retentionDays int
	logger        *zap.Logger

	// wg tracks in-flight detached writes so tests and shutdown can drain.
	wg sync.WaitGroup
}

// New creates an interaction service. retentionDays is the cleanup
// default when the caller does not name a window; non-positive values
// fall back to 90 days.
func New(store Store, retentionDays int, logger *zap.Logger) *Service {
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}
	return &Service{store: store, retentionDays: retentionDays, logger: logger}
}

// Record queues one entry for persistence and returns immediately. Entries
// without a query, or with neither answer text nor sources, are skipped.
// The write runs on a background context so a canceled request cannot
// abort it.
func (s *Service) Record(entry domain.LogEntry) {
	if strings.TrimSpace(entry.Query) == "" || (entry.Answer == "" && len(entry.Sources) == 0) {
		metrics.InteractionWritesTotal.WithLabelValues("skipped").Inc()
		return
	}

	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now().UTC()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		if err := s.store.Insert(ctx, entry); err != nil {
			metrics.InteractionWritesTotal.WithLabelValues("error").Inc()
			s.logger.Error("Failed to record interaction",
				zap.String("endpoint", entry.Endpoint), zap.Error(err))
			return
		}
		metrics.InteractionWritesTotal.WithLabelValues("ok").Inc()
	}()
}

// Wait blocks until all queued writes have finished. Used on shutdown.
func (s *Service) Wait() {
	s.wg.Wait()
}

// List returns log entries matching the filters, newest first.
// A non-positive limit falls back to the default page size.
func (s *Service) List(
	ctx context.Context, filters domain.ListFilters, limit, skip int,
) ([]domain.LogEntry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if skip < 0 {
		skip = 0
	}
	return s.store.List(ctx, filters, limit, skip)
}

// Count returns the number of entries matching the filters.
func (s *Service) Count(ctx context.Context, filters domain.ListFilters) (int, error) {
	return s.store.Count(ctx, filters)
}

// Stats aggregates the filtered log.
func (s *Service) Stats(ctx context.Context, filters domain.ListFilters) (domain.Stats, error) {
	return s.store.Stats(ctx, filters)
}

// Cleanup deletes entries strictly older than olderThanDays, falling
// back to the configured retention window, and returns the number removed.
func (s *Service) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		olderThanDays = s.retentionDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)

	deleted, err := s.store.Cleanup(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("Interaction log cleaned up",
			zap.Int64("deleted", deleted), zap.Int("older_than_days", olderThanDays))
	}
	return deleted, nil
}
