// Package retrieval orchestrates the query pipeline: embed the question,
// find fragment references, enrich them with page content and compose the
// externally visible records, optionally synthesizing an answer.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/lexrag/internal/domain"
)

// Defaults are the configured fallbacks applied when a request leaves a
// retrieval setting unset.
type Defaults struct {
	TopK           int
	ScoreThreshold float64
	SourcePrefix   string
	Jurisdiction   string
	SystemMessage  string
	Temperature    float32
	MaxTokens      int
}

// Service runs document retrieval and question answering.
type Service struct {
	embed    Embedder
	finder   FragmentFinder
	content  ContentStore
	gen      AnswerGenerator
	defaults Defaults
	logger   *zap.Logger
}

// New creates a retrieval service.
func New(
	embed Embedder,
	finder FragmentFinder,
	content ContentStore,
	gen AnswerGenerator,
	defaults Defaults,
	logger *zap.Logger,
) *Service {
	return &Service{
		embed:    embed,
		finder:   finder,
		content:  content,
		gen:      gen,
		defaults: defaults,
		logger:   logger,
	}
}

// Retrieve finds the records relevant to query. Settings fields left at
// zero fall back to the configured defaults. A fragment whose content
// lookup fails or comes back empty is dropped, never the whole result.
func (s *Service) Retrieve(
	ctx context.Context, query string, settings domain.Settings,
) ([]domain.Record, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query must not be empty", domain.ErrValidation)
	}
	settings = s.applyDefaults(settings)
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	embResult, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vectorize query: %w", err)
	}

	refs, err := s.finder.FindFragments(ctx, embResult.Embedding, settings)
	if err != nil {
		return nil, fmt.Errorf("find fragments: %w", err)
	}
	if len(refs) == 0 {
		return []domain.Record{}, nil
	}

	fragments := s.enrich(ctx, refs)

	records := make([]domain.Record, 0, len(fragments))
	for _, f := range fragments {
		if f.Empty() {
			continue
		}
		records = append(records, s.toRecord(f))
	}
	return records, nil
}

// enrich fetches page content for every reference concurrently, preserving
// the finder's order. A failed lookup leaves an empty fragment at its slot;
// the caller filters those out.
func (s *Service) enrich(ctx context.Context, refs []domain.FragmentRef) []domain.Fragment {
	fragments := make([]domain.Fragment, len(refs))

	var wg sync.WaitGroup
	for i, ref := range refs {
		wg.Add(1)
		go func(i int, ref domain.FragmentRef) {
			defer wg.Done()
			content, err := s.content.PageText(ctx, ref.DocumentID, ref.Page)
			if err != nil {
				s.logger.Warn("Skipping fragment: content lookup failed",
					zap.String("document_id", ref.DocumentID),
					zap.Int("page", ref.Page),
					zap.Error(err),
				)
				fragments[i] = domain.Fragment{Ref: ref}
				return
			}
			fragments[i] = domain.Fragment{Ref: ref, Content: content}
		}(i, ref)
	}
	wg.Wait()

	return fragments
}

func (s *Service) toRecord(f domain.Fragment) domain.Record {
	score := 1.0
	if f.Ref.Score != nil {
		score = *f.Ref.Score
	}
	return domain.Record{
		Title:   f.Ref.DocumentID,
		Content: f.Content.Text,
		Score:   score,
		Page:    f.Ref.Page,
		Metadata: domain.RecordMetadata{
			Path:        s.defaults.SourcePrefix + f.Ref.DocumentID,
			Description: fmt.Sprintf("Page %d of %s", f.Ref.Page, f.Ref.DocumentID),
			Extra:       f.Content.Metadata,
		},
	}
}

// Answer retrieves with default settings and synthesizes an answer. When no
// record survives retrieval the generator is not invoked and a fixed
// no-material answer with empty sources is returned.
func (s *Service) Answer(ctx context.Context, query, documentType string) (domain.Answer, error) {
	records, err := s.Retrieve(ctx, query, domain.Settings{})
	if err != nil {
		return domain.Answer{}, err
	}

	if len(records) == 0 {
		s.logger.Info("No relevant documents for question", zap.String("query", query))
		return domain.Answer{Text: domain.NoRelevantMaterialAnswer, Sources: []domain.Record{}}, nil
	}

	text, err := s.gen.Generate(ctx, query, records, domain.GenerationOptions{
		Temperature:   s.defaults.Temperature,
		MaxTokens:     s.defaults.MaxTokens,
		SystemMessage: s.defaults.SystemMessage,
		Jurisdiction:  s.defaults.Jurisdiction,
		DocumentType:  documentType,
	})
	if err != nil {
		return domain.Answer{}, fmt.Errorf("generate answer: %w", err)
	}

	return domain.Answer{Text: text, Sources: records}, nil
}

// Options returns the topic and FAQ catalogs, fetched in parallel.
func (s *Service) Options(ctx context.Context) (topics, faqs []string, err error) {
	var topicsErr, faqsErr error

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		topics, topicsErr = s.content.Topics(ctx)
	}()
	go func() {
		defer wg.Done()
		faqs, faqsErr = s.content.FAQs(ctx)
	}()
	wg.Wait()

	if topicsErr != nil {
		return nil, nil, fmt.Errorf("fetch topics: %w", topicsErr)
	}
	if faqsErr != nil {
		return nil, nil, fmt.Errorf("fetch faqs: %w", faqsErr)
	}
	return topics, faqs, nil
}

func (s *Service) applyDefaults(settings domain.Settings) domain.Settings {
	if settings.TopK <= 0 {
		settings.TopK = s.defaults.TopK
	}
	if settings.ScoreThreshold == 0 {
		settings.ScoreThreshold = s.defaults.ScoreThreshold
	}
	return settings
}
