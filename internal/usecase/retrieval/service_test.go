package retrieval

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/lexrag/internal/domain"
)

type mockEmbedder struct {
	result domain.EmbeddingResult
	err    error
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	return m.result, m.err
}

type mockFinder struct {
	refs     []domain.FragmentRef
	err      error
	settings domain.Settings
	calls    int
}

func (m *mockFinder) FindFragments(
	_ context.Context, _ []float32, settings domain.Settings,
) ([]domain.FragmentRef, error) {
	m.calls++
	m.settings = settings
	return m.refs, m.err
}

type mockContent struct {
	pages     map[string]domain.PageContent // key: "doc:page"
	pageErrs  map[string]error
	topics    []string
	faqs      []string
	topicsErr error
	faqsErr   error
}

func pageKey(doc string, page int) string {
	return fmt.Sprintf("%s:%d", doc, page)
}

func (m *mockContent) PageText(_ context.Context, doc string, page int) (domain.PageContent, error) {
	if err, ok := m.pageErrs[pageKey(doc, page)]; ok {
		return domain.PageContent{}, err
	}
	return m.pages[pageKey(doc, page)], nil
}

func (m *mockContent) Topics(_ context.Context) ([]string, error) { return m.topics, m.topicsErr }
func (m *mockContent) FAQs(_ context.Context) ([]string, error)   { return m.faqs, m.faqsErr }

type mockGenerator struct {
	text    string
	err     error
	calls   int
	records []domain.Record
	opts    domain.GenerationOptions
}

func (m *mockGenerator) Generate(
	_ context.Context, _ string, records []domain.Record, opts domain.GenerationOptions,
) (string, error) {
	m.calls++
	m.records = records
	m.opts = opts
	return m.text, m.err
}

func score(v float64) *float64 { return &v }

func testDefaults() Defaults {
	return Defaults{
		TopK:           5,
		ScoreThreshold: 0.7,
		SourcePrefix:   "kb://documents/",
		Jurisdiction:   "Colombian",
	}
}

func newTestService(
	embed *mockEmbedder, finder *mockFinder, content *mockContent, gen *mockGenerator,
) *Service {
	return New(embed, finder, content, gen, testDefaults(), zap.NewNop())
}

func TestRetrieve(t *testing.T) {
	embed := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1, 0.2}}}
	finder := &mockFinder{refs: []domain.FragmentRef{
		{DocumentID: "law.pdf", Page: 0, Score: score(0.2)},
		{DocumentID: "decree.pdf", Page: 3, Score: score(0.5)},
	}}
	content := &mockContent{pages: map[string]domain.PageContent{
		pageKey("law.pdf", 0):    {Text: "refund rules", Metadata: map[string]string{"source": "gazette"}},
		pageKey("decree.pdf", 3): {Text: "decree text"},
	}}
	svc := newTestService(embed, finder, content, &mockGenerator{})

	records, err := svc.Retrieve(context.Background(), "refund policy", domain.Settings{TopK: 5, ScoreThreshold: 0.7})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	// Finder order preserved.
	if records[0].Title != "law.pdf" || records[1].Title != "decree.pdf" {
		t.Errorf("order not preserved: %+v", records)
	}
	if records[0].Score != 0.2 {
		t.Errorf("Score = %v, want 0.2", records[0].Score)
	}
	if records[0].Metadata.Path != "kb://documents/law.pdf" {
		t.Errorf("Path = %q", records[0].Metadata.Path)
	}
	if records[0].Metadata.Extra["source"] != "gazette" {
		t.Errorf("metadata not passed through: %+v", records[0].Metadata)
	}
	if records[1].Page != 3 {
		t.Errorf("Page = %d, want 3", records[1].Page)
	}
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	svc := newTestService(&mockEmbedder{}, &mockFinder{}, &mockContent{}, &mockGenerator{})

	for _, query := range []string{"", "   "} {
		_, err := svc.Retrieve(context.Background(), query, domain.Settings{})
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("query %q: expected ErrValidation, got %v", query, err)
		}
	}
}

func TestRetrieve_DefaultsApplied(t *testing.T) {
	embed := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1}}}
	finder := &mockFinder{}
	svc := newTestService(embed, finder, &mockContent{}, &mockGenerator{})

	if _, err := svc.Retrieve(context.Background(), "q", domain.Settings{}); err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if finder.settings.TopK != 5 || finder.settings.ScoreThreshold != 0.7 {
		t.Errorf("defaults not applied: %+v", finder.settings)
	}
}

func TestRetrieve_EmbeddingFailureEscalates(t *testing.T) {
	embed := &mockEmbedder{err: domain.NewProviderError("openai", 500, errors.New("down"))}
	svc := newTestService(embed, &mockFinder{}, &mockContent{}, &mockGenerator{})

	_, err := svc.Retrieve(context.Background(), "q", domain.Settings{})
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestRetrieve_FinderFailureEscalates(t *testing.T) {
	embed := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1}}}
	finder := &mockFinder{err: domain.NewProviderError("redis-retrieval", 0, errors.New("down"))}
	svc := newTestService(embed, finder, &mockContent{}, &mockGenerator{})

	_, err := svc.Retrieve(context.Background(), "q", domain.Settings{})
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestRetrieve_EmptyEmbeddingReachesFinder(t *testing.T) {
	embed := &mockEmbedder{result: domain.EmbeddingResult{}}
	finder := &mockFinder{}
	svc := newTestService(embed, finder, &mockContent{}, &mockGenerator{})

	records, err := svc.Retrieve(context.Background(), "q", domain.Settings{})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	// The backend decides what an empty vector means; the orchestrator
	// must still call it.
	if finder.calls != 1 {
		t.Fatalf("expected finder to be called once, got %d", finder.calls)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %+v", records)
	}
}

func TestRetrieve_PartialEnrichmentFailure(t *testing.T) {
	embed := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1}}}
	finder := &mockFinder{refs: []domain.FragmentRef{
		{DocumentID: "a.pdf", Page: 0, Score: score(0.1)},
		{DocumentID: "b.pdf", Page: 0, Score: score(0.2)},
		{DocumentID: "c.pdf", Page: 0, Score: score(0.3)},
	}}
	content := &mockContent{
		pages: map[string]domain.PageContent{
			pageKey("a.pdf", 0): {Text: "text a"},
			pageKey("c.pdf", 0): {Text: "text c"},
		},
		pageErrs: map[string]error{
			pageKey("b.pdf", 0): errors.New("connection reset"),
		},
	}
	svc := newTestService(embed, finder, content, &mockGenerator{})

	records, err := svc.Retrieve(context.Background(), "q", domain.Settings{})
	if err != nil {
		t.Fatalf("one failed lookup must not fail the call: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Title != "a.pdf" || records[1].Title != "c.pdf" {
		t.Errorf("order not preserved after dropping failed fragment: %+v", records)
	}
}

func TestRetrieve_EmptyTextFragmentsDropped(t *testing.T) {
	embed := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1}}}
	finder := &mockFinder{refs: []domain.FragmentRef{
		{DocumentID: "a.pdf", Page: 0},
		{DocumentID: "b.pdf", Page: 0},
	}}
	content := &mockContent{pages: map[string]domain.PageContent{
		pageKey("a.pdf", 0): {Text: "  \n "},
		pageKey("b.pdf", 0): {Text: "real text"},
	}}
	svc := newTestService(embed, finder, content, &mockGenerator{})

	records, err := svc.Retrieve(context.Background(), "q", domain.Settings{})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(records) != 1 || records[0].Title != "b.pdf" {
		t.Errorf("expected only the non-empty fragment, got %+v", records)
	}
}

func TestRetrieve_NilScoreDefaultsToOne(t *testing.T) {
	embed := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1}}}
	finder := &mockFinder{refs: []domain.FragmentRef{{DocumentID: "a.pdf", Page: 0}}}
	content := &mockContent{pages: map[string]domain.PageContent{
		pageKey("a.pdf", 0): {Text: "text"},
	}}
	svc := newTestService(embed, finder, content, &mockGenerator{})

	records, err := svc.Retrieve(context.Background(), "q", domain.Settings{})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if records[0].Score != 1.0 {
		t.Errorf("Score = %v, want 1.0", records[0].Score)
	}
}

func TestAnswer(t *testing.T) {
	embed := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1}}}
	finder := &mockFinder{refs: []domain.FragmentRef{{DocumentID: "law.pdf", Page: 0, Score: score(0.3)}}}
	content := &mockContent{pages: map[string]domain.PageContent{
		pageKey("law.pdf", 0): {Text: "refund rules"},
	}}
	gen := &mockGenerator{text: "You are entitled to a refund."}
	svc := newTestService(embed, finder, content, gen)

	answer, err := svc.Answer(context.Background(), "refund policy", "decree")
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if answer.Text != "You are entitled to a refund." {
		t.Errorf("Text = %q", answer.Text)
	}
	if len(answer.Sources) != 1 || answer.Sources[0].Title != "law.pdf" {
		t.Errorf("Sources = %+v", answer.Sources)
	}
	if gen.opts.DocumentType != "decree" || gen.opts.Jurisdiction != "Colombian" {
		t.Errorf("generation options = %+v", gen.opts)
	}
}

func TestAnswer_NoRecordsSkipsGenerator(t *testing.T) {
	embed := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1}}}
	finder := &mockFinder{} // no refs
	gen := &mockGenerator{text: "must not be used"}
	svc := newTestService(embed, finder, &mockContent{}, gen)

	answer, err := svc.Answer(context.Background(), "unknown topic", "")
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if answer.Text != domain.NoRelevantMaterialAnswer {
		t.Errorf("Text = %q", answer.Text)
	}
	if answer.Sources == nil || len(answer.Sources) != 0 {
		t.Errorf("Sources must be empty, got %+v", answer.Sources)
	}
	if gen.calls != 0 {
		t.Errorf("generator must not be invoked, got %d calls", gen.calls)
	}
}

func TestAnswer_GeneratorFailure(t *testing.T) {
	embed := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1}}}
	finder := &mockFinder{refs: []domain.FragmentRef{{DocumentID: "law.pdf", Page: 0}}}
	content := &mockContent{pages: map[string]domain.PageContent{
		pageKey("law.pdf", 0): {Text: "text"},
	}}
	gen := &mockGenerator{err: domain.NewProviderError("generation", 502, errors.New("down"))}
	svc := newTestService(embed, finder, content, gen)

	_, err := svc.Answer(context.Background(), "q", "")
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestOptions(t *testing.T) {
	content := &mockContent{
		topics: []string{"contracts", "refunds"},
		faqs:   []string{"How do I request a refund?"},
	}
	svc := newTestService(&mockEmbedder{}, &mockFinder{}, content, &mockGenerator{})

	topics, faqs, err := svc.Options(context.Background())
	if err != nil {
		t.Fatalf("Options failed: %v", err)
	}
	if len(topics) != 2 || len(faqs) != 1 {
		t.Errorf("topics=%v faqs=%v", topics, faqs)
	}
}

func TestOptions_Failure(t *testing.T) {
	content := &mockContent{faqsErr: errors.New("down")}
	svc := newTestService(&mockEmbedder{}, &mockFinder{}, content, &mockGenerator{})

	if _, _, err := svc.Options(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
