package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	chi "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kailas-cloud/lexrag/internal/cache"
	"github.com/kailas-cloud/lexrag/internal/domain"
	healthuc "github.com/kailas-cloud/lexrag/internal/usecase/health"
	interactionuc "github.com/kailas-cloud/lexrag/internal/usecase/interaction"
	retrievaluc "github.com/kailas-cloud/lexrag/internal/usecase/retrieval"
)

// --- Pipeline mocks ---

type stubEmbedder struct {
	err error
}

func (s *stubEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	if s.err != nil {
		return domain.EmbeddingResult{}, s.err
	}
	return domain.EmbeddingResult{Embedding: []float32{0.1, 0.2}}, nil
}

type stubFinder struct {
	refs  []domain.FragmentRef
	calls int
}

func (s *stubFinder) FindFragments(
	_ context.Context, _ []float32, _ domain.Settings,
) ([]domain.FragmentRef, error) {
	s.calls++
	return s.refs, nil
}

type stubContent struct {
	pages  map[string]string
	topics []string
	faqs   []string
}

func (s *stubContent) PageText(_ context.Context, doc string, _ int) (domain.PageContent, error) {
	return domain.PageContent{Text: s.pages[doc]}, nil
}
func (s *stubContent) Topics(_ context.Context) ([]string, error) { return s.topics, nil }
func (s *stubContent) FAQs(_ context.Context) ([]string, error)   { return s.faqs, nil }

type stubGenerator struct {
	text string
}

func (s *stubGenerator) Generate(
	_ context.Context, _ string, _ []domain.Record, _ domain.GenerationOptions,
) (string, error) {
	return s.text, nil
}

type stubLogStore struct {
	mu      sync.Mutex
	entries []domain.LogEntry
	deleted int64
}

func (s *stubLogStore) Insert(_ context.Context, entry domain.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubLogStore) List(
	_ context.Context, _ domain.ListFilters, _, _ int,
) ([]domain.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.LogEntry(nil), s.entries...), nil
}

func (s *stubLogStore) Count(_ context.Context, _ domain.ListFilters) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

func (s *stubLogStore) Stats(_ context.Context, _ domain.ListFilters) (domain.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Stats{TotalQueries: len(s.entries)}, nil
}

func (s *stubLogStore) Cleanup(_ context.Context, _ time.Time) (int64, error) {
	return s.deleted, nil
}

func (s *stubLogStore) all() []domain.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.LogEntry(nil), s.entries...)
}

type stubPinger struct{ err error }

func (s *stubPinger) Ping(_ context.Context) error { return s.err }

// --- Fixture ---

type fixture struct {
	router    *chi.Mux
	finder    *stubFinder
	logStore  *stubLogStore
	recorder  *interactionuc.Service
	respCache *cache.ResponseCache
}

func score(v float64) *float64 { return &v }

func newFixture(t *testing.T, withCache bool) *fixture {
	t.Helper()

	finder := &stubFinder{refs: []domain.FragmentRef{
		{DocumentID: "law.pdf", Page: 0, Score: score(0.2)},
	}}
	content := &stubContent{
		pages:  map[string]string{"law.pdf": "refund rules text"},
		topics: []string{"refunds"},
		faqs:   []string{"How do I request a refund?"},
	}

	retrievalSvc := retrievaluc.New(
		&stubEmbedder{}, finder, content, &stubGenerator{text: "You may request a refund."},
		retrievaluc.Defaults{TopK: 5, ScoreThreshold: 0.7, SourcePrefix: "kb://documents/"},
		zap.NewNop(),
	)

	logStore := &stubLogStore{deleted: 2}
	recorder := interactionuc.New(logStore, 0, zap.NewNop())

	healthSvc := healthuc.New(&stubPinger{}, content, &stubPinger{}, nil)

	server := NewServer(retrievalSvc, recorder, healthSvc, zap.NewNop())

	f := &fixture{finder: finder, logStore: logStore, recorder: recorder}

	var cacheMW func(http.Handler) http.Handler
	if withCache {
		f.respCache = cache.New(16, time.Minute)
		cacheMW = CacheMiddleware(f.respCache)
	}

	f.router = chi.NewRouter()
	server.Routes(f.router, cacheMW)
	return f
}

func doRequest(f *fixture, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

// --- Tests ---

func TestRetrieve(t *testing.T) {
	f := newFixture(t, false)

	rr := doRequest(f, "POST", "/retrieval",
		`{"query": "refund policy", "knowledge_id": "kb-1", "retrieval_setting": {"top_k": 5, "score_threshold": 0.7}}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp retrieveResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Records) != 1 || resp.Records[0].Title != "law.pdf" {
		t.Errorf("records = %+v", resp.Records)
	}

	f.recorder.Wait()
	entries := f.logStore.all()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if entries[0].Endpoint != endpointRetrieve {
		t.Errorf("endpoint = %q", entries[0].Endpoint)
	}
	if entries[0].Answer != "retrieved 1 documents" {
		t.Errorf("synthesized answer = %q", entries[0].Answer)
	}
}

func TestRetrieve_InvalidBody(t *testing.T) {
	f := newFixture(t, false)

	rr := doRequest(f, "POST", "/retrieval", `{not json`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	f := newFixture(t, false)

	rr := doRequest(f, "POST", "/retrieval", `{"query": ""}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}

	var errResp errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Code != "validation_failed" {
		t.Errorf("code = %q", errResp.Code)
	}

	f.recorder.Wait()
	if len(f.logStore.all()) != 0 {
		t.Error("failed requests must not be recorded")
	}
}

func TestQuery(t *testing.T) {
	f := newFixture(t, false)

	rr := doRequest(f, "POST", "/retrieval/query", `{"query": "refund policy", "documentType": "decree"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp domain.Answer
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Text != "You may request a refund." {
		t.Errorf("answer = %q", resp.Text)
	}
	if len(resp.Sources) != 1 {
		t.Errorf("sources = %+v", resp.Sources)
	}

	f.recorder.Wait()
	entries := f.logStore.all()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if entries[0].Endpoint != endpointQuery || entries[0].DocumentType != "decree" {
		t.Errorf("entry = %+v", entries[0])
	}
}

func TestQuery_NoRelevantMaterial(t *testing.T) {
	f := newFixture(t, false)
	f.finder.refs = nil

	rr := doRequest(f, "POST", "/retrieval/query", `{"query": "unrelated topic"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var resp domain.Answer
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Text != domain.NoRelevantMaterialAnswer {
		t.Errorf("answer = %q", resp.Text)
	}
	if len(resp.Sources) != 0 {
		t.Errorf("sources must be empty, got %+v", resp.Sources)
	}

	// The fixed no-material answer still counts as an answered call.
	f.recorder.Wait()
	if len(f.logStore.all()) != 1 {
		t.Error("expected the no-material answer to be recorded")
	}
}

func TestQuery_ProviderFailure(t *testing.T) {
	f := newFixture(t, false)
	rr := httptest.NewRecorder()

	retrievalSvc := retrievaluc.New(
		&stubEmbedder{err: domain.NewProviderError("openai", 500, context.DeadlineExceeded)},
		f.finder, &stubContent{}, &stubGenerator{},
		retrievaluc.Defaults{TopK: 5}, zap.NewNop(),
	)
	server := NewServer(retrievalSvc, f.recorder, healthuc.New(&stubPinger{}, nil, nil, nil), zap.NewNop())
	router := chi.NewRouter()
	server.Routes(router, nil)

	req := httptest.NewRequest("POST", "/retrieval/query", strings.NewReader(`{"query": "q"}`))
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rr.Code)
	}
	var errResp errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Code != "provider_error" {
		t.Errorf("code = %q", errResp.Code)
	}
}

func TestOptions(t *testing.T) {
	f := newFixture(t, false)

	rr := doRequest(f, "GET", "/retrieval/topics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var resp optionsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Topics) != 1 || len(resp.Questions) != 1 {
		t.Errorf("response = %+v", resp)
	}
}

func TestRecords(t *testing.T) {
	f := newFixture(t, false)
	f.logStore.entries = []domain.LogEntry{{ID: "1", Query: "q", Answer: "a"}}

	rr := doRequest(f, "GET", "/analytics/qa/records?limit=10&skip=0", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var resp recordsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Records) != 1 {
		t.Errorf("records = %+v", resp.Records)
	}
	if resp.Pagination.Limit != 10 || resp.Pagination.Total != 1 {
		t.Errorf("pagination = %+v", resp.Pagination)
	}
}

func TestRecords_BadDateFilter(t *testing.T) {
	f := newFixture(t, false)

	rr := doRequest(f, "GET", "/analytics/qa/records?date_from=notadate", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t, false)
	f.logStore.entries = []domain.LogEntry{{ID: "1"}, {ID: "2"}}

	rr := doRequest(f, "GET", "/analytics/qa/stats", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var resp domain.Stats
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TotalQueries != 2 {
		t.Errorf("TotalQueries = %d", resp.TotalQueries)
	}
}

func TestCleanup(t *testing.T) {
	f := newFixture(t, false)

	rr := doRequest(f, "GET", "/analytics/qa/cleanup?older_than_days=30", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var resp cleanupResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.DeletedCount != 2 {
		t.Errorf("DeletedCount = %d", resp.DeletedCount)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)

	rr := doRequest(f, "GET", "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var resp healthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q", resp.Status)
	}
}

func TestHealth_Degraded(t *testing.T) {
	server := NewServer(nil, nil,
		healthuc.New(&stubPinger{err: context.DeadlineExceeded}, nil, nil, nil), zap.NewNop())
	router := chi.NewRouter()
	router.Get("/health", server.HealthCheck)

	req := httptest.NewRequest("GET", "/health", http.NoBody)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
}

func TestCacheMiddleware_HitSkipsPipeline(t *testing.T) {
	f := newFixture(t, true)
	body := `{"query": "refund policy", "retrieval_setting": {"top_k": 5, "score_threshold": 0.7}}`

	first := doRequest(f, "POST", "/retrieval", body)
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d", first.Code)
	}
	second := doRequest(f, "POST", "/retrieval", body)
	if second.Code != http.StatusOK {
		t.Fatalf("second status = %d", second.Code)
	}

	if first.Body.String() != second.Body.String() {
		t.Error("cached response must be byte-identical")
	}
	if f.finder.calls != 1 {
		t.Errorf("finder calls = %d, want 1 (hit must not reach the pipeline)", f.finder.calls)
	}

	f.recorder.Wait()
	if got := len(f.logStore.all()); got != 1 {
		t.Errorf("log writes = %d, want 1 (hit must not be recorded)", got)
	}
}

func TestCacheMiddleware_DifferentBodiesMiss(t *testing.T) {
	f := newFixture(t, true)

	doRequest(f, "POST", "/retrieval", `{"query": "refund policy"}`)
	doRequest(f, "POST", "/retrieval", `{"query": "labor code"}`)

	if f.finder.calls != 2 {
		t.Errorf("finder calls = %d, want 2", f.finder.calls)
	}
}

func TestCacheMiddleware_ErrorsNotCached(t *testing.T) {
	f := newFixture(t, true)

	first := doRequest(f, "POST", "/retrieval", `{"query": ""}`)
	if first.Code != http.StatusBadRequest {
		t.Fatalf("first status = %d", first.Code)
	}
	if f.respCache.Len() != 0 {
		t.Error("non-200 responses must not be cached")
	}
}

func TestCacheMiddleware_LargeBodyBypassesCache(t *testing.T) {
	respCache := cache.New(8, time.Minute)

	var received int
	handler := CacheMiddleware(respCache)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		received = len(b)
		w.WriteHeader(http.StatusOK)
	}))

	payload := bytes.Repeat([]byte("a"), maxCacheableBody+100)
	req := httptest.NewRequest("POST", "/retrieval", bytes.NewReader(payload))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if received != len(payload) {
		t.Fatalf("handler received %d bytes, want %d", received, len(payload))
	}
	if respCache.Len() != 0 {
		t.Error("oversized requests must not be cached")
	}
}
