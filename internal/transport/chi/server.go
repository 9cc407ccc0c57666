// Package chi exposes the retrieval pipeline over HTTP.
package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/lexrag/internal/domain"
	logpkg "github.com/kailas-cloud/lexrag/internal/logger"
	healthuc "github.com/kailas-cloud/lexrag/internal/usecase/health"
	interactionuc "github.com/kailas-cloud/lexrag/internal/usecase/interaction"
	retrievaluc "github.com/kailas-cloud/lexrag/internal/usecase/retrieval"
)

const (
	endpointRetrieve = "retrieval/retrieve"
	endpointQuery    = "retrieval/query"

	callerIDHeader = "X-User-ID"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server routes HTTP requests to the retrieval and analytics services.
type Server struct {
	retrieval     *retrievaluc.Service
	analytics     *interactionuc.Service
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	retrieval *retrievaluc.Service,
	analytics *interactionuc.Service,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	s := &Server{
		retrieval: retrieval,
		analytics: analytics,
		health:    health,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrValidation, http.StatusBadRequest, "validation_failed"),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, "not_found"),
		sentinelHandler(domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"),
		sentinelHandler(domain.ErrProviderUnavailable, http.StatusBadGateway, "provider_error"),
	}
	return s
}

// Routes mounts all endpoints on r. cacheMiddleware, when non-nil, wraps
// only the retrieval routes; a cache hit replays the stored response and
// never reaches the handler, so no interaction is recorded for it.
func (s *Server) Routes(r chi.Router, cacheMiddleware func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		if cacheMiddleware != nil {
			r.Use(cacheMiddleware)
		}
		r.Post("/retrieval", s.Retrieve)
		r.Post("/retrieval/query", s.Query)
		r.Get("/retrieval/topics", s.Options)
	})

	r.Route("/analytics/qa", func(r chi.Router) {
		r.Get("/records", s.Records)
		r.Get("/stats", s.Stats)
		r.Get("/cleanup", s.Cleanup)
	})

	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
}

// Retrieve handles POST /retrieval (Dify external knowledge API shape).
func (s *Server) Retrieve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	records, err := s.retrieval.Retrieve(r.Context(), req.Query, domain.Settings{
		TopK:           req.RetrievalSetting.TopK,
		ScoreThreshold: req.RetrievalSetting.ScoreThreshold,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, retrieveResponse{Records: records})

	s.analytics.Record(domain.LogEntry{
		Query:          req.Query,
		Answer:         fmt.Sprintf("retrieved %d documents", len(records)),
		Sources:        records,
		ResponseTimeMs: time.Since(start).Milliseconds(),
		CallerID:       r.Header.Get(callerIDHeader),
		Endpoint:       endpointRetrieve,
	})
}

// Query handles POST /retrieval/query: retrieval plus answer synthesis.
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	answer, err := s.retrieval.Answer(r.Context(), req.Query, req.DocumentType)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, answer)

	s.analytics.Record(domain.LogEntry{
		Query:          req.Query,
		Answer:         answer.Text,
		Sources:        answer.Sources,
		ResponseTimeMs: time.Since(start).Milliseconds(),
		DocumentType:   req.DocumentType,
		CallerID:       r.Header.Get(callerIDHeader),
		Endpoint:       endpointQuery,
	})
}

// Options handles GET /retrieval/topics.
func (s *Server) Options(w http.ResponseWriter, r *http.Request) {
	topics, faqs, err := s.retrieval.Options(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, optionsResponse{Topics: topics, Questions: faqs})
}

// Records handles GET /analytics/qa/records.
func (s *Server) Records(w http.ResponseWriter, r *http.Request) {
	q, err := parseAnalyticsQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	entries, err := s.analytics.List(r.Context(), q.filters, q.limit, q.skip)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	total, err := s.analytics.Count(r.Context(), q.filters)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	limit := q.limit
	if limit <= 0 {
		limit = 50
	}
	skip := q.skip
	if skip < 0 {
		skip = 0
	}

	writeJSON(w, http.StatusOK, recordsResponse{
		Records:    entries,
		Pagination: pagination{Limit: limit, Skip: skip, Total: total},
	})
}

// Stats handles GET /analytics/qa/stats.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	q, err := parseAnalyticsQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	stats, err := s.analytics.Stats(r.Context(), q.filters)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// Cleanup handles GET /analytics/qa/cleanup.
func (s *Server) Cleanup(w http.ResponseWriter, r *http.Request) {
	olderThanDays, err := parseIntParam(r.URL.Query(), "older_than_days")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	deleted, err := s.analytics.Cleanup(r.Context(), olderThanDays)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, cleanupResponse{DeletedCount: deleted})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{
		Status: string(report.Status),
		Checks: report.Checks,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrValidation,
		domain.ErrNotFound,
		domain.ErrUnauthorized,
		domain.ErrProviderUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	logpkg.FromContext(r.Context()).Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
