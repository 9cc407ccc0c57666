package chi

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/kailas-cloud/lexrag/internal/domain"
	healthuc "github.com/kailas-cloud/lexrag/internal/usecase/health"
)

// retrievalSetting mirrors the Dify external-knowledge retrieval settings.
type retrievalSetting struct {
	TopK           int     `json:"top_k"`
	ScoreThreshold float64 `json:"score_threshold"`
}

// retrieveRequest is the Dify-compatible POST /retrieval body. knowledge_id
// is accepted for compatibility and not used beyond presence.
type retrieveRequest struct {
	Query            string           `json:"query"`
	KnowledgeID      string           `json:"knowledge_id"`
	RetrievalSetting retrievalSetting `json:"retrieval_setting"`
}

type retrieveResponse struct {
	Records []domain.Record `json:"records"`
}

type queryRequest struct {
	Query        string `json:"query"`
	DocumentType string `json:"documentType"`
}

type optionsResponse struct {
	Topics    []string `json:"topics"`
	Questions []string `json:"questions"`
}

type pagination struct {
	Limit int `json:"limit"`
	Skip  int `json:"skip"`
	Total int `json:"total"`
}

type recordsResponse struct {
	Records    []domain.LogEntry `json:"records"`
	Pagination pagination        `json:"pagination"`
}

type cleanupResponse struct {
	DeletedCount int64 `json:"deleted_count"`
}

type healthResponse struct {
	Status string                          `json:"status"`
	Checks map[string]healthuc.CheckResult `json:"checks"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// analyticsQuery holds the parsed filter/paging parameters of the
// analytics endpoints.
type analyticsQuery struct {
	filters domain.ListFilters
	limit   int
	skip    int
}

func parseAnalyticsQuery(values url.Values) (analyticsQuery, error) {
	q := analyticsQuery{
		filters: domain.ListFilters{
			CallerID: values.Get("caller_id"),
			Endpoint: values.Get("endpoint"),
			Search:   values.Get("search"),
		},
	}

	var err error
	if q.limit, err = parseIntParam(values, "limit"); err != nil {
		return analyticsQuery{}, err
	}
	if q.skip, err = parseIntParam(values, "skip"); err != nil {
		return analyticsQuery{}, err
	}
	if q.filters.From, err = parseTimeParam(values, "date_from"); err != nil {
		return analyticsQuery{}, err
	}
	if q.filters.To, err = parseTimeParam(values, "date_to"); err != nil {
		return analyticsQuery{}, err
	}
	return q, nil
}

func parseIntParam(values url.Values, name string) (int, error) {
	raw := values.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func parseTimeParam(values url.Values, name string) (time.Time, error) {
	raw := values.Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
	}
	return t, nil
}
