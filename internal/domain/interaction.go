package domain

import "time"

// LogEntry is one recorded question-answering interaction.
// Immutable after creation; removed only by retention cleanup.
type LogEntry struct {
	ID             string    `json:"id"`
	Query          string    `json:"query"`
	Answer         string    `json:"answer"`
	Sources        []Record  `json:"sources"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	DocumentType   string    `json:"document_type,omitempty"`
	CallerID       string    `json:"caller_id,omitempty"`
	Endpoint       string    `json:"endpoint"`
	CreatedAt      time.Time `json:"created_at"`
}

// ListFilters narrow interaction queries. All fields are optional and
// combine with AND semantics.
type ListFilters struct {
	CallerID string
	Endpoint string
	From     time.Time
	To       time.Time
	Search   string
}

// QueryCount is one row of the top-queries breakdown.
type QueryCount struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

// EndpointCount is one row of the per-endpoint breakdown.
type EndpointCount struct {
	Endpoint string `json:"endpoint"`
	Count    int    `json:"count"`
}

// Stats are aggregate figures over the filtered interaction log,
// recomputed per request and never persisted.
type Stats struct {
	TotalQueries          int             `json:"total_queries"`
	AverageResponseTimeMs float64         `json:"average_response_time_ms"`
	TopQueries            []QueryCount    `json:"top_queries"`
	QueriesByEndpoint     []EndpointCount `json:"queries_by_endpoint"`
}
