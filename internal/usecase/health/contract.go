package health

import "context"

// DBPinger checks retrieval backend availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// ContentChecker checks content backend availability via a cheap read.
type ContentChecker interface {
	Topics(ctx context.Context) ([]string, error)
}

// LogPinger checks interaction log store availability.
type LogPinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}
