package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	db        DBPinger
	content   ContentChecker
	log       LogPinger
	embedding EmbeddingChecker
}

// New creates a Service. Any component can be nil; its check is skipped.
func New(db DBPinger, content ContentChecker, log LogPinger, embedding EmbeddingChecker) *Service {
	return &Service{db: db, content: content, log: log, embedding: embedding}
}

// Check runs health checks against all configured components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	if s.db != nil {
		checks["database"] = resultOf(s.db.Ping(ctx))
	}
	if s.content != nil {
		_, err := s.content.Topics(ctx)
		checks["content"] = resultOf(err)
	}
	if s.log != nil {
		checks["interaction_log"] = resultOf(s.log.Ping(ctx))
	}
	if s.embedding != nil {
		checks["embedding"] = resultOf(s.embedding.HealthCheck(ctx))
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}

	return Report{Status: status, Checks: checks}
}

func resultOf(err error) CheckResult {
	if err != nil {
		return CheckError
	}
	return CheckOK
}
