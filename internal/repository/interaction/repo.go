// Package interaction persists the question-answering log in sqlite and
// serves the analytics queries over it.
package interaction

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/lexrag/internal/domain"
)

// Repo stores interaction log entries.
type Repo struct {
	db     *sql.DB
	logger *zap.Logger
}

// New creates the interaction log store and runs its migration.
func New(db *sql.DB, logger *zap.Logger) (*Repo, error) {
	const schema = `
	CREATE TABLE IF NOT EXISTS qa_interactions (
		id               TEXT PRIMARY KEY,
		query            TEXT NOT NULL,
		answer           TEXT NOT NULL,
		sources          TEXT NOT NULL DEFAULT '[]',
		response_time_ms INTEGER NOT NULL DEFAULT 0,
		document_type    TEXT NOT NULL DEFAULT '',
		caller_id        TEXT NOT NULL DEFAULT '',
		endpoint         TEXT NOT NULL DEFAULT '',
		created_at       INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_qa_interactions_created_at
		ON qa_interactions (created_at);`

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate interaction schema: %w", err)
	}
	return &Repo{db: db, logger: logger}, nil
}

// Insert persists one log entry.
func (r *Repo) Insert(ctx context.Context, entry domain.LogEntry) error {
	sources := "[]"
	if len(entry.Sources) > 0 {
		data, err := json.Marshal(entry.Sources)
		if err != nil {
			return fmt.Errorf("marshal interaction sources: %w", err)
		}
		sources = string(data)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO qa_interactions
		 (id, query, answer, sources, response_time_ms, document_type, caller_id, endpoint, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Query, entry.Answer, sources, entry.ResponseTimeMs,
		entry.DocumentType, entry.CallerID, entry.Endpoint, entry.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert interaction %s: %w", entry.ID, err)
	}
	return nil
}

// List returns entries matching the filters, newest first.
func (r *Repo) List(ctx context.Context, filters domain.ListFilters, limit, skip int) ([]domain.LogEntry, error) {
	where, args := buildWhere(filters)

	query := `SELECT id, query, answer, sources, response_time_ms,
		document_type, caller_id, endpoint, created_at
		FROM qa_interactions` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, skip)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	defer rows.Close()

	entries := []domain.LogEntry{}
	for rows.Next() {
		var e domain.LogEntry
		var sources string
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.Query, &e.Answer, &sources, &e.ResponseTimeMs,
			&e.DocumentType, &e.CallerID, &e.Endpoint, &createdAt); err != nil {
			return nil, fmt.Errorf("scan interaction row: %w", err)
		}
		if err := json.Unmarshal([]byte(sources), &e.Sources); err != nil {
			r.logger.Warn("Unparsable interaction sources", zap.String("id", e.ID), zap.Error(err))
			e.Sources = nil
		}
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	return entries, nil
}

// Count returns the number of entries matching the filters.
func (r *Repo) Count(ctx context.Context, filters domain.ListFilters) (int, error) {
	where, args := buildWhere(filters)

	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM qa_interactions`+where, args...,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count interactions: %w", err)
	}
	return total, nil
}

// Stats aggregates the filtered log: total count, average response time,
// the ten most frequent queries and a per-endpoint breakdown.
func (r *Repo) Stats(ctx context.Context, filters domain.ListFilters) (domain.Stats, error) {
	where, args := buildWhere(filters)
	stats := domain.Stats{
		TopQueries:        []domain.QueryCount{},
		QueriesByEndpoint: []domain.EndpointCount{},
	}

	var avg sql.NullFloat64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), AVG(response_time_ms) FROM qa_interactions`+where, args...,
	).Scan(&stats.TotalQueries, &avg)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("aggregate interactions: %w", err)
	}
	if avg.Valid {
		stats.AverageResponseTimeMs = avg.Float64
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT query, COUNT(*) AS n FROM qa_interactions`+where+
			` GROUP BY query ORDER BY n DESC, query LIMIT 10`, args...)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("top queries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var qc domain.QueryCount
		if err := rows.Scan(&qc.Query, &qc.Count); err != nil {
			return domain.Stats{}, fmt.Errorf("scan top query row: %w", err)
		}
		stats.TopQueries = append(stats.TopQueries, qc)
	}
	if err := rows.Err(); err != nil {
		return domain.Stats{}, fmt.Errorf("top queries: %w", err)
	}

	endpointRows, err := r.db.QueryContext(ctx,
		`SELECT endpoint, COUNT(*) AS n FROM qa_interactions`+where+
			` GROUP BY endpoint ORDER BY n DESC, endpoint`, args...)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("endpoint breakdown: %w", err)
	}
	defer endpointRows.Close()
	for endpointRows.Next() {
		var ec domain.EndpointCount
		if err := endpointRows.Scan(&ec.Endpoint, &ec.Count); err != nil {
			return domain.Stats{}, fmt.Errorf("scan endpoint row: %w", err)
		}
		stats.QueriesByEndpoint = append(stats.QueriesByEndpoint, ec)
	}
	if err := endpointRows.Err(); err != nil {
		return domain.Stats{}, fmt.Errorf("endpoint breakdown: %w", err)
	}

	return stats, nil
}

// Cleanup deletes entries created strictly before cutoff and returns how
// many were removed.
func (r *Repo) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM qa_interactions WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cleanup interactions: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup interactions: %w", err)
	}
	return deleted, nil
}

// Ping checks connectivity.
func (r *Repo) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping interaction store: %w", err)
	}
	return nil
}

func buildWhere(filters domain.ListFilters) (string, []any) {
	var conds []string
	var args []any

	if filters.CallerID != "" {
		conds = append(conds, "caller_id = ?")
		args = append(args, filters.CallerID)
	}
	if filters.Endpoint != "" {
		conds = append(conds, "endpoint = ?")
		args = append(args, filters.Endpoint)
	}
	if !filters.From.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, filters.From.UnixMilli())
	}
	if !filters.To.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, filters.To.UnixMilli())
	}
	if filters.Search != "" {
		conds = append(conds, "(query LIKE ? OR answer LIKE ?)")
		pattern := "%" + filters.Search + "%"
		args = append(args, pattern, pattern)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
