package redis

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/lexrag/internal/db"
)

// SearchKNN runs a KNN vector similarity search via FT.SEARCH.
// The score is aliased to "score" and reported as raw cosine distance,
// lower is better.
func (s *Store) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if q.IndexName == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("vector is required")
	}
	if q.K <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}

	queryStr := fmt.Sprintf("*=>[KNN %d @embedding $BLOB AS score]", q.K)

	args := []string{q.IndexName, queryStr}

	if len(q.ReturnFields) > 0 {
		fields := append([]string{"score"}, q.ReturnFields...)
		args = append(args, "RETURN", strconv.Itoa(len(fields)))
		args = append(args, fields...)
	}

	args = append(args,
		"SORTBY", "score",
		"PARAMS", "2", "BLOB", vectorToBytes(q.Vector),
		"DIALECT", "2",
	)

	cmd := s.b().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		return nil, &db.Error{Op: db.OpSearch, Err: err}
	}

	return parseKNNResult(raw)
}

func parseKNNResult(raw []rueidis.RedisMessage) (*db.SearchResult, error) {
	if len(raw) == 0 {
		return &db.SearchResult{}, nil
	}

	// A reply whose first element is not the hit total is a shape we
	// don't understand; treat it as zero hits rather than failing the query.
	total, err := raw[0].AsInt64()
	if err != nil {
		return &db.SearchResult{}, nil
	}
	if total == 0 {
		return &db.SearchResult{}, nil
	}

	hits := make([]db.SearchHit, 0, total)
	// 2-stride: [total, key1, fields1, key2, fields2, ...]
	for i := 1; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}

		fieldMsgs, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}

		hit := db.SearchHit{
			ID:     key,
			Fields: parseFieldPairs(fieldMsgs),
		}

		if scoreStr, ok := hit.Fields["score"]; ok {
			if v, err := strconv.ParseFloat(scoreStr, 64); err == nil {
				hit.Score = v
			}
			delete(hit.Fields, "score")
		}

		hits = append(hits, hit)
	}

	return &db.SearchResult{Total: total, Hits: hits}, nil
}

func parseFieldPairs(msgs []rueidis.RedisMessage) map[string]string {
	fields := make(map[string]string, len(msgs)/2)
	for i := 0; i+1 < len(msgs); i += 2 {
		k, err := msgs[i].ToString()
		if err != nil {
			continue
		}
		v, err := msgs[i+1].ToString()
		if err != nil {
			continue
		}
		fields[k] = v
	}
	return fields
}

// vectorToBytes encodes float32 values as little-endian bytes for FT.SEARCH PARAMS.
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}
