package db

// KNNQuery describes a vector similarity search.
type KNNQuery struct {
	IndexName    string
	Vector       []float32
	K            int
	ReturnFields []string
}

// SearchHit is one matched document with its raw field values.
// Score is the backend's native score (cosine distance for Redis).
type SearchHit struct {
	ID     string
	Score  float64
	Fields map[string]string
}

// SearchResult holds matched hits in backend order.
type SearchResult struct {
	Total int64
	Hits  []SearchHit
}
