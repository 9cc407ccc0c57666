// Package cache holds successful HTTP responses in an in-process expirable
// LRU keyed by the full request shape. A hit short-circuits the pipeline:
// no providers are called and no interaction is recorded.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Entry is one cached response.
type Entry struct {
	Status      int
	ContentType string
	Body        []byte
}

// ResponseCache is a TTL-bounded LRU of serialized responses.
type ResponseCache struct {
	lru *expirable.LRU[string, Entry]
	ttl time.Duration
}

// New creates a response cache. Entries expire after ttl and the oldest
// are evicted past maxEntries.
func New(maxEntries int, ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		lru: expirable.NewLRU[string, Entry](maxEntries, nil, ttl),
		ttl: ttl,
	}
}

// Get returns the cached entry for key, if present and not expired.
func (c *ResponseCache) Get(key string) (Entry, bool) {
	return c.lru.Get(key)
}

// Set stores an entry under key.
func (c *ResponseCache) Set(key string, entry Entry) {
	c.lru.Add(key, entry)
}

// Len returns the number of live entries.
func (c *ResponseCache) Len() int {
	return c.lru.Len()
}

// Key derives a deterministic cache key from the request shape: method,
// path, query parameters in sorted order, and the request body. Two
// requests differing only in query-parameter order share a key.
func Key(method, path string, query map[string][]string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})

	params := make([]string, 0, len(query))
	for name, values := range query {
		sorted := append([]string(nil), values...)
		sort.Strings(sorted)
		params = append(params, name+"="+strings.Join(sorted, ","))
	}
	sort.Strings(params)
	h.Write([]byte(strings.Join(params, "&")))
	h.Write([]byte{0})
	h.Write(body)

	return hex.EncodeToString(h.Sum(nil))
}
