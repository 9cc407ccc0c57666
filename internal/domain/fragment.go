package domain

import (
	"fmt"
	"strings"
)

// NoRelevantMaterialAnswer is returned when a question matches no documents
// above the configured threshold. The generation provider is never invoked
// in that case.
const NoRelevantMaterialAnswer = "No relevant material was found in the knowledge base to answer this question."

// Settings controls a single retrieval call.
// ScoreThreshold is backend-relative: the Redis finder treats it as a cosine
// distance ceiling, the sqlite finder as a similarity floor. The orchestrator
// passes it through untouched. A zero ScoreThreshold means "unset" and takes
// the configured default, so an explicit threshold of exactly 0.0 cannot be
// requested.
type Settings struct {
	TopK           int
	ScoreThreshold float64
}

// Validate checks retrieval settings.
func (s Settings) Validate() error {
	if s.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", ErrValidation, s.TopK)
	}
	return nil
}

// FragmentRef points at one retrievable page of a document.
// Score is nil when the backend did not report one (treated as a perfect match).
type FragmentRef struct {
	DocumentID string
	Page       int
	Score      *float64
}

// PageContent is the raw content of a single document page.
// Empty Text means the page is missing or blank; callers filter, not error.
type PageContent struct {
	Text     string
	Metadata map[string]string
}

// Fragment is a reference enriched with its page content.
type Fragment struct {
	Ref     FragmentRef
	Content PageContent
}

// Empty reports whether the fragment carries no usable text.
func (f Fragment) Empty() bool {
	return strings.TrimSpace(f.Content.Text) == ""
}

// RecordMetadata carries provenance for a retrieved record.
type RecordMetadata struct {
	Path        string            `json:"path"`
	Description string            `json:"description"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Record is the externally visible shape of an enriched fragment.
type Record struct {
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Page     int            `json:"page_number"`
	Metadata RecordMetadata `json:"metadata"`
}

// Answer is a synthesized response with the records that back it.
type Answer struct {
	Text    string   `json:"answer"`
	Sources []Record `json:"sources"`
}
