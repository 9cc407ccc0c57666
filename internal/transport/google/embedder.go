// Package google provides Gemini embeddings through Google's OpenAI-compatible
// endpoint, so the same client library serves both embedding backends.
package google

import (
	"go.uber.org/zap"

	lexopenai "github.com/kailas-cloud/lexrag/internal/transport/openai"
)

// DefaultBaseURL is Google's OpenAI-compatible API surface.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// DefaultModel is the Gemini embedding model used when none is configured.
const DefaultModel = "text-embedding-004"

// Config holds the Gemini embedding settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Logger  *zap.Logger
}

// NewEmbedder creates a Gemini embedding provider.
func NewEmbedder(cfg *Config) *lexopenai.Embedder {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	return lexopenai.NewEmbedder(&lexopenai.EmbedderConfig{
		APIKey:   cfg.APIKey,
		BaseURL:  baseURL,
		Model:    model,
		Provider: "google",
		Logger:   cfg.Logger,
	})
}
