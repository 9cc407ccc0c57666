package openai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/lexrag/internal/domain"
	"github.com/kailas-cloud/lexrag/internal/metrics"
)

const defaultSystemMessage = "You are an expert legal advisor who answers precisely and clearly, " +
	"citing the applicable legal sources."

// Generator synthesizes answers from retrieved documents via chat completion.
type Generator struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// GeneratorConfig holds the answer generation settings.
type GeneratorConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Logger  *zap.Logger
}

// NewGenerator creates an answer generation provider.
func NewGenerator(cfg *GeneratorConfig) *Generator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4.1"
	}

	return &Generator{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		logger: cfg.Logger,
	}
}

// Generate produces an answer for the query grounded on the given records.
func (g *Generator) Generate(
	ctx context.Context, query string, records []domain.Record, opts domain.GenerationOptions,
) (string, error) {
	systemMessage := opts.SystemMessage
	if systemMessage == "" {
		systemMessage = defaultSystemMessage
	}

	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemMessage},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(query, records, opts)},
		},
	}
	if opts.Temperature > 0 {
		req.Temperature = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(g.model, "error").Inc()
		return "", parseAPIError("generation", err)
	}
	metrics.GenerationRequestsTotal.WithLabelValues(g.model, "success").Inc()

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", domain.NewProviderError("generation", 0, fmt.Errorf("empty completion response"))
	}

	return resp.Choices[0].Message.Content, nil
}

// buildPrompt composes the user instruction: query, jurisdiction context and
// the retrieved documents, each prefixed with its title for traceability.
func buildPrompt(query string, records []domain.Record, opts domain.GenerationOptions) string {
	jurisdiction := opts.Jurisdiction
	if jurisdiction == "" {
		jurisdiction = "the applicable"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a legal assistant specialized in %s legislation. The question is:\n\n", jurisdiction)
	fmt.Fprintf(&b, "%q\n\n", query)

	if opts.DocumentType != "" {
		fmt.Fprintf(&b, "The question concerns documents of type %q.\n\n", opts.DocumentType)
	}

	if len(records) == 0 {
		b.WriteString("No relevant documents were found in the knowledge base. ")
		b.WriteString("State that no relevant material was found and that you cannot answer the question.\n")
		return b.String()
	}

	b.WriteString("Based on the following legal documents, provide a clear, precise and well-founded answer:\n\n")
	for _, r := range records {
		fmt.Fprintf(&b, "--- Document: %s ---\n%s\n\n", r.Title, r.Content)
	}

	b.WriteString("Your answer must:\n")
	b.WriteString("1. Explain the legal aspects relevant to the question\n")
	b.WriteString("2. Cite the specific laws, decrees or treaties that apply\n")
	b.WriteString("3. Present the information in a structured, understandable way\n")
	b.WriteString("4. If no relevant information was found, state that no answer was found\n")
	b.WriteString("5. If the question is not about law or legislation, state that it cannot be answered\n")
	b.WriteString("6. If the question concerns another jurisdiction, state that it cannot be answered\n\n")
	b.WriteString("Format the output as Markdown, using headings and numbered or bulleted lists as appropriate.\n")

	return b.String()
}
