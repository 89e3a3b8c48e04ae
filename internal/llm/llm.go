// Package llm wraps the Gemini embedding and generation services behind
// small interfaces so callers can substitute test doubles.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"google.golang.org/genai"

	"github.com/homeinal/gurag/internal/config"
	"github.com/homeinal/gurag/internal/log"
)

const (
	// VectorDimension is the embedding dimension stored in pgvector.
	// gemini-embedding-001 outputs 3072 dims by default; we truncate to 768
	// via OutputDimensionality (Matryoshka Representation Learning).
	VectorDimension int32 = 768

	// EmbedTimeout bounds a single embedding call.
	EmbedTimeout = 15 * time.Second

	// GenerateTimeout bounds a single generation call.
	GenerateTimeout = 60 * time.Second
)

// Embedder converts text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces an answer for a query given retrieved context.
// system overrides the default instruction block when non-empty.
type Generator interface {
	Generate(ctx context.Context, query, contextText, system string) (string, error)
}

// defaultSystemPrompt is used when the caller supplies no instructions.
const defaultSystemPrompt = `당신은 AI 분야 전문가입니다. 제공된 참고 자료를 기반으로 답변하세요.

규칙:
1. 참고 자료에 있는 정보를 중심으로 답변하세요.
2. 자료에 없는 내용은 추측하지 말고 모른다고 답하세요.
3. 출처가 있으면 명확히 인용하세요.
4. 답변은 한국어로 작성하세요.`

// Client is the production Embedder + Generator backed by genkit's
// Google AI plugin.
type Client struct {
	g           *genkit.Genkit
	embedder    ai.Embedder
	modelName   string
	temperature float32
	maxTokens   int
	logger      log.Logger
}

// NewClient initializes genkit with the Google AI plugin and resolves the
// configured embedder. The GEMINI_API_KEY environment variable must be set
// (checked by config.Validate).
func NewClient(ctx context.Context, cfg *config.Config, logger log.Logger) (*Client, error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = log.NewNop()
	}

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, fmt.Errorf("initializing genkit")
	}

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("resolving embedder %q", cfg.EmbedderModel)
	}

	return &Client{
		g:           g,
		embedder:    embedder,
		modelName:   "googleai/" + cfg.ModelName,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger,
	}, nil
}

// Genkit exposes the underlying genkit instance for components that need it
// (e.g. tracing setup).
func (c *Client) Genkit() *genkit.Genkit {
	return c.g
}

// Embed generates a vector embedding for the given text, truncated to
// VectorDimension.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()

	dim := VectorDimension
	resp, err := c.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	return resp.Embeddings[0].Embedding, nil
}

// Generate produces an answer for the query. contextText carries the
// retrieved passages; an empty system falls back to the default
// instruction block.
func (c *Client) Generate(ctx context.Context, query, contextText, system string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, GenerateTimeout)
	defer cancel()

	if system == "" {
		system = defaultSystemPrompt
	}

	prompt := query
	if contextText != "" {
		prompt = fmt.Sprintf("참고 자료:\n%s\n\n질문: %s", contextText, query)
	}

	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.modelName),
		ai.WithSystem(system),
		ai.WithPrompt(prompt),
		ai.WithConfig(&genai.GenerateContentConfig{
			Temperature:     genai.Ptr(c.temperature),
			MaxOutputTokens: int32(c.maxTokens),
		}),
	)
	if err != nil {
		return "", fmt.Errorf("generating response: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty generation response")
	}
	return text, nil
}
