// Package provider wraps the external model capabilities the engine
// consumes: text vectorization and text generation.
//
// The engine never branches on provider names at call time. A small closed
// set of implementations (Gemini, OpenAI) is selected once at construction
// from configuration; everything downstream depends only on the Vectorizer
// and Generator interfaces.
//
// Vector dimensionality is fixed per provider (768 for Gemini,
// 1536 for OpenAI) and must not be mixed within one vector store.
// Switching providers requires re-ingesting all resources.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/log"
)

// Provider names accepted in configuration.
const (
	NameGemini = "gemini"
	NameOpenAI = "openai"
)

// Call timeouts. Generation calls dominate request latency and get the
// longer budget; embedding calls are short.
const (
	EmbedTimeout    = 30 * time.Second
	GenerateTimeout = 120 * time.Second
)

// MaxEmbedBatch is the largest number of texts submitted to a provider in
// one EmbedBatch call. Callers holding more must split.
const MaxEmbedBatch = 100

// ErrNoProviderConfigured indicates no provider API key is available.
var ErrNoProviderConfigured = errors.New("no model provider configured")

// Embedding is a fixed-length vector representation of a text plus the
// token count attributed to producing it.
type Embedding struct {
	Vector     []float32
	TokenCount int
}

// Vectorizer turns text into embeddings.
type Vectorizer interface {
	// Embed vectorizes a single text.
	Embed(ctx context.Context, text string) (Embedding, error)

	// EmbedBatch vectorizes texts preserving input order. len(texts) must
	// not exceed MaxEmbedBatch. A failure anywhere fails the whole batch.
	EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error)

	// Dimension is the fixed vector length this provider produces.
	Dimension() int

	// Name identifies the provider.
	Name() string
}

// GenerateOptions tune a single generation call.
type GenerateOptions struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  float32
	Model        string // override the provider default model
}

// Generation is the result of a text-generation call.
type Generation struct {
	Content      string
	TokensUsed   int
	FinishReason string
}

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Generation, error)
	Name() string
}

// Settings selects and configures a provider.
type Settings struct {
	// Provider forces a specific provider ("gemini" or "openai").
	// Empty means auto-select: prefer the free-tier Gemini when its key is
	// configured, fall back to OpenAI.
	Provider string

	GeminiAPIKey string
	OpenAIAPIKey string
}

// New constructs the configured provider, returning it in both capability
// roles. Selection happens exactly once here.
func New(ctx context.Context, s Settings, logger log.Logger) (Vectorizer, Generator, error) {
	switch s.Provider {
	case NameGemini:
		g, err := NewGemini(ctx, s.GeminiAPIKey, logger)
		if err != nil {
			return nil, nil, err
		}
		return g, g, nil
	case NameOpenAI:
		o, err := NewOpenAI(s.OpenAIAPIKey, logger)
		if err != nil {
			return nil, nil, err
		}
		return o, o, nil
	case "":
		// Auto-select: free tier first.
		if s.GeminiAPIKey != "" {
			g, err := NewGemini(ctx, s.GeminiAPIKey, logger)
			if err != nil {
				return nil, nil, err
			}
			return g, g, nil
		}
		if s.OpenAIAPIKey != "" {
			o, err := NewOpenAI(s.OpenAIAPIKey, logger)
			if err != nil {
				return nil, nil, err
			}
			return o, o, nil
		}
		return nil, nil, ErrNoProviderConfigured
	default:
		return nil, nil, fmt.Errorf("unknown provider %q", s.Provider)
	}
}
