package provider

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/chunker"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/log"
)

const (
	// GeminiEmbeddingModel outputs up to 3072 dimensions by default but
	// supports truncation via OutputDimensionality (Matryoshka
	// Representation Learning). The store schema uses 768.
	GeminiEmbeddingModel = "text-embedding-004"

	// GeminiDimension is the fixed vector length requested from Gemini.
	GeminiDimension = 768

	// GeminiGenerationModel is the default generation model.
	GeminiGenerationModel = "gemini-2.5-flash"

	// geminiSubBatch bounds concurrent embedding fan-out. The Gemini
	// embedding endpoint takes one text per call, so batches are issued
	// as groups of concurrent single-text calls, each group awaited
	// before the next starts.
	geminiSubBatch = 10
)

// Gemini implements Vectorizer and Generator against the Gemini API.
type Gemini struct {
	client *genai.Client
	logger log.Logger
}

var (
	_ Vectorizer = (*Gemini)(nil)
	_ Generator  = (*Gemini)(nil)
)

// NewGemini creates a Gemini provider. apiKey must be non-empty.
func NewGemini(ctx context.Context, apiKey string, logger log.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: missing API key")
	}
	if logger == nil {
		logger = log.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}

	return &Gemini{client: client, logger: logger}, nil
}

// Name implements Vectorizer and Generator.
func (*Gemini) Name() string { return NameGemini }

// Dimension implements Vectorizer.
func (*Gemini) Dimension() int { return GeminiDimension }

// Embed implements Vectorizer.
func (g *Gemini) Embed(ctx context.Context, text string) (Embedding, error) {
	ctx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()

	dim := int32(GeminiDimension)
	resp, err := g.client.Models.EmbedContent(ctx, GeminiEmbeddingModel,
		genai.Text(text),
		&genai.EmbedContentConfig{OutputDimensionality: &dim},
	)
	if err != nil {
		return Embedding{}, fmt.Errorf("gemini: embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return Embedding{}, errors.New("gemini: empty embedding response")
	}

	return Embedding{
		Vector:     resp.Embeddings[0].Values,
		TokenCount: chunker.EstimateTokens(text),
	}, nil
}

// EmbedBatch implements Vectorizer. Sub-batches of up to geminiSubBatch
// texts are embedded concurrently and awaited together before the next
// sub-batch starts, bounding fan-out while still parallelizing. Results are
// written back at their original index; any failure fails the whole batch.
func (g *Gemini) EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	if len(texts) > MaxEmbedBatch {
		return nil, fmt.Errorf("gemini: batch of %d exceeds limit %d", len(texts), MaxEmbedBatch)
	}

	out := make([]Embedding, len(texts))

	for start := 0; start < len(texts); start += geminiSubBatch {
		end := min(start+geminiSubBatch, len(texts))

		eg, egCtx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			eg.Go(func() error {
				emb, err := g.Embed(egCtx, texts[i])
				if err != nil {
					return err
				}
				out[i] = emb
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// Generate implements Generator.
func (g *Gemini) Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Generation, error) {
	ctx, cancel := context.WithTimeout(ctx, GenerateTimeout)
	defer cancel()

	model := opts.Model
	if model == "" {
		model = GeminiGenerationModel
	}

	cfg := &genai.GenerateContentConfig{}
	if opts.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(opts.SystemPrompt, genai.RoleUser)
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.Temperature > 0 {
		cfg.Temperature = genai.Ptr(opts.Temperature)
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: generating content: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, errors.New("gemini: no candidates returned")
	}

	gen := &Generation{
		Content:      resp.Text(),
		FinishReason: string(resp.Candidates[0].FinishReason),
	}
	if resp.UsageMetadata != nil {
		gen.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	} else {
		gen.TokensUsed = chunker.EstimateTokens(prompt) + chunker.EstimateTokens(gen.Content)
	}

	return gen, nil
}
