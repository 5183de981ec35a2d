package provider

import (
	"context"
	"errors"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/chunker"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/log"
)

const (
	// OpenAIEmbeddingModel produces 1536-dimension vectors.
	OpenAIEmbeddingModel = goopenai.SmallEmbedding3

	// OpenAIDimension is the fixed vector length OpenAI produces.
	OpenAIDimension = 1536

	// OpenAIGenerationModel is the default generation model.
	OpenAIGenerationModel = "gpt-4o-mini"
)

// OpenAI implements Vectorizer and Generator against the OpenAI API.
// Unlike Gemini, the embeddings endpoint accepts a true batch, so
// EmbedBatch is a single call.
type OpenAI struct {
	client *goopenai.Client
	logger log.Logger
}

var (
	_ Vectorizer = (*OpenAI)(nil)
	_ Generator  = (*OpenAI)(nil)
)

// NewOpenAI creates an OpenAI provider. apiKey must be non-empty.
func NewOpenAI(apiKey string, logger log.Logger) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("openai: missing API key")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &OpenAI{client: goopenai.NewClient(apiKey), logger: logger}, nil
}

// Name implements Vectorizer and Generator.
func (*OpenAI) Name() string { return NameOpenAI }

// Dimension implements Vectorizer.
func (*OpenAI) Dimension() int { return OpenAIDimension }

// Embed implements Vectorizer.
func (o *OpenAI) Embed(ctx context.Context, text string) (Embedding, error) {
	out, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return Embedding{}, err
	}
	return out[0], nil
}

// EmbedBatch implements Vectorizer using the native batch endpoint.
func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	if len(texts) > MaxEmbedBatch {
		return nil, fmt.Errorf("openai: batch of %d exceeds limit %d", len(texts), MaxEmbedBatch)
	}

	ctx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()

	resp, err := o.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequestStrings{
		Input: texts,
		Model: OpenAIEmbeddingModel,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: embedding batch: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	// Usage is reported for the whole request; attribute per-text counts
	// with the estimator proxy.
	out := make([]Embedding, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai: embedding index %d out of range", d.Index)
		}
		out[d.Index] = Embedding{
			Vector:     d.Embedding,
			TokenCount: chunker.EstimateTokens(texts[d.Index]),
		}
	}
	for i, e := range out {
		if len(e.Vector) == 0 {
			return nil, fmt.Errorf("openai: missing embedding for input %d", i)
		}
	}

	return out, nil
}

// Generate implements Generator.
func (o *OpenAI) Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Generation, error) {
	ctx, cancel := context.WithTimeout(ctx, GenerateTimeout)
	defer cancel()

	model := opts.Model
	if model == "" {
		model = OpenAIGenerationModel
	}

	messages := make([]goopenai.ChatCompletionMessage, 0, 2)
	if opts.SystemPrompt != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: opts.SystemPrompt,
		})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := o.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: generating content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: no choices returned")
	}

	return &Generation{
		Content:      resp.Choices[0].Message.Content,
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: string(resp.Choices[0].FinishReason),
	}, nil
}
