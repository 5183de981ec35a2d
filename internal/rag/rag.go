// Package rag orchestrates retrieval-augmented answering over indexed
// study resources: ingesting raw text into embedded chunks, answering
// questions grounded in retrieved chunks with citations, and producing
// structured summaries.
package rag

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/cache"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/chunker"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/log"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/provider"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/resource"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/vectorstore"
)

const (
	// MinContentLength is the shortest text worth indexing. Anything
	// shorter returns a zero-chunk success, not an error.
	MinContentLength = 50

	// maxCitationChars bounds the excerpt carried in a citation.
	maxCitationChars = 200

	// summaryChunkSample is how many stored chunks feed a summary.
	summaryChunkSample = 10

	// summaryMaxChars keeps the summary prompt within a safe size.
	summaryMaxChars = 15000
)

// Embedder is the slice of the embedding service the engine needs.
type Embedder interface {
	Embed(ctx context.Context, text string) (provider.Embedding, error)
	EmbedBatch(ctx context.Context, texts []string) ([]provider.Embedding, error)
}

// ResourceStore is the slice of the resource store the engine needs.
type ResourceStore interface {
	Get(ctx context.Context, id string) (*resource.Resource, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkIndexed(ctx context.Context, id string, chunkCount int) error
	MarkFailed(ctx context.Context, id string, reason string) error
	LogQuery(ctx context.Context, entry resource.QueryLog) (string, error)
}

// IngestResult reports what an ingest produced.
type IngestResult struct {
	ChunksCreated int `json:"chunksCreated"`
	TokensUsed    int `json:"tokensUsed"`
}

// Citation points an answer back at a retrieved chunk. ChunkContent is
// truncated to 200 characters.
type Citation struct {
	ChunkID        string  `json:"chunkId"`
	ResourceID     string  `json:"resourceId,omitempty"`
	ChunkContent   string  `json:"chunkContent"`
	RelevanceScore float32 `json:"relevanceScore"`
}

// QueryOptions narrow and tune retrieval for one query.
type QueryOptions struct {
	ResourceIDs []string
	SubjectID   string
	TopK        int
	MinScore    float32
}

// QueryResult is a grounded answer with its provenance.
type QueryResult struct {
	Answer           string     `json:"answer"`
	Citations        []Citation `json:"citations"`
	TokensUsed       int        `json:"tokensUsed"`
	ProcessingTimeMs int64      `json:"processingTimeMs"`
}

// AnswerEntry is the answer-namespace cache value.
type AnswerEntry struct {
	Answer     string
	Citations  []Citation
	TokensUsed int
}

// NewAnswerCache creates the answer-namespace cache with its default TTL
// and capacity.
func NewAnswerCache(logger log.Logger) *cache.Cache[AnswerEntry] {
	return cache.New[AnswerEntry](cache.AnswerTTL, cache.AnswerCapacity, logger)
}

// Engine is the query orchestrator. It is stateless per call; the answer
// cache is the only shared state it touches, and each mutation of a
// resource clears that cache wholesale since entries do not record which
// resources they cite.
//
// Engine is safe for concurrent use by multiple goroutines.
type Engine struct {
	embedder  Embedder
	vectors   vectorstore.Store
	generator provider.Generator
	resources ResourceStore
	answers   *cache.Cache[AnswerEntry]
	chunker   *chunker.Chunker
	logger    log.Logger
	now       func() time.Time
}

// New creates an Engine.
func New(embedder Embedder, vectors vectorstore.Store, generator provider.Generator,
	resources ResourceStore, answers *cache.Cache[AnswerEntry], logger log.Logger) *Engine {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Engine{
		embedder:  embedder,
		vectors:   vectors,
		generator: generator,
		resources: resources,
		answers:   answers,
		chunker:   chunker.New(),
		logger:    logger,
		now:       time.Now,
	}
}

// Ingest indexes a resource's raw text: prior chunks are deleted, the text
// is chunked and embedded, and the resource is marked indexed. Text below
// MinContentLength returns a zero-chunk success without touching the
// index. On failure the resource is marked failed and keeps its row.
func (e *Engine) Ingest(ctx context.Context, resourceID, text string) (*IngestResult, error) {
	res, err := e.resources.Get(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	if len(strings.TrimSpace(text)) < MinContentLength {
		e.logger.Debug("content too short to index", "resource_id", resourceID)
		return &IngestResult{}, nil
	}

	if err := e.resources.MarkProcessing(ctx, resourceID); err != nil {
		return nil, err
	}

	result, err := e.ingest(ctx, res, text)
	if err != nil {
		if markErr := e.resources.MarkFailed(ctx, resourceID, err.Error()); markErr != nil {
			e.logger.Warn("failed to record ingest failure", "resource_id", resourceID, "error", markErr)
		}
		return nil, err
	}
	return result, nil
}

func (e *Engine) ingest(ctx context.Context, res *resource.Resource, text string) (*IngestResult, error) {
	if err := e.vectors.DeleteByResource(ctx, res.ID); err != nil {
		return nil, fmt.Errorf("deleting prior chunks: %w", err)
	}

	chunks := e.chunker.Chunk(text, chunker.Metadata{
		ResourceID:    res.ID,
		ResourceTitle: res.Title,
	})
	if len(chunks) == 0 {
		return &IngestResult{}, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	embeddings, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding chunks: %w", err)
	}

	stored := make([]vectorstore.StoredChunk, len(chunks))
	tokensUsed := 0
	for i, c := range chunks {
		stored[i] = vectorstore.StoredChunk{
			ResourceID: res.ID,
			SubjectID:  res.SubjectID,
			Content:    c.Content,
			Embedding:  embeddings[i].Vector,
			Metadata:   c.Metadata,
		}
		tokensUsed += embeddings[i].TokenCount
	}

	if _, err := e.vectors.StoreChunks(ctx, stored); err != nil {
		return nil, fmt.Errorf("storing chunks: %w", err)
	}

	if err := e.resources.MarkIndexed(ctx, res.ID, len(chunks)); err != nil {
		return nil, err
	}

	// Cached answers may cite the replaced content. Entries do not record
	// which resources they cite, so invalidation clears the namespace.
	e.answers.Clear()

	e.logger.Info("resource indexed",
		"resource_id", res.ID, "chunks", len(chunks), "tokens", tokensUsed)
	return &IngestResult{ChunksCreated: len(chunks), TokensUsed: tokensUsed}, nil
}

// Query answers a question grounded in retrieved chunks. Zero matches
// short-circuit to a canned answer without invoking generation.
func (e *Engine) Query(ctx context.Context, query string, opts QueryOptions) (*QueryResult, error) {
	start := e.now()
	key := answerKey(query, opts)

	if entry, ok := e.answers.Get(key); ok {
		e.logger.Debug("answer cache hit", "query_len", len(query))
		return &QueryResult{
			Answer:           entry.Answer,
			Citations:        entry.Citations,
			TokensUsed:       entry.TokensUsed,
			ProcessingTimeMs: e.now().Sub(start).Milliseconds(),
		}, nil
	}

	emb, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	searchOpts := []vectorstore.SearchOption{}
	if len(opts.ResourceIDs) > 0 {
		searchOpts = append(searchOpts, vectorstore.WithResourceIDs(opts.ResourceIDs...))
	}
	if opts.SubjectID != "" {
		searchOpts = append(searchOpts, vectorstore.WithSubjectID(opts.SubjectID))
	}
	if opts.TopK > 0 {
		searchOpts = append(searchOpts, vectorstore.WithTopK(opts.TopK))
	}
	if opts.MinScore > 0 {
		searchOpts = append(searchOpts, vectorstore.WithMinScore(opts.MinScore))
	}

	matches, err := e.vectors.SearchSimilar(ctx, emb.Vector, searchOpts...)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}

	if len(matches) == 0 {
		return &QueryResult{
			Answer:           NoInformationAnswer,
			Citations:        []Citation{},
			ProcessingTimeMs: e.now().Sub(start).Milliseconds(),
		}, nil
	}

	gen, err := e.generator.Generate(ctx, buildGroundingPrompt(query, matches), provider.GenerateOptions{
		SystemPrompt: querySystemPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	citations := make([]Citation, len(matches))
	sources := make([]resource.SourceRef, len(matches))
	for i, m := range matches {
		citations[i] = Citation{
			ChunkID:        m.ID,
			ResourceID:     m.Metadata.ResourceID,
			ChunkContent:   truncate(m.Content, maxCitationChars),
			RelevanceScore: m.Score,
		}
		sources[i] = resource.SourceRef{ChunkID: m.ID, Score: m.Score}
	}
	sort.SliceStable(citations, func(i, j int) bool {
		return citations[i].RelevanceScore > citations[j].RelevanceScore
	})

	tokensUsed := emb.TokenCount + gen.TokensUsed
	elapsed := e.now().Sub(start).Milliseconds()

	if _, err := e.resources.LogQuery(ctx, resource.QueryLog{
		SubjectID:  opts.SubjectID,
		Query:      query,
		Answer:     gen.Content,
		Sources:    sources,
		TokensUsed: tokensUsed,
		LatencyMs:  elapsed,
	}); err != nil {
		e.logger.Warn("failed to log query", "error", err)
	}

	e.answers.Set(key, AnswerEntry{
		Answer:     gen.Content,
		Citations:  citations,
		TokensUsed: tokensUsed,
	})

	return &QueryResult{
		Answer:           gen.Content,
		Citations:        citations,
		TokensUsed:       tokensUsed,
		ProcessingTimeMs: elapsed,
	}, nil
}

// Summarize produces a structured academic summary of a resource from a
// bounded sample of its stored chunks, falling back to the resource
// description when nothing is indexed. Malformed generation output
// degrades to a skeleton summary instead of failing.
func (e *Engine) Summarize(ctx context.Context, resourceID string) (*Summary, error) {
	res, err := e.resources.Get(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	chunks, err := e.vectors.ListByResource(ctx, resourceID, summaryChunkSample)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}

	var text string
	if len(chunks) > 0 {
		parts := make([]string, len(chunks))
		for i, c := range chunks {
			parts[i] = c.Content
		}
		text = strings.Join(parts, "\n\n")
	} else {
		text = strings.TrimSpace(res.Description)
	}
	if text == "" {
		return nil, fmt.Errorf("resource %q has no indexed content or description", resourceID)
	}
	text = truncate(text, summaryMaxChars)

	gen, err := e.generator.Generate(ctx, buildSummaryPrompt(res.Title, text), provider.GenerateOptions{
		SystemPrompt: summarySystemPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("generating summary: %w", err)
	}

	summary, ok := parseSummary(gen.Content)
	if !ok {
		e.logger.Warn("summary output not structured, degrading to raw text",
			"resource_id", resourceID)
	}
	return summary, nil
}

// CacheStats exposes answer-cache counters for observability.
func (e *Engine) CacheStats() cache.Stats { return e.answers.Stats() }

// answerKey scopes cached answers by the full retrieval configuration so
// differently filtered queries never share an entry.
func answerKey(query string, opts QueryOptions) string {
	return cache.Key(query,
		opts.SubjectID,
		strings.Join(opts.ResourceIDs, ","),
		strconv.Itoa(opts.TopK),
		strconv.FormatFloat(float64(opts.MinScore), 'f', -1, 32),
	)
}

// truncate cuts s to at most n characters, appending an ellipsis when
// anything was removed.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
