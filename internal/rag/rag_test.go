package rag

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/chunker"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/log"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/provider"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/resource"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/vectorstore"
)

// vectorFor derives a deterministic unit vector from text so identical
// texts always land on the same point.
func vectorFor(text string) []float32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum32()

	v := make([]float32, 4)
	var norm float64
	for i := range v {
		seed = seed*1664525 + 1013904223
		v[i] = float32(seed%1000) + 1
		norm += float64(v[i]) * float64(v[i])
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

type mockEmbedder struct {
	embedCalls int
	batchCalls int
	failBatch  bool
}

func (m *mockEmbedder) Embed(_ context.Context, text string) (provider.Embedding, error) {
	m.embedCalls++
	return provider.Embedding{Vector: vectorFor(text), TokenCount: (len(text) + 3) / 4}, nil
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([]provider.Embedding, error) {
	m.batchCalls++
	if m.failBatch {
		return nil, errors.New("provider unavailable")
	}
	out := make([]provider.Embedding, len(texts))
	for i, t := range texts {
		out[i] = provider.Embedding{Vector: vectorFor(t), TokenCount: (len(t) + 3) / 4}
	}
	return out, nil
}

type mockGenerator struct {
	content string
	calls   int
	prompts []string
	fail    bool
}

func (g *mockGenerator) Generate(_ context.Context, prompt string, _ provider.GenerateOptions) (*provider.Generation, error) {
	g.calls++
	g.prompts = append(g.prompts, prompt)
	if g.fail {
		return nil, errors.New("generation unavailable")
	}
	return &provider.Generation{Content: g.content, TokensUsed: 100}, nil
}

func (g *mockGenerator) Name() string { return "mock" }

// mockResources is an in-memory ResourceStore.
type mockResources struct {
	resources map[string]*resource.Resource
	logs      []resource.QueryLog
	logErr    error
}

func newMockResources(rs ...*resource.Resource) *mockResources {
	m := &mockResources{resources: make(map[string]*resource.Resource)}
	for _, r := range rs {
		m.resources[r.ID] = r
	}
	return m
}

func (m *mockResources) Get(_ context.Context, id string) (*resource.Resource, error) {
	r, ok := m.resources[id]
	if !ok {
		return nil, fmt.Errorf("resource %q: %w", id, resource.ErrResourceNotFound)
	}
	cp := *r
	return &cp, nil
}

func (m *mockResources) MarkProcessing(_ context.Context, id string) error {
	return m.setStatus(id, resource.StatusProcessing, "")
}

func (m *mockResources) MarkIndexed(_ context.Context, id string, chunkCount int) error {
	if err := m.setStatus(id, resource.StatusIndexed, ""); err != nil {
		return err
	}
	m.resources[id].ChunkCount = chunkCount
	return nil
}

func (m *mockResources) MarkFailed(_ context.Context, id string, reason string) error {
	return m.setStatus(id, resource.StatusFailed, reason)
}

func (m *mockResources) setStatus(id, status, lastError string) error {
	r, ok := m.resources[id]
	if !ok {
		return resource.ErrResourceNotFound
	}
	r.Status = status
	r.LastError = lastError
	return nil
}

func (m *mockResources) LogQuery(_ context.Context, entry resource.QueryLog) (string, error) {
	if m.logErr != nil {
		return "", m.logErr
	}
	m.logs = append(m.logs, entry)
	return "log-1", nil
}

// stubStore returns fixed matches, for tests that need exact scores.
type stubStore struct {
	matches     []vectorstore.Match
	searchCalls int
}

func (s *stubStore) StoreChunk(context.Context, vectorstore.StoredChunk) (string, error) {
	return "", errors.New("not implemented")
}

func (s *stubStore) StoreChunks(context.Context, []vectorstore.StoredChunk) ([]string, error) {
	return nil, errors.New("not implemented")
}

func (s *stubStore) SearchSimilar(context.Context, []float32, ...vectorstore.SearchOption) ([]vectorstore.Match, error) {
	s.searchCalls++
	return s.matches, nil
}

func (s *stubStore) ListByResource(context.Context, string, int) ([]vectorstore.Match, error) {
	return nil, nil
}

func (s *stubStore) DeleteByResource(context.Context, string) error { return nil }

func (s *stubStore) Close() error { return nil }

func newTestEngine(t *testing.T, vectors vectorstore.Store, gen *mockGenerator, res *mockResources) *Engine {
	t.Helper()
	return New(&mockEmbedder{}, vectors, gen, res, NewAnswerCache(log.NewNop()), log.NewNop())
}

func newChromemStore(t *testing.T) *vectorstore.Chromem {
	t.Helper()
	store, err := vectorstore.NewChromem(4, log.NewNop())
	require.NoError(t, err)
	return store
}

func twoParagraphText(n int) string {
	sentence := "The mitochondria convert nutrients into usable energy. "
	para := strings.Repeat(sentence, n/(2*len(sentence))+1)
	return para + "\n\n" + strings.ToUpper(para)
}

func TestEngine_Ingest(t *testing.T) {
	ctx := context.Background()
	store := newChromemStore(t)
	resources := newMockResources(&resource.Resource{ID: "res-1", Title: "Cell Biology"})
	engine := newTestEngine(t, store, &mockGenerator{}, resources)

	text := twoParagraphText(3000)
	result, err := engine.Ingest(ctx, "res-1", text)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, result.ChunksCreated, 2)

	// tokensUsed is the sum of the per-chunk estimates.
	chunks := chunker.New().Chunk(text, chunker.Metadata{ResourceID: "res-1", ResourceTitle: "Cell Biology"})
	require.Len(t, chunks, result.ChunksCreated)
	wantTokens := 0
	for _, c := range chunks {
		wantTokens += (len(c.Content) + 3) / 4
	}
	assert.Equal(t, wantTokens, result.TokensUsed)

	assert.Equal(t, resource.StatusIndexed, resources.resources["res-1"].Status)
	assert.Equal(t, result.ChunksCreated, resources.resources["res-1"].ChunkCount)

	stored, err := store.ListByResource(ctx, "res-1", 100)
	require.NoError(t, err)
	assert.Len(t, stored, result.ChunksCreated)
}

func TestEngine_Ingest_TooShort(t *testing.T) {
	ctx := context.Background()
	store := newChromemStore(t)
	resources := newMockResources(&resource.Resource{ID: "res-1", Status: resource.StatusPending})
	engine := newTestEngine(t, store, &mockGenerator{}, resources)

	result, err := engine.Ingest(ctx, "res-1", "too short")
	require.NoError(t, err)
	assert.Zero(t, result.ChunksCreated)
	assert.Zero(t, result.TokensUsed)

	// Nothing indexed, lifecycle untouched.
	assert.Equal(t, resource.StatusPending, resources.resources["res-1"].Status)
	stored, err := store.ListByResource(ctx, "res-1", 10)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestEngine_Ingest_ResourceNotFound(t *testing.T) {
	engine := newTestEngine(t, newChromemStore(t), &mockGenerator{}, newMockResources())

	_, err := engine.Ingest(context.Background(), "missing", strings.Repeat("x. ", 100))
	assert.ErrorIs(t, err, resource.ErrResourceNotFound)
}

func TestEngine_Ingest_EmbedFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	resources := newMockResources(&resource.Resource{ID: "res-1"})
	engine := New(&mockEmbedder{failBatch: true}, newChromemStore(t), &mockGenerator{},
		resources, NewAnswerCache(log.NewNop()), log.NewNop())

	_, err := engine.Ingest(ctx, "res-1", twoParagraphText(500))
	require.Error(t, err)
	assert.Equal(t, resource.StatusFailed, resources.resources["res-1"].Status)
	assert.Contains(t, resources.resources["res-1"].LastError, "provider unavailable")
}

func TestEngine_Reingest_ReplacesChunks(t *testing.T) {
	ctx := context.Background()
	store := newChromemStore(t)
	resources := newMockResources(&resource.Resource{ID: "res-1"})
	engine := newTestEngine(t, store, &mockGenerator{}, resources)

	first := twoParagraphText(1500)
	_, err := engine.Ingest(ctx, "res-1", first)
	require.NoError(t, err)

	old, err := store.ListByResource(ctx, "res-1", 100)
	require.NoError(t, err)
	require.NotEmpty(t, old)
	oldIDs := make(map[string]bool)
	for _, m := range old {
		oldIDs[m.ID] = true
	}

	second := "Completely different material about thermodynamics and entropy. " +
		strings.Repeat("Heat flows from hot to cold bodies. ", 10)
	result, err := engine.Ingest(ctx, "res-1", second)
	require.NoError(t, err)

	current, err := store.ListByResource(ctx, "res-1", 100)
	require.NoError(t, err)
	require.Len(t, current, result.ChunksCreated)
	for _, m := range current {
		assert.False(t, oldIDs[m.ID], "old chunk %s survived re-ingest", m.ID)
		assert.Contains(t, second, m.Content[:20])
	}
}

func TestEngine_Query_NoMatches(t *testing.T) {
	gen := &mockGenerator{content: "should never be used"}
	resources := newMockResources()
	engine := newTestEngine(t, newChromemStore(t), gen, resources)

	result, err := engine.Query(context.Background(), "what is photosynthesis", QueryOptions{})
	require.NoError(t, err)

	assert.Equal(t, NoInformationAnswer, result.Answer)
	assert.Empty(t, result.Citations)
	assert.NotNil(t, result.Citations)
	assert.Zero(t, gen.calls, "generation must not run on empty retrieval")
	assert.Empty(t, resources.logs)
}

func TestEngine_Query_SingleMatch(t *testing.T) {
	longContent := strings.Repeat("photosynthesis converts light into chemical energy ", 6)
	require.Greater(t, len(longContent), 200)

	store := &stubStore{matches: []vectorstore.Match{{
		ID:      "chunk-1",
		Content: longContent,
		Score:   0.92,
		Metadata: chunker.Metadata{
			ResourceID: "res-1",
		},
	}}}
	gen := &mockGenerator{content: "Light becomes chemical energy [Source 1]."}
	resources := newMockResources()
	engine := newTestEngine(t, store, gen, resources)

	result, err := engine.Query(context.Background(), "what is photosynthesis", QueryOptions{SubjectID: "biology"})
	require.NoError(t, err)

	assert.Equal(t, gen.content, result.Answer)
	require.Len(t, result.Citations, 1)

	c := result.Citations[0]
	assert.Equal(t, "chunk-1", c.ChunkID)
	assert.Equal(t, "res-1", c.ResourceID)
	assert.Equal(t, float32(0.92), c.RelevanceScore)
	assert.LessOrEqual(t, len(c.ChunkContent), 203)
	assert.True(t, strings.HasSuffix(c.ChunkContent, "..."))

	assert.Equal(t, 1, gen.calls)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "[Source 1]")
	assert.Contains(t, gen.prompts[0], "what is photosynthesis")

	require.Len(t, resources.logs, 1)
	logged := resources.logs[0]
	assert.Equal(t, "biology", logged.SubjectID)
	assert.Equal(t, gen.content, logged.Answer)
	require.Len(t, logged.Sources, 1)
	assert.Equal(t, "chunk-1", logged.Sources[0].ChunkID)
	assert.Equal(t, float32(0.92), logged.Sources[0].Score)
	assert.Positive(t, logged.TokensUsed)
}

func TestEngine_Query_CitationsSortedByScore(t *testing.T) {
	store := &stubStore{matches: []vectorstore.Match{
		{ID: "low", Content: "low", Score: 0.75},
		{ID: "high", Content: "high", Score: 0.95},
		{ID: "mid", Content: "mid", Score: 0.85},
	}}
	engine := newTestEngine(t, store, &mockGenerator{content: "ok"}, newMockResources())

	result, err := engine.Query(context.Background(), "q", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, result.Citations, 3)
	assert.Equal(t, "high", result.Citations[0].ChunkID)
	assert.Equal(t, "mid", result.Citations[1].ChunkID)
	assert.Equal(t, "low", result.Citations[2].ChunkID)
}

func TestEngine_Query_CachesAnswer(t *testing.T) {
	store := &stubStore{matches: []vectorstore.Match{{ID: "chunk-1", Content: "c", Score: 0.9}}}
	gen := &mockGenerator{content: "cached answer"}
	engine := newTestEngine(t, store, gen, newMockResources())

	ctx := context.Background()
	first, err := engine.Query(ctx, "same question", QueryOptions{})
	require.NoError(t, err)

	second, err := engine.Query(ctx, "same question", QueryOptions{})
	require.NoError(t, err)

	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, first.Citations, second.Citations)
	assert.Equal(t, 1, gen.calls, "second call must come from the answer cache")
	assert.Equal(t, 1, store.searchCalls)

	// A differently scoped query is a different cache entry.
	_, err = engine.Query(ctx, "same question", QueryOptions{SubjectID: "biology"})
	require.NoError(t, err)
	assert.Equal(t, 2, gen.calls)
}

func TestEngine_Query_GenerationFailure(t *testing.T) {
	store := &stubStore{matches: []vectorstore.Match{{ID: "chunk-1", Content: "c", Score: 0.9}}}
	engine := newTestEngine(t, store, &mockGenerator{fail: true}, newMockResources())

	_, err := engine.Query(context.Background(), "q", QueryOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generating answer")
}

func TestEngine_Query_LogFailureDoesNotFailQuery(t *testing.T) {
	store := &stubStore{matches: []vectorstore.Match{{ID: "chunk-1", Content: "c", Score: 0.9}}}
	resources := newMockResources()
	resources.logErr = errors.New("db down")
	engine := newTestEngine(t, store, &mockGenerator{content: "ok"}, resources)

	result, err := engine.Query(context.Background(), "q", QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Answer)
}

func TestEngine_Ingest_ClearsAnswerCache(t *testing.T) {
	ctx := context.Background()
	store := newChromemStore(t)
	resources := newMockResources(&resource.Resource{ID: "res-1"})
	gen := &mockGenerator{content: "answer"}
	engine := newTestEngine(t, store, gen, resources)

	_, err := engine.Ingest(ctx, "res-1", twoParagraphText(1500))
	require.NoError(t, err)

	// Query with a stored chunk's own text to guarantee a match.
	stored, err := store.ListByResource(ctx, "res-1", 1)
	require.NoError(t, err)
	require.NotEmpty(t, stored)

	query := stored[0].Content
	_, err = engine.Query(ctx, query, QueryOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, gen.calls)

	_, err = engine.Query(ctx, query, QueryOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, gen.calls)

	// Mutating any resource invalidates every cached answer.
	_, err = engine.Ingest(ctx, "res-1", twoParagraphText(1500))
	require.NoError(t, err)

	_, err = engine.Query(ctx, query, QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, gen.calls)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 200))
	long := strings.Repeat("a", 250)
	got := truncate(long, 200)
	assert.Len(t, got, 203)
	assert.True(t, strings.HasSuffix(got, "..."))

	// Rune-safe.
	assert.Equal(t, "héé...", truncate("hééllo", 3))
}
