package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/cache"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/log"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/rag"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/resource"
)

type mockEngine struct {
	ingestResult *rag.IngestResult
	ingestErr    error
	queryResult  *rag.QueryResult
	queryErr     error
	summary      *rag.Summary
	summaryErr   error
	panicOnQuery bool

	lastQuery     string
	lastQueryOpts rag.QueryOptions
}

func (m *mockEngine) Ingest(_ context.Context, _, _ string) (*rag.IngestResult, error) {
	return m.ingestResult, m.ingestErr
}

func (m *mockEngine) Query(_ context.Context, query string, opts rag.QueryOptions) (*rag.QueryResult, error) {
	if m.panicOnQuery {
		panic("boom")
	}
	m.lastQuery = query
	m.lastQueryOpts = opts
	return m.queryResult, m.queryErr
}

func (m *mockEngine) Summarize(_ context.Context, _ string) (*rag.Summary, error) {
	return m.summary, m.summaryErr
}

func (m *mockEngine) CacheStats() cache.Stats {
	return cache.Stats{Hits: 3, Misses: 1, Size: 2, Capacity: 500}
}

type mockResourceStore struct {
	resources map[string]*resource.Resource
	upserted  []resource.Resource
	logs      []resource.QueryLog
}

func (m *mockResourceStore) Get(_ context.Context, id string) (*resource.Resource, error) {
	r, ok := m.resources[id]
	if !ok {
		return nil, fmt.Errorf("resource %q: %w", id, resource.ErrResourceNotFound)
	}
	return r, nil
}

func (m *mockResourceStore) Upsert(_ context.Context, r resource.Resource) error {
	m.upserted = append(m.upserted, r)
	return nil
}

func (m *mockResourceStore) RecentQueries(_ context.Context, limit int) ([]resource.QueryLog, error) {
	if limit < len(m.logs) {
		return m.logs[:limit], nil
	}
	return m.logs, nil
}

type mockEmbeddingStats struct{}

func (mockEmbeddingStats) CacheStats() cache.Stats {
	return cache.Stats{Hits: 10, Misses: 5, Size: 7, Capacity: 1000}
}

func (mockEmbeddingStats) Dimension() int { return 768 }

func newTestServer(t *testing.T, engine *mockEngine, resources *mockResourceStore) *Server {
	t.Helper()
	if resources == nil {
		resources = &mockResourceStore{resources: map[string]*resource.Resource{}}
	}
	srv, err := NewServer(ServerConfig{
		Logger:    log.NewNop(),
		Engine:    engine,
		Resources: resources,
		Embedding: mockEmbeddingStats{},
		RateBurst: 1000,
	})
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)

	_, err = NewServer(ServerConfig{Engine: &mockEngine{}})
	assert.Error(t, err)
}

func TestIngestEndpoint(t *testing.T) {
	engine := &mockEngine{ingestResult: &rag.IngestResult{ChunksCreated: 4, TokensUsed: 900}}
	resources := &mockResourceStore{resources: map[string]*resource.Resource{}}
	srv := newTestServer(t, engine, resources)

	rec := doJSON(t, srv, http.MethodPost, "/api/resources/res-1/ingest", map[string]any{
		"text":      strings.Repeat("study material ", 20),
		"title":     "Notes",
		"subjectId": "biology",
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var result rag.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 4, result.ChunksCreated)
	assert.Equal(t, 900, result.TokensUsed)

	require.Len(t, resources.upserted, 1)
	assert.Equal(t, "res-1", resources.upserted[0].ID)
	assert.Equal(t, "biology", resources.upserted[0].SubjectID)
}

func TestIngestEndpoint_MissingText(t *testing.T) {
	srv := newTestServer(t, &mockEngine{}, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/resources/res-1/ingest", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing_text")
}

func TestIngestEndpoint_EngineFailure(t *testing.T) {
	engine := &mockEngine{ingestErr: errors.New("provider down")}
	srv := newTestServer(t, engine, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/resources/res-1/ingest", map[string]any{"text": "x"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "provider down")
}

func TestQueryEndpoint(t *testing.T) {
	engine := &mockEngine{queryResult: &rag.QueryResult{
		Answer: "Light becomes chemical energy [Source 1].",
		Citations: []rag.Citation{
			{ChunkID: "chunk-1", ChunkContent: "photosynthesis...", RelevanceScore: 0.92},
		},
		TokensUsed:       321,
		ProcessingTimeMs: 5,
	}}
	srv := newTestServer(t, engine, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/query", map[string]any{
		"query":       "what is photosynthesis",
		"subjectId":   "biology",
		"resourceIds": []string{"res-1"},
		"topK":        3,
		"minScore":    0.8,
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var result rag.QueryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, engine.queryResult.Answer, result.Answer)
	require.Len(t, result.Citations, 1)
	assert.Equal(t, float32(0.92), result.Citations[0].RelevanceScore)

	assert.Equal(t, "what is photosynthesis", engine.lastQuery)
	assert.Equal(t, []string{"res-1"}, engine.lastQueryOpts.ResourceIDs)
	assert.Equal(t, "biology", engine.lastQueryOpts.SubjectID)
	assert.Equal(t, 3, engine.lastQueryOpts.TopK)
	assert.Equal(t, float32(0.8), engine.lastQueryOpts.MinScore)
}

func TestQueryEndpoint_AppliesRetrievalDefaults(t *testing.T) {
	engine := &mockEngine{queryResult: &rag.QueryResult{Answer: "a", Citations: []rag.Citation{}}}
	srv, err := NewServer(ServerConfig{
		Logger:          log.NewNop(),
		Engine:          engine,
		Resources:       &mockResourceStore{resources: map[string]*resource.Resource{}},
		Embedding:       mockEmbeddingStats{},
		DefaultTopK:     7,
		DefaultMinScore: 0.65,
	})
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodPost, "/api/query", map[string]any{"query": "q"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, engine.lastQueryOpts.TopK)
	assert.Equal(t, float32(0.65), engine.lastQueryOpts.MinScore)

	// Explicit values win over the configured defaults.
	rec = doJSON(t, srv, http.MethodPost, "/api/query", map[string]any{"query": "q", "topK": 2, "minScore": 0.9})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, engine.lastQueryOpts.TopK)
	assert.Equal(t, float32(0.9), engine.lastQueryOpts.MinScore)
}

func TestQueryEndpoint_MissingQuery(t *testing.T) {
	srv := newTestServer(t, &mockEngine{}, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/query", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryEndpoint_InvalidJSON(t *testing.T) {
	srv := newTestServer(t, &mockEngine{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_body")
}

func TestQueryEndpoint_UpstreamFailureIsGeneric(t *testing.T) {
	engine := &mockEngine{queryErr: errors.New("gemini: 503 backend overloaded")}
	srv := newTestServer(t, engine, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/query", map[string]any{"query": "q"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "could not generate an answer")
	assert.NotContains(t, rec.Body.String(), "gemini")
}

func TestSummaryEndpoint(t *testing.T) {
	engine := &mockEngine{summary: &rag.Summary{
		TheoreticalContext: "Cells produce energy.",
		KeyIdeas:           []string{"ATP"},
	}}
	srv := newTestServer(t, engine, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/resources/res-1/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary rag.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, "Cells produce energy.", summary.TheoreticalContext)
}

func TestSummaryEndpoint_NotFound(t *testing.T) {
	engine := &mockEngine{summaryErr: fmt.Errorf("wrap: %w", resource.ErrResourceNotFound)}
	srv := newTestServer(t, engine, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/resources/missing/summary", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetResourceEndpoint(t *testing.T) {
	resources := &mockResourceStore{resources: map[string]*resource.Resource{
		"res-1": {
			ID:         "res-1",
			Title:      "Notes",
			Status:     resource.StatusIndexed,
			ChunkCount: 7,
			IndexedAt:  time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		},
	}}
	srv := newTestServer(t, &mockEngine{}, resources)

	rec := doJSON(t, srv, http.MethodGet, "/api/resources/res-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp resourceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, resource.StatusIndexed, resp.Status)
	assert.Equal(t, 7, resp.ChunkCount)
	require.NotNil(t, resp.IndexedAt)

	rec = doJSON(t, srv, http.MethodGet, "/api/resources/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecentQueriesEndpoint(t *testing.T) {
	resources := &mockResourceStore{
		resources: map[string]*resource.Resource{},
		logs: []resource.QueryLog{
			{ID: "1", Query: "newest"},
			{ID: "2", Query: "older"},
		},
	}
	srv := newTestServer(t, &mockEngine{}, resources)

	rec := doJSON(t, srv, http.MethodGet, "/api/queries?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Queries []queryLogResponse `json:"queries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Queries, 1)
	assert.Equal(t, "newest", resp.Queries[0].Query)

	rec = doJSON(t, srv, http.MethodGet, "/api/queries?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/queries?limit=availability", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t, &mockEngine{}, nil)

	rec := doJSON(t, srv, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		EmbeddingCache  cacheStatsResponse `json:"embeddingCache"`
		AnswerCache     cacheStatsResponse `json:"answerCache"`
		VectorDimension int                `json:"vectorDimension"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(10), resp.EmbeddingCache.Hits)
	assert.InDelta(t, 10.0/15.0, resp.EmbeddingCache.HitRate, 0.001)
	assert.Equal(t, uint64(3), resp.AnswerCache.Hits)
	assert.Equal(t, 768, resp.VectorDimension)
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, &mockEngine{}, nil)

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// No DB configured: /ready degrades to liveness.
	rec = doJSON(t, srv, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

func TestReadyEndpoint_DBDown(t *testing.T) {
	srv, err := NewServer(ServerConfig{
		Logger:    log.NewNop(),
		Engine:    &mockEngine{},
		Resources: &mockResourceStore{resources: map[string]*resource.Resource{}},
		Embedding: mockEmbeddingStats{},
		DB:        failingPinger{},
	})
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	engine := &mockEngine{panicOnQuery: true}
	srv := newTestServer(t, engine, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/query", map[string]any{"query": "q"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_error")
}

func TestRateLimit(t *testing.T) {
	srv, err := NewServer(ServerConfig{
		Logger:    log.NewNop(),
		Engine:    &mockEngine{},
		Resources: &mockResourceStore{resources: map[string]*resource.Resource{}},
		Embedding: mockEmbeddingStats{},
		RateBurst: 1,
	})
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Health probes are outside the rate-limited stack.
	rec = doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
