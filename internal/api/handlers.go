package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/cache"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/log"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/rag"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/resource"
)

// maxRequestBody bounds JSON request bodies. Ingest payloads carry whole
// documents, so the limit is generous.
const maxRequestBody = 10 << 20 // 10 MiB

// Orchestrator is the slice of rag.Engine the handlers need.
type Orchestrator interface {
	Ingest(ctx context.Context, resourceID, text string) (*rag.IngestResult, error)
	Query(ctx context.Context, query string, opts rag.QueryOptions) (*rag.QueryResult, error)
	Summarize(ctx context.Context, resourceID string) (*rag.Summary, error)
	CacheStats() cache.Stats
}

// ResourceStore is the slice of resource.Store the handlers need.
type ResourceStore interface {
	Get(ctx context.Context, id string) (*resource.Resource, error)
	Upsert(ctx context.Context, r resource.Resource) error
	RecentQueries(ctx context.Context, limit int) ([]resource.QueryLog, error)
}

// EmbeddingStats is the slice of embedding.Service the handlers need.
type EmbeddingStats interface {
	CacheStats() cache.Stats
	Dimension() int
}

type ragHandler struct {
	engine    Orchestrator
	resources ResourceStore
	logger    log.Logger

	// Retrieval defaults applied when a query omits them. Zero values
	// defer to the vector store's own defaults.
	defaultTopK     int
	defaultMinScore float32
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return false
	}
	return true
}

type ingestRequest struct {
	Text        string `json:"text"`
	Title       string `json:"title"`
	SubjectID   string `json:"subjectId"`
	Description string `json:"description"`
}

// ingest registers (or refreshes) a resource and indexes its text.
func (h *ragHandler) ingest(w http.ResponseWriter, r *http.Request) {
	resourceID := r.PathValue("id")

	var req ingestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "missing_text", "text is required")
		return
	}

	if err := h.resources.Upsert(r.Context(), resource.Resource{
		ID:          resourceID,
		SubjectID:   req.SubjectID,
		Title:       req.Title,
		Description: req.Description,
	}); err != nil {
		h.logger.Error("resource upsert failed", "resource_id", resourceID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not register resource")
		return
	}

	result, err := h.engine.Ingest(r.Context(), resourceID, req.Text)
	if err != nil {
		h.logger.Error("ingest failed", "resource_id", resourceID, "error", err)
		writeError(w, http.StatusBadGateway, "ingest_failed", "could not index resource content")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type queryRequest struct {
	Query       string   `json:"query"`
	ResourceIDs []string `json:"resourceIds"`
	SubjectID   string   `json:"subjectId"`
	TopK        int      `json:"topK"`
	MinScore    float32  `json:"minScore"`
}

// query answers a question grounded in indexed material.
func (h *ragHandler) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "missing_query", "query is required")
		return
	}

	topK := req.TopK
	if topK <= 0 {
		topK = h.defaultTopK
	}
	minScore := req.MinScore
	if minScore <= 0 {
		minScore = h.defaultMinScore
	}

	result, err := h.engine.Query(r.Context(), req.Query, rag.QueryOptions{
		ResourceIDs: req.ResourceIDs,
		SubjectID:   req.SubjectID,
		TopK:        topK,
		MinScore:    minScore,
	})
	if err != nil {
		// Upstream provider detail stays in the log, not the response.
		h.logger.Error("query failed", "error", err)
		writeError(w, http.StatusBadGateway, "generation_failed", "could not generate an answer")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// summarize produces a structured summary of a resource.
func (h *ragHandler) summarize(w http.ResponseWriter, r *http.Request) {
	resourceID := r.PathValue("id")

	summary, err := h.engine.Summarize(r.Context(), resourceID)
	if err != nil {
		if errors.Is(err, resource.ErrResourceNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "resource not found")
			return
		}
		h.logger.Error("summarize failed", "resource_id", resourceID, "error", err)
		writeError(w, http.StatusBadGateway, "generation_failed", "could not generate a summary")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

type resourceResponse struct {
	ID         string     `json:"id"`
	SubjectID  string     `json:"subjectId,omitempty"`
	Title      string     `json:"title"`
	Status     string     `json:"status"`
	ChunkCount int        `json:"chunkCount"`
	LastError  string     `json:"lastError,omitempty"`
	IndexedAt  *time.Time `json:"indexedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// getResource reports a resource's indexing state.
func (h *ragHandler) getResource(w http.ResponseWriter, r *http.Request) {
	resourceID := r.PathValue("id")

	res, err := h.resources.Get(r.Context(), resourceID)
	if err != nil {
		if errors.Is(err, resource.ErrResourceNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "resource not found")
			return
		}
		h.logger.Error("get resource failed", "resource_id", resourceID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load resource")
		return
	}

	resp := resourceResponse{
		ID:         res.ID,
		SubjectID:  res.SubjectID,
		Title:      res.Title,
		Status:     res.Status,
		ChunkCount: res.ChunkCount,
		LastError:  res.LastError,
		CreatedAt:  res.CreatedAt,
		UpdatedAt:  res.UpdatedAt,
	}
	if !res.IndexedAt.IsZero() {
		t := res.IndexedAt
		resp.IndexedAt = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

type queryLogResponse struct {
	ID         string               `json:"id"`
	SubjectID  string               `json:"subjectId,omitempty"`
	Query      string               `json:"query"`
	Answer     string               `json:"answer"`
	Sources    []resource.SourceRef `json:"sources"`
	TokensUsed int                  `json:"tokensUsed"`
	LatencyMs  int64                `json:"latencyMs"`
	CreatedAt  time.Time            `json:"createdAt"`
}

// recentQueries lists the newest answered queries.
func (h *ragHandler) recentQueries(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	logs, err := h.resources.RecentQueries(r.Context(), limit)
	if err != nil {
		h.logger.Error("listing query logs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not list queries")
		return
	}

	resp := make([]queryLogResponse, len(logs))
	for i, l := range logs {
		resp[i] = queryLogResponse{
			ID:         l.ID,
			SubjectID:  l.SubjectID,
			Query:      l.Query,
			Answer:     l.Answer,
			Sources:    l.Sources,
			TokensUsed: l.TokensUsed,
			LatencyMs:  l.LatencyMs,
			CreatedAt:  l.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": resp})
}

type cacheStatsResponse struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hitRate"`
}

type statsHandler struct {
	engine    Orchestrator
	embedding EmbeddingStats
	logger    log.Logger
}

// getStats reports cache hit rates and the active vector dimensionality.
func (h *statsHandler) getStats(w http.ResponseWriter, _ *http.Request) {
	emb := h.embedding.CacheStats()
	ans := h.engine.CacheStats()

	writeJSON(w, http.StatusOK, map[string]any{
		"embeddingCache": cacheStatsResponse{
			Hits: emb.Hits, Misses: emb.Misses, Size: emb.Size, HitRate: emb.HitRate(),
		},
		"answerCache": cacheStatsResponse{
			Hits: ans.Hits, Misses: ans.Misses, Size: ans.Size, HitRate: ans.HitRate(),
		},
		"vectorDimension": h.embedding.Dimension(),
	})
}
