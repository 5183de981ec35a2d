// Package api exposes the retrieval-and-grounding engine over HTTP:
// resource ingestion, grounded querying, structured summaries, and
// cache/readiness observability.
package api

import (
	"errors"
	"net/http"

	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/log"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger    log.Logger
	Engine    Orchestrator   // Required
	Resources ResourceStore  // Required
	Embedding EmbeddingStats // Required
	DB        pinger         // Optional: nil degrades /ready to liveness

	TrustProxy bool // Trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst  int  // Rate limiter burst size per IP (0 = default 60)

	// Retrieval defaults for queries that omit them. Zero defers to the
	// vector store defaults.
	DefaultTopK     int
	DefaultMinScore float32
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if cfg.Resources == nil {
		return nil, errors.New("resource store is required")
	}
	if cfg.Embedding == nil {
		return nil, errors.New("embedding service is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	rh := &ragHandler{
		engine:          cfg.Engine,
		resources:       cfg.Resources,
		logger:          logger,
		defaultTopK:     cfg.DefaultTopK,
		defaultMinScore: cfg.DefaultMinScore,
	}
	st := &statsHandler{engine: cfg.Engine, embedding: cfg.Embedding, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/resources/{id}/ingest", rh.ingest)
	mux.HandleFunc("POST /api/resources/{id}/summary", rh.summarize)
	mux.HandleFunc("GET /api/resources/{id}", rh.getResource)
	mux.HandleFunc("POST /api/query", rh.query)
	mux.HandleFunc("GET /api/queries", rh.recentQueries)
	mux.HandleFunc("GET /api/stats", st.getStats)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery -> Logging -> RateLimit -> Routes
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.DB))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
