// Package vectorstore persists embedded resource chunks and answers
// similarity searches over them.
//
// Two interchangeable backends sit behind the Store interface: a
// PostgreSQL + pgvector table (Postgres) and an embedded chromem-go
// collection (Chromem). Both honor the same contract: SearchSimilar never
// returns more than topK matches, every returned score satisfies the
// minimum threshold, and DeleteByResource is idempotent.
package vectorstore

import (
	"context"

	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/chunker"
)

// Search defaults.
const (
	DefaultTopK     = 5
	DefaultMinScore = 0.7
)

// StoredChunk is the persisted form of a chunk: content plus its embedding
// and provenance. The store assigns the ID.
type StoredChunk struct {
	ResourceID string
	SubjectID  string
	Content    string
	Embedding  []float32
	Metadata   chunker.Metadata
}

// Match is a single similarity-search result. Score is cosine similarity
// in [-1, 1].
type Match struct {
	ID       string
	Content  string
	Metadata chunker.Metadata
	Score    float32
}

// Store is the vector persistence contract both backends implement.
type Store interface {
	// StoreChunk persists one chunk and returns its assigned ID.
	StoreChunk(ctx context.Context, chunk StoredChunk) (string, error)

	// StoreChunks persists chunks in order, batched where the backend
	// supports it, returning assigned IDs positionally.
	StoreChunks(ctx context.Context, chunks []StoredChunk) ([]string, error)

	// SearchSimilar returns the chunks nearest to vector, best first,
	// honoring the topK and minimum-score options.
	SearchSimilar(ctx context.Context, vector []float32, opts ...SearchOption) ([]Match, error)

	// ListByResource returns up to limit chunks of a resource in
	// chunk-index order, without similarity scoring.
	ListByResource(ctx context.Context, resourceID string, limit int) ([]Match, error)

	// DeleteByResource removes all chunks of a resource. Deleting a
	// resource with no chunks is a no-op, not an error.
	DeleteByResource(ctx context.Context, resourceID string) error

	// Close releases backend resources.
	Close() error
}

// SearchOption configures a similarity search using the functional options
// pattern.
type SearchOption func(*searchConfig)

type searchConfig struct {
	resourceIDs []string
	subjectID   string
	topK        int
	minScore    float32
}

// WithResourceIDs restricts the search to chunks of the given resources.
func WithResourceIDs(ids ...string) SearchOption {
	return func(c *searchConfig) {
		c.resourceIDs = ids
	}
}

// WithSubjectID restricts the search to chunks of one subject.
func WithSubjectID(id string) SearchOption {
	return func(c *searchConfig) {
		c.subjectID = id
	}
}

// WithTopK sets the maximum number of matches. Default 5.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithMinScore sets the minimum cosine similarity a match must reach.
// Default 0.7.
func WithMinScore(score float32) SearchOption {
	return func(c *searchConfig) {
		c.minScore = score
	}
}

func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{
		topK:     DefaultTopK,
		minScore: DefaultMinScore,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
