// Package embedding provides the cache-checked embedding service sitting
// between the engine and the text-vectorization capability.
package embedding

import (
	"context"
	"fmt"

	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/cache"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/log"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/provider"
)

// Entry is the embedding-namespace cache value.
type Entry struct {
	Embedding  []float32
	TokenCount int
}

// NewCache creates the embedding-namespace cache with its default TTL and
// capacity.
func NewCache(logger log.Logger) *cache.Cache[Entry] {
	return cache.New[Entry](cache.EmbeddingTTL, cache.EmbeddingCapacity, logger)
}

// Service embeds text through a provider.Vectorizer, consulting the result
// cache first. Embeddings of a fixed string never change, so cached entries
// stay valid across resource mutations.
//
// Service is safe for concurrent use by multiple goroutines.
type Service struct {
	vectorizer provider.Vectorizer
	cache      *cache.Cache[Entry]
	logger     log.Logger
}

// NewService creates an embedding service.
func NewService(v provider.Vectorizer, c *cache.Cache[Entry], logger log.Logger) *Service {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Service{vectorizer: v, cache: c, logger: logger}
}

// Embed returns the vector and token count for text, from cache when
// possible.
func (s *Service) Embed(ctx context.Context, text string) (provider.Embedding, error) {
	key := cache.Key(text)
	if e, ok := s.cache.Get(key); ok {
		return provider.Embedding{Vector: e.Embedding, TokenCount: e.TokenCount}, nil
	}

	emb, err := s.vectorizer.Embed(ctx, text)
	if err != nil {
		return provider.Embedding{}, fmt.Errorf("embedding text: %w", err)
	}

	s.cache.Set(key, Entry{Embedding: emb.Vector, TokenCount: emb.TokenCount})
	return emb, nil
}

// EmbedBatch embeds texts preserving input order. Cached texts are filled
// directly; the uncached remainder goes to the provider in batches of at
// most provider.MaxEmbedBatch, written back at their original index. A
// provider failure fails the whole call; partial batches are never
// committed.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([]provider.Embedding, error) {
	out := make([]provider.Embedding, len(texts))

	var missIdx []int
	for i, text := range texts {
		if e, ok := s.cache.Get(cache.Key(text)); ok {
			out[i] = provider.Embedding{Vector: e.Embedding, TokenCount: e.TokenCount}
			continue
		}
		missIdx = append(missIdx, i)
	}

	if len(missIdx) > 0 {
		s.logger.Debug("embedding batch",
			"total", len(texts), "cached", len(texts)-len(missIdx), "to_fetch", len(missIdx))
	}

	for start := 0; start < len(missIdx); start += provider.MaxEmbedBatch {
		end := min(start+provider.MaxEmbedBatch, len(missIdx))
		idx := missIdx[start:end]

		sub := make([]string, len(idx))
		for j, i := range idx {
			sub[j] = texts[i]
		}

		embs, err := s.vectorizer.EmbedBatch(ctx, sub)
		if err != nil {
			return nil, fmt.Errorf("embedding batch: %w", err)
		}
		if len(embs) != len(sub) {
			return nil, fmt.Errorf("embedding batch: got %d results for %d inputs", len(embs), len(sub))
		}

		for j, i := range idx {
			out[i] = embs[j]
			s.cache.Set(cache.Key(texts[i]), Entry{Embedding: embs[j].Vector, TokenCount: embs[j].TokenCount})
		}
	}

	return out, nil
}

// Dimension returns the provider's fixed vector length.
func (s *Service) Dimension() int { return s.vectorizer.Dimension() }

// CacheStats exposes embedding-cache counters for observability.
func (s *Service) CacheStats() cache.Stats { return s.cache.Stats() }
