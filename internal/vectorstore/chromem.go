package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/chunker"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/log"
)

// ChromemCollection is the collection holding all resource chunks.
const ChromemCollection = "resource_chunks"

// chunkRef tracks where a stored document belongs so queries can be
// clamped to the number of documents a filter can actually match.
// chromem rejects nResults larger than the filtered document count.
type chunkRef struct {
	resourceID string
	subjectID  string
}

// Chromem stores chunks in an embedded in-memory chromem-go collection
// using cosine distance. The collection is created lazily on first use with
// the provider's vector dimensionality recorded in its metadata. Contents
// do not survive a restart; resources are re-ingested to repopulate it.
//
// Chromem is safe for concurrent use by multiple goroutines.
type Chromem struct {
	db        *chromem.DB
	dimension int
	logger    log.Logger

	mu         sync.Mutex
	collection *chromem.Collection
	refs       map[string]chunkRef // doc ID -> provenance
}

var _ Store = (*Chromem)(nil)

// NewChromem creates a chromem-backed store. dimension is the provider's
// fixed vector length and every stored or queried vector must match it.
func NewChromem(dimension int, logger log.Logger) (*Chromem, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &Chromem{
		db:        chromem.NewDB(),
		dimension: dimension,
		logger:    logger,
		refs:      make(map[string]chunkRef),
	}, nil
}

// getCollection creates the collection on first use. All vectors are
// precomputed, so the embedding func only guards against misuse.
// Callers must hold c.mu.
func (c *Chromem) getCollection() (*chromem.Collection, error) {
	if c.collection != nil {
		return c.collection, nil
	}

	col, err := c.db.GetOrCreateCollection(ChromemCollection,
		map[string]string{
			"distance":  "cosine",
			"dimension": strconv.Itoa(c.dimension),
		},
		func(_ context.Context, _ string) ([]float32, error) {
			return nil, errors.New("vectors must be precomputed")
		},
	)
	if err != nil {
		return nil, fmt.Errorf("creating collection %q: %w", ChromemCollection, err)
	}

	c.collection = col
	return col, nil
}

// StoreChunk implements Store.
func (c *Chromem) StoreChunk(ctx context.Context, chunk StoredChunk) (string, error) {
	ids, err := c.StoreChunks(ctx, []StoredChunk{chunk})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// StoreChunks implements Store using chromem's native batch upsert.
func (c *Chromem) StoreChunks(ctx context.Context, chunks []StoredChunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	ids := make([]string, len(chunks))
	docs := make([]chromem.Document, len(chunks))
	for i, chunk := range chunks {
		if len(chunk.Embedding) != c.dimension {
			return nil, fmt.Errorf("chunk %d has dimension %d, store expects %d",
				i, len(chunk.Embedding), c.dimension)
		}
		ids[i] = uuid.NewString()
		docs[i] = chromem.Document{
			ID:        ids[i],
			Content:   chunk.Content,
			Embedding: chunk.Embedding,
			Metadata:  encodeMetadata(chunk),
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	col, err := c.getCollection()
	if err != nil {
		return nil, err
	}
	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("adding documents: %w", err)
	}
	for i, chunk := range chunks {
		c.refs[ids[i]] = chunkRef{resourceID: chunk.ResourceID, subjectID: chunk.SubjectID}
	}

	c.logger.Debug("stored chunks", "count", len(chunks), "resource_id", chunks[0].ResourceID)
	return ids, nil
}

// SearchSimilar implements Store. chromem filters support exact metadata
// matches only, so a multi-resource filter runs one query per resource and
// merges the results before applying topK.
func (c *Chromem) SearchSimilar(ctx context.Context, vector []float32, opts ...SearchOption) ([]Match, error) {
	cfg := buildSearchConfig(opts)

	if len(vector) != c.dimension {
		return nil, fmt.Errorf("query vector has dimension %d, store expects %d",
			len(vector), c.dimension)
	}

	c.mu.Lock()
	col := c.collection
	queries := c.buildQueries(cfg)
	c.mu.Unlock()

	if col == nil {
		return nil, nil
	}

	var merged []Match
	for _, q := range queries {
		if q.n == 0 {
			continue
		}
		results, err := col.QueryEmbedding(ctx, vector, q.n, q.where, nil)
		if err != nil {
			return nil, fmt.Errorf("querying collection: %w", err)
		}
		for _, r := range results {
			if r.Similarity < cfg.minScore {
				continue
			}
			merged = append(merged, Match{
				ID:       r.ID,
				Content:  r.Content,
				Metadata: decodeMetadata(r.Metadata),
				Score:    r.Similarity,
			})
		}
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > cfg.topK {
		merged = merged[:cfg.topK]
	}
	return merged, nil
}

type chromemQuery struct {
	where map[string]string
	n     int
}

// buildQueries translates the search filter into per-query where clauses
// with nResults clamped to the number of documents each filter matches.
// Callers must hold c.mu.
func (c *Chromem) buildQueries(cfg *searchConfig) []chromemQuery {
	matches := func(ref chunkRef, resourceID string) bool {
		if resourceID != "" && ref.resourceID != resourceID {
			return false
		}
		if cfg.subjectID != "" && ref.subjectID != cfg.subjectID {
			return false
		}
		return true
	}

	count := func(resourceID string) int {
		n := 0
		for _, ref := range c.refs {
			if matches(ref, resourceID) {
				n++
			}
		}
		return n
	}

	clamp := func(n int) int {
		if cfg.topK < n {
			return cfg.topK
		}
		return n
	}

	if len(cfg.resourceIDs) == 0 {
		var where map[string]string
		if cfg.subjectID != "" {
			where = map[string]string{"subjectId": cfg.subjectID}
		}
		return []chromemQuery{{where: where, n: clamp(count(""))}}
	}

	queries := make([]chromemQuery, 0, len(cfg.resourceIDs))
	for _, id := range cfg.resourceIDs {
		where := map[string]string{"resourceId": id}
		if cfg.subjectID != "" {
			where["subjectId"] = cfg.subjectID
		}
		queries = append(queries, chromemQuery{where: where, n: clamp(count(id))})
	}
	return queries
}

// ListByResource implements Store. Chunks come back in chunk-index order.
func (c *Chromem) ListByResource(ctx context.Context, resourceID string, limit int) ([]Match, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	c.mu.Lock()
	col := c.collection
	var ids []string
	for id, ref := range c.refs {
		if ref.resourceID == resourceID {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()

	if col == nil || len(ids) == 0 {
		return nil, nil
	}

	matches := make([]Match, 0, len(ids))
	for _, id := range ids {
		doc, err := col.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("getting document %q: %w", id, err)
		}
		matches = append(matches, Match{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: decodeMetadata(doc.Metadata),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Metadata.ChunkIndex < matches[j].Metadata.ChunkIndex
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// DeleteByResource implements Store.
func (c *Chromem) DeleteByResource(ctx context.Context, resourceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.collection == nil {
		return nil // nothing stored yet
	}

	found := false
	for id, ref := range c.refs {
		if ref.resourceID == resourceID {
			delete(c.refs, id)
			found = true
		}
	}
	if !found {
		return nil
	}

	if err := c.collection.Delete(ctx, map[string]string{"resourceId": resourceID}, nil); err != nil {
		return fmt.Errorf("deleting chunks for resource %q: %w", resourceID, err)
	}

	c.logger.Debug("deleted resource chunks", "resource_id", resourceID)
	return nil
}

// Close implements Store.
func (*Chromem) Close() error { return nil }

// encodeMetadata flattens chunk provenance into chromem's string-only
// metadata map.
func encodeMetadata(chunk StoredChunk) map[string]string {
	m := map[string]string{
		"resourceId": chunk.ResourceID,
		"chunkIndex": strconv.Itoa(chunk.Metadata.ChunkIndex),
	}
	if chunk.SubjectID != "" {
		m["subjectId"] = chunk.SubjectID
	}
	if chunk.Metadata.ResourceTitle != "" {
		m["resourceTitle"] = chunk.Metadata.ResourceTitle
	}
	if chunk.Metadata.Page > 0 {
		m["page"] = strconv.Itoa(chunk.Metadata.Page)
	}
	if chunk.Metadata.Section != "" {
		m["section"] = chunk.Metadata.Section
	}
	if !chunk.Metadata.Timestamp.IsZero() {
		m["timestamp"] = chunk.Metadata.Timestamp.Format(time.RFC3339)
	}
	return m
}

// decodeMetadata rebuilds chunk provenance from the flattened map.
// Malformed fields fall back to zero values.
func decodeMetadata(m map[string]string) chunker.Metadata {
	meta := chunker.Metadata{
		ResourceID:    m["resourceId"],
		ResourceTitle: m["resourceTitle"],
		Section:       m["section"],
	}
	if v, err := strconv.Atoi(m["chunkIndex"]); err == nil {
		meta.ChunkIndex = v
	}
	if v, err := strconv.Atoi(m["page"]); err == nil {
		meta.Page = v
	}
	if t, err := time.Parse(time.RFC3339, m["timestamp"]); err == nil {
		meta.Timestamp = t
	}
	return meta
}
