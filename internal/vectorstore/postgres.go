package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/chunker"
	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/log"
)

// querier is the common interface satisfied by both *pgxpool.Pool and
// pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const insertChunkSQL = `INSERT INTO resource_chunks (id, resource_id, subject_id, content, embedding, metadata)
	VALUES ($1, $2, $3, $4, $5, $6)`

const deleteByResourceSQL = `DELETE FROM resource_chunks WHERE resource_id = $1`

// Postgres stores chunks in a single relational table with an indexed
// pgvector column.
//
// Postgres is safe for concurrent use by multiple goroutines.
type Postgres struct {
	db     querier
	logger log.Logger
}

var _ Store = (*Postgres)(nil)

// NewPostgres creates a pgvector-backed store. db is typically a
// *pgxpool.Pool whose lifetime the caller manages.
func NewPostgres(db querier, logger log.Logger) (*Postgres, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Postgres{db: db, logger: logger}, nil
}

// StoreChunk implements Store.
func (p *Postgres) StoreChunk(ctx context.Context, chunk StoredChunk) (string, error) {
	id := uuid.NewString()

	metadataJSON, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshaling chunk metadata: %w", err)
	}

	_, err = p.db.Exec(ctx, insertChunkSQL,
		id, chunk.ResourceID, nullableText(chunk.SubjectID), chunk.Content,
		pgvector.NewVector(chunk.Embedding), metadataJSON)
	if err != nil {
		return "", fmt.Errorf("inserting chunk for resource %q: %w", chunk.ResourceID, err)
	}

	return id, nil
}

// StoreChunks implements Store using a single pgx batch round-trip.
func (p *Postgres) StoreChunks(ctx context.Context, chunks []StoredChunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	ids := make([]string, len(chunks))
	batch := &pgx.Batch{}

	for i, chunk := range chunks {
		ids[i] = uuid.NewString()

		metadataJSON, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshaling metadata for chunk %d: %w", i, err)
		}
		batch.Queue(insertChunkSQL,
			ids[i], chunk.ResourceID, nullableText(chunk.SubjectID), chunk.Content,
			pgvector.NewVector(chunk.Embedding), metadataJSON)
	}

	results := p.db.SendBatch(ctx, batch)
	defer func() {
		if err := results.Close(); err != nil {
			p.logger.Warn("closing batch results", "error", err)
		}
	}()

	for i := range chunks {
		if _, err := results.Exec(); err != nil {
			return nil, fmt.Errorf("inserting chunk %d: %w", i, err)
		}
	}

	p.logger.Debug("stored chunks", "count", len(chunks), "resource_id", chunks[0].ResourceID)
	return ids, nil
}

// SearchSimilar implements Store. The similarity threshold is applied
// client-side after the database LIMIT: a topK of 5 can therefore return
// fewer than 5 qualifying matches even when more exist past the limit
// cursor.
func (p *Postgres) SearchSimilar(ctx context.Context, vector []float32, opts ...SearchOption) ([]Match, error) {
	cfg := buildSearchConfig(opts)

	var sb strings.Builder
	sb.WriteString(`SELECT id, content, metadata, 1 - (embedding <=> $1) AS score
	FROM resource_chunks`)

	args := []any{pgvector.NewVector(vector)}
	var conds []string

	if len(cfg.resourceIDs) > 0 {
		args = append(args, cfg.resourceIDs)
		conds = append(conds, fmt.Sprintf("resource_id = ANY($%d)", len(args)))
	}
	if cfg.subjectID != "" {
		args = append(args, cfg.subjectID)
		conds = append(conds, fmt.Sprintf("subject_id = $%d", len(args)))
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}

	args = append(args, cfg.topK)
	sb.WriteString(fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT $%d", len(args)))

	rows, err := p.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m            Match
			metadataJSON []byte
			score        float64
		)
		if err := rows.Scan(&m.ID, &m.Content, &metadataJSON, &score); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}

		if err := json.Unmarshal(metadataJSON, &m.Metadata); err != nil {
			p.logger.Warn("failed to parse chunk metadata", "chunk_id", m.ID, "error", err)
			m.Metadata = chunker.Metadata{}
		}

		m.Score = float32(score)
		if m.Score < cfg.minScore {
			continue
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading matches: %w", err)
	}

	return matches, nil
}

const listByResourceSQL = `SELECT id, content, metadata
	FROM resource_chunks WHERE resource_id = $1
	ORDER BY (metadata->>'chunkIndex')::int LIMIT $2`

// ListByResource implements Store. Chunks come back in chunk-index order.
func (p *Postgres) ListByResource(ctx context.Context, resourceID string, limit int) ([]Match, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	rows, err := p.db.Query(ctx, listByResourceSQL, resourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing chunks for resource %q: %w", resourceID, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m            Match
			metadataJSON []byte
		)
		if err := rows.Scan(&m.ID, &m.Content, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &m.Metadata); err != nil {
			p.logger.Warn("failed to parse chunk metadata", "chunk_id", m.ID, "error", err)
			m.Metadata = chunker.Metadata{}
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading chunks: %w", err)
	}

	return matches, nil
}

// DeleteByResource implements Store.
func (p *Postgres) DeleteByResource(ctx context.Context, resourceID string) error {
	tag, err := p.db.Exec(ctx, deleteByResourceSQL, resourceID)
	if err != nil {
		return fmt.Errorf("deleting chunks for resource %q: %w", resourceID, err)
	}

	p.logger.Debug("deleted resource chunks", "resource_id", resourceID, "count", tag.RowsAffected())
	return nil
}

// Close implements Store. The connection pool is managed by the caller.
func (*Postgres) Close() error { return nil }

// nullableText maps empty strings to SQL NULL.
func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}
