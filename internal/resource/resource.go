// Package resource persists study-resource metadata, the indexing
// lifecycle, and the query audit log.
package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/log"
)

// ErrResourceNotFound is returned when an operation references a resource
// that does not exist.
var ErrResourceNotFound = errors.New("resource not found")

// Indexing lifecycle states.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusIndexed    = "indexed"
	StatusFailed     = "failed"
)

// Resource is a study material tracked through the indexing lifecycle.
// A failed resource keeps its row and stays visible; it is simply not
// searchable until re-ingested.
type Resource struct {
	ID          string
	SubjectID   string
	Title       string
	Description string
	Status      string
	ChunkCount  int
	LastError   string
	IndexedAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SourceRef records one chunk that grounded an answer.
type SourceRef struct {
	ChunkID string  `json:"chunkId"`
	Score   float32 `json:"score"`
}

// QueryLog is one answered query with its grounding provenance.
type QueryLog struct {
	ID         string
	SubjectID  string
	Query      string
	Answer     string
	Sources    []SourceRef
	TokensUsed int
	LatencyMs  int64
	CreatedAt  time.Time
}

// querier is the common interface satisfied by both *pgxpool.Pool and
// pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store manages resources and query logs in PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     querier
	logger log.Logger
}

// New creates a Store. db is typically a *pgxpool.Pool whose lifetime the
// caller manages.
func New(db querier, logger log.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{db: db, logger: logger}, nil
}

const upsertResourceSQL = `INSERT INTO resources (id, subject_id, title, description, status)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET
		subject_id = EXCLUDED.subject_id,
		title = EXCLUDED.title,
		description = EXCLUDED.description,
		updated_at = now()`

// Upsert inserts a resource or refreshes its descriptive fields. A new
// resource starts in the pending state; an existing one keeps its current
// indexing state.
func (s *Store) Upsert(ctx context.Context, r Resource) error {
	if r.ID == "" {
		return fmt.Errorf("resource id is required")
	}

	status := r.Status
	if status == "" {
		status = StatusPending
	}

	_, err := s.db.Exec(ctx, upsertResourceSQL,
		r.ID, nullableText(r.SubjectID), r.Title, r.Description, status)
	if err != nil {
		return fmt.Errorf("upserting resource %q: %w", r.ID, err)
	}
	return nil
}

const getResourceSQL = `SELECT id, subject_id, title, description, status, chunk_count,
		last_error, indexed_at, created_at, updated_at
	FROM resources WHERE id = $1`

// Get returns a resource by ID, or ErrResourceNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Resource, error) {
	var (
		r         Resource
		subjectID *string
		lastError *string
		indexedAt *time.Time
	)
	err := s.db.QueryRow(ctx, getResourceSQL, id).Scan(
		&r.ID, &subjectID, &r.Title, &r.Description, &r.Status, &r.ChunkCount,
		&lastError, &indexedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("resource %q: %w", id, ErrResourceNotFound)
		}
		return nil, fmt.Errorf("getting resource %q: %w", id, err)
	}

	if subjectID != nil {
		r.SubjectID = *subjectID
	}
	if lastError != nil {
		r.LastError = *lastError
	}
	if indexedAt != nil {
		r.IndexedAt = *indexedAt
	}
	return &r, nil
}

// MarkProcessing transitions a resource into the processing state.
func (s *Store) MarkProcessing(ctx context.Context, id string) error {
	return s.setStatus(ctx, id,
		`UPDATE resources SET status = $2, last_error = NULL, updated_at = now() WHERE id = $1`,
		StatusProcessing)
}

// MarkIndexed records a successful ingest with its chunk count.
func (s *Store) MarkIndexed(ctx context.Context, id string, chunkCount int) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE resources SET status = $2, chunk_count = $3, last_error = NULL,
			indexed_at = now(), updated_at = now() WHERE id = $1`,
		id, StatusIndexed, chunkCount)
	if err != nil {
		return fmt.Errorf("marking resource %q indexed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("resource %q: %w", id, ErrResourceNotFound)
	}

	s.logger.Debug("resource indexed", "resource_id", id, "chunks", chunkCount)
	return nil
}

// MarkFailed records an ingest failure. The resource row stays in place so
// the failure reason is visible and a re-ingest can be retried.
func (s *Store) MarkFailed(ctx context.Context, id string, reason string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE resources SET status = $2, last_error = $3, updated_at = now() WHERE id = $1`,
		id, StatusFailed, reason)
	if err != nil {
		return fmt.Errorf("marking resource %q failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("resource %q: %w", id, ErrResourceNotFound)
	}
	return nil
}

func (s *Store) setStatus(ctx context.Context, id, sql, status string) error {
	tag, err := s.db.Exec(ctx, sql, id, status)
	if err != nil {
		return fmt.Errorf("updating resource %q status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("resource %q: %w", id, ErrResourceNotFound)
	}
	return nil
}

const insertQueryLogSQL = `INSERT INTO query_logs (id, subject_id, query, answer, sources, tokens_used, latency_ms)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

// LogQuery persists one answered query. The assigned ID is returned.
func (s *Store) LogQuery(ctx context.Context, entry QueryLog) (string, error) {
	id := entry.ID
	if id == "" {
		id = uuid.NewString()
	}

	sources := entry.Sources
	if sources == nil {
		sources = []SourceRef{}
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return "", fmt.Errorf("marshaling query sources: %w", err)
	}

	_, err = s.db.Exec(ctx, insertQueryLogSQL,
		id, nullableText(entry.SubjectID), entry.Query, entry.Answer,
		sourcesJSON, entry.TokensUsed, entry.LatencyMs)
	if err != nil {
		return "", fmt.Errorf("logging query: %w", err)
	}
	return id, nil
}

const recentQueriesSQL = `SELECT id, subject_id, query, answer, sources, tokens_used, latency_ms, created_at
	FROM query_logs ORDER BY created_at DESC LIMIT $1`

// RecentQueries returns the newest query logs, most recent first.
func (s *Store) RecentQueries(ctx context.Context, limit int) ([]QueryLog, error) {
	const maxLimit = 1000
	if limit <= 0 || limit > maxLimit {
		return nil, fmt.Errorf("limit must be between 1 and %d, got %d", maxLimit, limit)
	}

	rows, err := s.db.Query(ctx, recentQueriesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing query logs: %w", err)
	}
	defer rows.Close()

	var logs []QueryLog
	for rows.Next() {
		var (
			entry       QueryLog
			subjectID   *string
			sourcesJSON []byte
		)
		if err := rows.Scan(&entry.ID, &subjectID, &entry.Query, &entry.Answer,
			&sourcesJSON, &entry.TokensUsed, &entry.LatencyMs, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning query log: %w", err)
		}
		if subjectID != nil {
			entry.SubjectID = *subjectID
		}
		if err := json.Unmarshal(sourcesJSON, &entry.Sources); err != nil {
			s.logger.Warn("failed to parse query sources", "query_id", entry.ID, "error", err)
			entry.Sources = nil
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading query logs: %w", err)
	}

	return logs, nil
}

// nullableText maps empty strings to SQL NULL.
func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}
