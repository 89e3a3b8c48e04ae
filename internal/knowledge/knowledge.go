// Package knowledge stores reference documents and retrieves them by
// vector similarity.
package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/homeinal/gurag/internal/llm"
	"github.com/homeinal/gurag/internal/log"
)

// Document is one stored reference text.
type Document struct {
	ID         uuid.UUID
	Content    string
	Title      string
	URL        string
	SourceType string
	CreatedAt  time.Time
}

// Result is a search hit with its cosine similarity score.
type Result struct {
	Document   Document
	Similarity float64
}

// SearchOption configures Search using the functional options pattern.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK     int
	minScore float64
}

// WithTopK sets the maximum number of results. Default is 5.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		c.topK = k
	}
}

// WithMinScore drops results below the given similarity. Default is 0.3.
func WithMinScore(score float64) SearchOption {
	return func(c *searchConfig) {
		c.minScore = score
	}
}

func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{topK: 5, minScore: 0.3}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Store manages the document collection backed by PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool     *pgxpool.Pool
	embedder llm.Embedder
	logger   log.Logger
}

// NewStore creates a knowledge Store.
func NewStore(pool *pgxpool.Pool, embedder llm.Embedder, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, embedder: embedder, logger: logger}, nil
}

// Add embeds content and stores it as a document.
func (s *Store) Add(ctx context.Context, content, title, url string) (uuid.UUID, error) {
	if strings.TrimSpace(content) == "" {
		return uuid.Nil, fmt.Errorf("content is required")
	}

	vec, err := s.embed(ctx, content)
	if err != nil {
		return uuid.Nil, fmt.Errorf("embedding document: %w", err)
	}

	var id uuid.UUID
	err = s.pool.QueryRow(ctx,
		`INSERT INTO documents (content, embedding, title, url)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		content, vec, title, url,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting document: %w", err)
	}

	s.logger.Debug("document added", "id", id, "title", title)
	return id, nil
}

// Search returns the documents most similar to query, ordered by cosine
// similarity descending.
func (s *Store) Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	cfg := buildSearchConfig(opts)

	vec, err := s.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, content, title, url, source_type, created_at,
		        1 - (embedding <=> $1) AS similarity
		 FROM documents
		 WHERE 1 - (embedding <=> $1) >= $2
		 ORDER BY embedding <=> $1
		 LIMIT $3`,
		vec, cfg.minScore, cfg.topK,
	)
	if err != nil {
		return nil, fmt.Errorf("searching documents: %w", err)
	}
	defer rows.Close()

	return scanResults(rows)
}

// Count reports the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	embedCtx, cancel := context.WithTimeout(ctx, llm.EmbedTimeout)
	defer cancel()

	vals, err := s.embedder.Embed(embedCtx, text)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(vals), nil
}

func scanResults(rows pgx.Rows) ([]Result, error) {
	var results []Result
	for rows.Next() {
		var r Result
		err := rows.Scan(&r.Document.ID, &r.Document.Content, &r.Document.Title,
			&r.Document.URL, &r.Document.SourceType, &r.Document.CreatedAt, &r.Similarity)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return results, nil
}
