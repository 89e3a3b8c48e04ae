// Package analytics records every answered query and aggregates the log
// for the maintenance cycle and reporting endpoints.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/homeinal/gurag/internal/log"
)

// ErrNotFound is returned when a record addressed by ID does not exist.
var ErrNotFound = errors.New("analytics record not found")

// Feedback values. Zero means no feedback was given.
const (
	FeedbackPositive = 1
	FeedbackNegative = -1
)

// Record is one answered query.
type Record struct {
	ID           uuid.UUID `json:"id"`
	UserID       string    `json:"user_id,omitempty"`
	QueryText    string    `json:"query_text"`
	ResponseText string    `json:"response_text"`
	SourceType   string    `json:"source_type"`
	Feedback     int       `json:"feedback,omitempty"`
	LatencyMS    int       `json:"latency_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// Summary aggregates the log over a trailing window.
type Summary struct {
	TotalQueries  int            `json:"total_queries"`
	BySourceType  map[string]int `json:"by_source_type"`
	PositiveCount int            `json:"positive_count"`
	NegativeCount int            `json:"negative_count"`
	AvgLatencyMS  float64        `json:"avg_latency_ms"`
}

// QueryCount is an aggregate row: a query text with how often it
// appeared. Popular additionally fills in the feedback tallies.
type QueryCount struct {
	QueryText string `json:"query_text"`
	Count     int    `json:"count"`
	Positive  int    `json:"positive,omitempty"`
	Negative  int    `json:"negative,omitempty"`
}

// Store is the analytics log backed by PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates an analytics Store.
func NewStore(pool *pgxpool.Pool, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Append records an answered query and returns the record's ID.
func (s *Store) Append(ctx context.Context, userID, queryText, responseText, sourceType string, latencyMS int) (uuid.UUID, error) {
	if strings.TrimSpace(queryText) == "" {
		return uuid.Nil, fmt.Errorf("query text is required")
	}

	var uid *string
	if userID != "" {
		uid = &userID
	}

	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		`INSERT INTO query_analytics (user_id, query_text, response_text, source_type, latency_ms)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		uid, queryText, responseText, sourceType, latencyMS,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("appending analytics record: %w", err)
	}
	return id, nil
}

// SetFeedback attaches user feedback (1 or -1) to an existing record.
func (s *Store) SetFeedback(ctx context.Context, id uuid.UUID, feedback int) error {
	if feedback != FeedbackPositive && feedback != FeedbackNegative {
		return fmt.Errorf("feedback must be %d or %d, got %d", FeedbackPositive, FeedbackNegative, feedback)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE query_analytics SET feedback = $2 WHERE id = $1`, id, feedback)
	if err != nil {
		return fmt.Errorf("setting feedback: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Summarize aggregates the log over the trailing window.
func (s *Store) Summarize(ctx context.Context, window time.Duration) (*Summary, error) {
	since := time.Now().Add(-window)

	sum := &Summary{BySourceType: make(map[string]int)}
	err := s.pool.QueryRow(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE feedback = 1),
		        count(*) FILTER (WHERE feedback = -1),
		        COALESCE(avg(latency_ms), 0)
		 FROM query_analytics
		 WHERE created_at >= $1`,
		since,
	).Scan(&sum.TotalQueries, &sum.PositiveCount, &sum.NegativeCount, &sum.AvgLatencyMS)
	if err != nil {
		return nil, fmt.Errorf("summarizing analytics: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT source_type, count(*)
		 FROM query_analytics
		 WHERE created_at >= $1
		 GROUP BY source_type`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("grouping by source type: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			sourceType string
			count      int
		)
		if err := rows.Scan(&sourceType, &count); err != nil {
			return nil, fmt.Errorf("scanning source type count: %w", err)
		}
		sum.BySourceType[sourceType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating source type counts: %w", err)
	}
	return sum, nil
}

// Popular returns the most frequent queries over the trailing window,
// ignoring cache-served records so pre-warming targets queries that
// actually exercised the pipeline.
func (s *Store) Popular(ctx context.Context, window time.Duration, minCount, limit int) ([]QueryCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT query_text, count(*) AS cnt,
		        count(*) FILTER (WHERE feedback = 1),
		        count(*) FILTER (WHERE feedback = -1)
		 FROM query_analytics
		 WHERE created_at >= $1 AND source_type <> 'cache'
		 GROUP BY query_text
		 HAVING count(*) >= $2
		 ORDER BY cnt DESC, query_text
		 LIMIT $3`,
		time.Now().Add(-window), minCount, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing popular queries: %w", err)
	}
	defer rows.Close()

	var counts []QueryCount
	for rows.Next() {
		var qc QueryCount
		if err := rows.Scan(&qc.QueryText, &qc.Count, &qc.Positive, &qc.Negative); err != nil {
			return nil, fmt.Errorf("scanning popular query: %w", err)
		}
		counts = append(counts, qc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating popular queries: %w", err)
	}
	return counts, nil
}

// NegativeQueries returns queries that accumulated at least minNegative
// negative feedback marks over the trailing window.
func (s *Store) NegativeQueries(ctx context.Context, window time.Duration, minNegative int) ([]QueryCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT query_text, count(*) AS cnt
		 FROM query_analytics
		 WHERE created_at >= $1 AND feedback = -1
		 GROUP BY query_text
		 HAVING count(*) >= $2
		 ORDER BY cnt DESC, query_text`,
		time.Now().Add(-window), minNegative,
	)
	if err != nil {
		return nil, fmt.Errorf("listing negative queries: %w", err)
	}
	defer rows.Close()

	return scanQueryCounts(rows)
}

// PositiveQueries returns queries with at least threshold positive
// feedback marks over the trailing window.
func (s *Store) PositiveQueries(ctx context.Context, window time.Duration, threshold int) ([]QueryCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT query_text, count(*) AS cnt
		 FROM query_analytics
		 WHERE created_at >= $1 AND feedback = 1
		 GROUP BY query_text
		 HAVING count(*) >= $2
		 ORDER BY cnt DESC, query_text`,
		time.Now().Add(-window), threshold,
	)
	if err != nil {
		return nil, fmt.Errorf("listing positive queries: %w", err)
	}
	defer rows.Close()

	return scanQueryCounts(rows)
}

// Recent returns the newest records, most recent first. An empty
// userID returns records for all users.
func (s *Store) Recent(ctx context.Context, limit int, userID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, query_text, response_text, source_type, feedback, latency_ms, created_at
		 FROM query_analytics
		 WHERE $2 = '' OR user_id = $2
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing recent records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r        Record
			userID   *string
			feedback *int16
			latency  *int32
		)
		err := rows.Scan(&r.ID, &userID, &r.QueryText, &r.ResponseText,
			&r.SourceType, &feedback, &latency, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		if userID != nil {
			r.UserID = *userID
		}
		if feedback != nil {
			r.Feedback = int(*feedback)
		}
		if latency != nil {
			r.LatencyMS = int(*latency)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return records, nil
}

func scanQueryCounts(rows pgx.Rows) ([]QueryCount, error) {
	var counts []QueryCount
	for rows.Next() {
		var qc QueryCount
		if err := rows.Scan(&qc.QueryText, &qc.Count); err != nil {
			return nil, fmt.Errorf("scanning query count: %w", err)
		}
		counts = append(counts, qc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating query counts: %w", err)
	}
	return counts, nil
}
