// Package cache stores generated answers keyed by query meaning.
//
// Lookup is a two-step ladder: vector similarity over query embeddings
// first, exact digest match as the fallback when embedding is
// unavailable. Entries carry a TTL and a hit count that the maintenance
// cycle uses to decide what to keep warm.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/homeinal/gurag/internal/llm"
	"github.com/homeinal/gurag/internal/log"
	"github.com/homeinal/gurag/internal/source"
)

var (
	// ErrMiss is returned by Lookup when no live entry matches.
	ErrMiss = errors.New("cache miss")
	// ErrNotFound is returned when an entry addressed by digest does not exist.
	ErrNotFound = errors.New("cache entry not found")
)

// Hit kinds reported by Lookup.
const (
	HitSemantic = "semantic"
	HitExact    = "exact"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// entryCols is the standard SELECT column list for scanEntry.
const entryCols = `id, query_hash, query_text, response, sources, hit_count, created_at, expires_at`

// Entry is one cached answer.
type Entry struct {
	ID        uuid.UUID
	QueryHash string
	QueryText string
	Response  string
	Sources   []source.Citation
	HitCount  int
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Hit is a successful lookup. Kind tells which ladder step matched and
// Similarity is set for semantic hits only.
type Hit struct {
	Entry      Entry
	Kind       string
	Similarity float64
}

// Stats summarizes cache occupancy.
type Stats struct {
	TotalEntries   int   `json:"total_entries"`
	ActiveEntries  int   `json:"active_entries"`
	ExpiredEntries int   `json:"expired_entries"`
	TotalHits      int64 `json:"total_hits"`
}

// Store is the answer cache backed by PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool      *pgxpool.Pool
	embedder  llm.Embedder
	threshold float64
	ttl       time.Duration
	semantic  bool
	logger    log.Logger
}

// NewStore creates a cache Store. threshold is the minimum cosine
// similarity for a semantic hit and ttl is the lifetime of new entries.
// Semantic matching starts enabled; see DisableSemantic.
func NewStore(pool *pgxpool.Pool, embedder llm.Embedder, threshold float64, ttl time.Duration, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold %v out of range (0, 1]", threshold)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be positive")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, embedder: embedder, threshold: threshold, ttl: ttl, semantic: true, logger: logger}, nil
}

// DisableSemantic restricts lookups to exact digest matching. Entries
// are still embedded on Put so re-enabling needs no backfill.
func (s *Store) DisableSemantic() {
	s.semantic = false
}

// Normalize canonicalizes a query for digest computation: lower case,
// runs of whitespace collapsed to single spaces, surrounding whitespace
// trimmed.
func Normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Digest returns the 32-character hex digest of the normalized query.
func Digest(query string) string {
	sum := sha256.Sum256([]byte(Normalize(query)))
	return hex.EncodeToString(sum[:])[:32]
}

// Lookup finds a live cached answer for query. Semantic similarity is
// tried first; when embedding fails the exact digest match still
// answers, so a degraded embedder never takes the cache down with it.
// Semantic hits increment the entry's hit count.
func (s *Store) Lookup(ctx context.Context, query string) (*Hit, error) {
	if s.semantic {
		vec, err := s.embed(ctx, query)
		if err != nil {
			s.logger.Warn("embedding failed, falling back to exact match", "error", err)
		} else {
			hit, err := s.semanticLookup(ctx, vec)
			if err == nil {
				return hit, nil
			}
			if !errors.Is(err, ErrMiss) {
				return nil, err
			}
		}
	}
	return s.exactLookup(ctx, Digest(query))
}

func (s *Store) semanticLookup(ctx context.Context, vec pgvector.Vector) (*Hit, error) {
	var (
		hash       string
		similarity float64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT query_hash, 1 - (query_embedding <=> $1) AS similarity
		 FROM query_cache
		 WHERE query_embedding IS NOT NULL AND expires_at > now()
		 ORDER BY query_embedding <=> $1
		 LIMIT 1`,
		vec,
	).Scan(&hash, &similarity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("semantic lookup: %w", err)
	}
	if similarity < s.threshold {
		return nil, ErrMiss
	}

	// Single UPDATE keeps concurrent hits from losing increments.
	row := s.pool.QueryRow(ctx,
		`UPDATE query_cache SET hit_count = hit_count + 1
		 WHERE query_hash = $1
		 RETURNING `+entryCols,
		hash,
	)
	entry, err := scanEntry(row)
	if err != nil {
		return nil, fmt.Errorf("recording semantic hit: %w", err)
	}

	s.logger.Debug("semantic cache hit", "query_hash", hash, "similarity", similarity)
	return &Hit{Entry: *entry, Kind: HitSemantic, Similarity: similarity}, nil
}

func (s *Store) exactLookup(ctx context.Context, hash string) (*Hit, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entryCols+`
		 FROM query_cache
		 WHERE query_hash = $1 AND expires_at > now()`,
		hash,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("exact lookup: %w", err)
	}

	s.logger.Debug("exact cache hit", "query_hash", hash)
	return &Hit{Entry: *entry, Kind: HitExact}, nil
}

// Put stores an answer for query, replacing any previous entry with the
// same digest. Replacement resets the hit count and restarts the TTL.
// When embedding fails the entry is stored without a vector and remains
// reachable by exact match; an existing vector is kept in that case.
func (s *Store) Put(ctx context.Context, query, response string, sources []source.Citation) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("query is required")
	}
	if response == "" {
		return fmt.Errorf("response is required")
	}

	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("encoding sources: %w", err)
	}

	var vec *pgvector.Vector
	if v, err := s.embed(ctx, query); err != nil {
		s.logger.Warn("storing cache entry without embedding", "error", err)
	} else {
		vec = &v
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO query_cache (query_hash, query_text, query_embedding, response, sources, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (query_hash) DO UPDATE SET
		     query_text      = EXCLUDED.query_text,
		     query_embedding = COALESCE(EXCLUDED.query_embedding, query_cache.query_embedding),
		     response        = EXCLUDED.response,
		     sources         = EXCLUDED.sources,
		     hit_count       = 0,
		     created_at      = now(),
		     expires_at      = EXCLUDED.expires_at`,
		Digest(query), query, vec, response, sourcesJSON, time.Now().Add(s.ttl),
	)
	if err != nil {
		return fmt.Errorf("storing cache entry: %w", err)
	}
	return nil
}

// Invalidate removes the entry addressed by the query's digest.
func (s *Store) Invalidate(ctx context.Context, query string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM query_cache WHERE query_hash = $1`, Digest(query))
	if err != nil {
		return fmt.Errorf("invalidating cache entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Contains reports whether a live entry exists for the query's digest.
func (s *Store) Contains(ctx context.Context, query string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM query_cache
		     WHERE query_hash = $1 AND expires_at > now()
		 )`,
		Digest(query),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking cache entry: %w", err)
	}
	return exists, nil
}

// Cleanup deletes entries that failed to earn their keep: older than
// maxAge with a hit count at or below minHitCount. Expiry is not
// consulted, so a stale entry kept alive by TTL extensions still goes
// when nobody matches it semantically. Returns the number deleted.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration, minHitCount int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM query_cache
		 WHERE created_at < $1
		   AND hit_count <= $2`,
		time.Now().Add(-maxAge), minHitCount,
	)
	if err != nil {
		return 0, fmt.Errorf("cleaning up cache: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ExtendTTL resets the entry's expiry to extension from now. Assigning
// rather than adding keeps repeated extensions from compounding and
// revives an entry whose expiry already passed.
func (s *Store) ExtendTTL(ctx context.Context, queryHash string, extension time.Duration) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE query_cache
		 SET expires_at = now() + make_interval(secs => $2)
		 WHERE query_hash = $1`,
		queryHash, extension.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("extending cache ttl: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SimilarEntry pairs a cached query with its similarity to a probe.
type SimilarEntry struct {
	QueryText  string  `json:"query_text"`
	QueryHash  string  `json:"query_hash"`
	Similarity float64 `json:"similarity"`
	HitCount   int     `json:"hit_count"`
}

// FindSimilar lists live entries near query, best first. Meant for
// threshold tuning, not the serving path: no hit counts are touched.
func (s *Store) FindSimilar(ctx context.Context, query string, limit int, minSimilarity float64) ([]SimilarEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	vec, err := s.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT query_text, query_hash, 1 - (query_embedding <=> $1) AS similarity, hit_count
		 FROM query_cache
		 WHERE query_embedding IS NOT NULL
		   AND expires_at > now()
		   AND 1 - (query_embedding <=> $1) >= $2
		 ORDER BY query_embedding <=> $1
		 LIMIT $3`,
		vec, minSimilarity, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("finding similar entries: %w", err)
	}
	defer rows.Close()

	var out []SimilarEntry
	for rows.Next() {
		var e SimilarEntry
		if err := rows.Scan(&e.QueryText, &e.QueryHash, &e.Similarity, &e.HitCount); err != nil {
			return nil, fmt.Errorf("scanning similar entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading similar entries: %w", err)
	}
	return out, nil
}

// Stats reports cache occupancy counters.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE expires_at > now()),
		        count(*) FILTER (WHERE expires_at <= now()),
		        COALESCE(sum(hit_count), 0)
		 FROM query_cache`,
	).Scan(&st.TotalEntries, &st.ActiveEntries, &st.ExpiredEntries, &st.TotalHits)
	if err != nil {
		return nil, fmt.Errorf("reading cache stats: %w", err)
	}
	return &st, nil
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

// scanEntry reads an Entry from a pgx.Row (standard column set).
func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e           Entry
		sourcesJSON []byte
	)
	err := row.Scan(&e.ID, &e.QueryHash, &e.QueryText, &e.Response,
		&sourcesJSON, &e.HitCount, &e.CreatedAt, &e.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if len(sourcesJSON) > 0 {
		if err := json.Unmarshal(sourcesJSON, &e.Sources); err != nil {
			return nil, fmt.Errorf("decoding sources: %w", err)
		}
	}
	return &e, nil
}
