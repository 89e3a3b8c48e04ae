//go:build integration

package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/homeinal/gurag/internal/log"
	"github.com/homeinal/gurag/internal/source"
	"github.com/homeinal/gurag/internal/testutil"
)

func newTestStore(t *testing.T, db *testutil.TestDB, embedder *testutil.FakeEmbedder) *Store {
	t.Helper()
	store, err := NewStore(db.Pool, embedder, 0.92, 24*time.Hour, log.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestPutAndLookup(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	embedder := testutil.NewFakeEmbedder()
	store := newTestStore(t, db, embedder)

	sources := []source.Citation{
		{Title: "Attention Is All You Need", URL: "https://arxiv.org/abs/1706.03762", SourceType: "arxiv", Relevance: 0.9},
	}
	if err := store.Put(ctx, "트랜스포머가 뭐야?", "트랜스포머는 어텐션 기반 모델입니다.", sources); err != nil {
		t.Fatalf("Put: %v", err)
	}

	hit, err := store.Lookup(ctx, "트랜스포머가 뭐야?")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if hit.Kind != HitSemantic {
		t.Errorf("hit kind = %q, want %q", hit.Kind, HitSemantic)
	}
	if hit.Similarity < 0.92 {
		t.Errorf("similarity = %v, want >= threshold", hit.Similarity)
	}
	if hit.Entry.Response != "트랜스포머는 어텐션 기반 모델입니다." {
		t.Errorf("response = %q", hit.Entry.Response)
	}
	if len(hit.Entry.Sources) != 1 || hit.Entry.Sources[0].Title != "Attention Is All You Need" {
		t.Errorf("sources round-trip = %+v", hit.Entry.Sources)
	}
	if hit.Entry.HitCount != 1 {
		t.Errorf("hit count = %d, want 1", hit.Entry.HitCount)
	}
}

func TestLookupParaphraseHitsSemantically(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	embedder := testutil.NewFakeEmbedder()
	embedder.Alias("트랜스포머에 대해 알려줘", "트랜스포머가 뭐야?")
	store := newTestStore(t, db, embedder)

	if err := store.Put(ctx, "트랜스포머가 뭐야?", "answer", nil); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Different text, same vector, different digest.
	hit, err := store.Lookup(ctx, "트랜스포머에 대해 알려줘")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if hit.Kind != HitSemantic {
		t.Errorf("hit kind = %q, want %q", hit.Kind, HitSemantic)
	}
}

func TestDisableSemanticFallsBackToExact(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	embedder := testutil.NewFakeEmbedder()
	embedder.Alias("트랜스포머에 대해 알려줘", "트랜스포머가 뭐야?")
	store := newTestStore(t, db, embedder)
	store.DisableSemantic()

	if err := store.Put(ctx, "트랜스포머가 뭐야?", "answer", nil); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// A paraphrase no longer matches.
	if _, err := store.Lookup(ctx, "트랜스포머에 대해 알려줘"); !errors.Is(err, ErrMiss) {
		t.Fatalf("paraphrase Lookup = %v, want ErrMiss with semantic disabled", err)
	}

	// The exact query still resolves through its digest.
	hit, err := store.Lookup(ctx, "트랜스포머가 뭐야?")
	if err != nil {
		t.Fatalf("exact Lookup: %v", err)
	}
	if hit.Kind != HitExact {
		t.Errorf("hit kind = %q, want %q", hit.Kind, HitExact)
	}
}

func TestLookupMiss(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := newTestStore(t, db, testutil.NewFakeEmbedder())

	if err := store.Put(ctx, "트랜스포머가 뭐야?", "answer", nil); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Unrelated query: fake vectors are near-orthogonal.
	_, err := store.Lookup(ctx, "오늘 날씨 어때?")
	if !errors.Is(err, ErrMiss) {
		t.Fatalf("Lookup error = %v, want ErrMiss", err)
	}
}

func TestLookupExactFallbackWhenEmbeddingFails(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	embedder := testutil.NewFakeEmbedder()
	store := newTestStore(t, db, embedder)

	if err := store.Put(ctx, "Transformer가 뭐야?", "answer", nil); err != nil {
		t.Fatalf("Put: %v", err)
	}

	embedder.Err = errors.New("embedder down")

	// Case and spacing differences still resolve through the digest.
	hit, err := store.Lookup(ctx, "  transformer가   뭐야?")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if hit.Kind != HitExact {
		t.Errorf("hit kind = %q, want %q", hit.Kind, HitExact)
	}
	// Exact hits do not count toward warmth.
	if hit.Entry.HitCount != 0 {
		t.Errorf("hit count = %d, want 0", hit.Entry.HitCount)
	}
}

func TestPutReplaceResetsHitCount(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := newTestStore(t, db, testutil.NewFakeEmbedder())

	if err := store.Put(ctx, "질문", "old answer", nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := store.Lookup(ctx, "질문"); err != nil {
			t.Fatalf("Lookup %d: %v", i, err)
		}
	}

	if err := store.Put(ctx, "질문", "new answer", nil); err != nil {
		t.Fatalf("replacing Put: %v", err)
	}

	hit, err := store.Lookup(ctx, "질문")
	if err != nil {
		t.Fatalf("Lookup after replace: %v", err)
	}
	if hit.Entry.Response != "new answer" {
		t.Errorf("response = %q, want new answer", hit.Entry.Response)
	}
	if hit.Entry.HitCount != 1 {
		t.Errorf("hit count after replace = %d, want 1", hit.Entry.HitCount)
	}
}

func TestConcurrentLookupsCountEveryHit(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := newTestStore(t, db, testutil.NewFakeEmbedder())

	if err := store.Put(ctx, "동시성 질문", "answer", nil); err != nil {
		t.Fatalf("Put: %v", err)
	}

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Lookup(ctx, "동시성 질문"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Lookup: %v", err)
	}

	var hitCount int
	err := db.Pool.QueryRow(ctx,
		`SELECT hit_count FROM query_cache WHERE query_hash = $1`,
		Digest("동시성 질문"),
	).Scan(&hitCount)
	if err != nil {
		t.Fatalf("reading hit count: %v", err)
	}
	if hitCount != workers {
		t.Errorf("hit count = %d, want %d (lost updates)", hitCount, workers)
	}
}

func TestInvalidate(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := newTestStore(t, db, testutil.NewFakeEmbedder())

	if err := store.Put(ctx, "질문", "answer", nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Invalidate(ctx, "질문"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := store.Lookup(ctx, "질문"); !errors.Is(err, ErrMiss) {
		t.Errorf("Lookup after invalidate = %v, want ErrMiss", err)
	}
	if err := store.Invalidate(ctx, "질문"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Invalidate = %v, want ErrNotFound", err)
	}
}

func TestCleanupRequiresAgeAndLowHits(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := newTestStore(t, db, testutil.NewFakeEmbedder())

	seed := func(query string, age time.Duration, hits int, expiresIn time.Duration) {
		t.Helper()
		if err := store.Put(ctx, query, "answer", nil); err != nil {
			t.Fatalf("Put %q: %v", query, err)
		}
		_, err := db.Pool.Exec(ctx,
			`UPDATE query_cache
			 SET created_at = $2, expires_at = $3, hit_count = $4
			 WHERE query_hash = $1`,
			Digest(query), time.Now().Add(-age), time.Now().Add(expiresIn), hits)
		if err != nil {
			t.Fatalf("seeding %q: %v", query, err)
		}
	}

	seed("old and cold", 40*24*time.Hour, 0, -time.Hour)
	// TTL extensions move expiry without touching hit_count: an unhit
	// old entry must go even while its expiry is still in the future.
	seed("old, cold, extended", 40*24*time.Hour, 0, 7*24*time.Hour)
	seed("old but popular", 40*24*time.Hour, 5, -time.Hour)
	seed("young and cold", 2*24*time.Hour, 0, 24*time.Hour)

	deleted, err := store.Cleanup(ctx, 30*24*time.Hour, 0)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	var remaining int
	if err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM query_cache`).Scan(&remaining); err != nil {
		t.Fatalf("counting entries: %v", err)
	}
	if remaining != 2 {
		t.Errorf("remaining = %d, want 2", remaining)
	}
	if ok, err := store.Contains(ctx, "old, cold, extended"); err != nil || ok {
		t.Errorf("extended-but-unhit entry survived cleanup (ok=%v, err=%v)", ok, err)
	}
}

func TestExtendTTL(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := newTestStore(t, db, testutil.NewFakeEmbedder())

	if err := store.Put(ctx, "질문", "answer", nil); err != nil {
		t.Fatalf("Put: %v", err)
	}

	hash := Digest("질문")
	readExpiry := func() time.Time {
		t.Helper()
		var expiry time.Time
		if err := db.Pool.QueryRow(ctx,
			`SELECT expires_at FROM query_cache WHERE query_hash = $1`, hash).Scan(&expiry); err != nil {
			t.Fatalf("reading expiry: %v", err)
		}
		return expiry
	}

	if err := store.ExtendTTL(ctx, hash, 7*24*time.Hour); err != nil {
		t.Fatalf("ExtendTTL: %v", err)
	}
	got := time.Until(readExpiry())
	if got < 167*time.Hour || got > 169*time.Hour {
		t.Errorf("expiry is %v from now, want ~168h", got)
	}

	// Extension is assignment, not accumulation: a second pass lands on
	// the same horizon instead of 14 days out.
	if err := store.ExtendTTL(ctx, hash, 7*24*time.Hour); err != nil {
		t.Fatalf("ExtendTTL again: %v", err)
	}
	got = time.Until(readExpiry())
	if got < 167*time.Hour || got > 169*time.Hour {
		t.Errorf("expiry after repeat is %v from now, want ~168h", got)
	}

	// An already expired entry comes back to life.
	if _, err := db.Pool.Exec(ctx,
		`UPDATE query_cache
		 SET created_at = now() - interval '11 days', expires_at = now() - interval '10 days'
		 WHERE query_hash = $1`,
		hash); err != nil {
		t.Fatalf("expiring entry: %v", err)
	}
	if err := store.ExtendTTL(ctx, hash, 7*24*time.Hour); err != nil {
		t.Fatalf("ExtendTTL on expired entry: %v", err)
	}
	if hit, err := store.Lookup(ctx, "질문"); err != nil || hit == nil {
		t.Errorf("revived entry not served: %v", err)
	}

	if err := store.ExtendTTL(ctx, "0000000000000000deadbeefdeadbeef", time.Hour); !errors.Is(err, ErrNotFound) {
		t.Errorf("ExtendTTL on missing entry = %v, want ErrNotFound", err)
	}
}

func TestStats(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := newTestStore(t, db, testutil.NewFakeEmbedder())

	if err := store.Put(ctx, "live entry", "answer", nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := store.Lookup(ctx, "live entry"); err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if err := store.Put(ctx, "expired entry", "answer", nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := db.Pool.Exec(ctx,
		`UPDATE query_cache
		 SET created_at = now() - interval '2 hours', expires_at = now() - interval '1 hour'
		 WHERE query_hash = $1`,
		Digest("expired entry")); err != nil {
		t.Fatalf("expiring entry: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalEntries != 2 || stats.ActiveEntries != 1 || stats.ExpiredEntries != 1 {
		t.Errorf("stats = %+v, want total 2, active 1, expired 1", stats)
	}
	if stats.TotalHits != 1 {
		t.Errorf("total hits = %d, want 1", stats.TotalHits)
	}
}

func TestFindSimilarListsNeighborsWithoutCountingHits(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	embedder := testutil.NewFakeEmbedder()
	embedder.Alias("트랜스포머 설명해줘", "트랜스포머가 뭐야?")
	store := newTestStore(t, db, embedder)

	if err := store.Put(ctx, "트랜스포머가 뭐야?", "answer", nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(ctx, "오늘 점심 뭐 먹지?", "answer", nil); err != nil {
		t.Fatalf("Put: %v", err)
	}

	entries, err := store.FindSimilar(ctx, "트랜스포머 설명해줘", 10, 0.9)
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %+v, want only the aliased query", entries)
	}
	if entries[0].QueryText != "트랜스포머가 뭐야?" {
		t.Errorf("query_text = %q", entries[0].QueryText)
	}
	if entries[0].Similarity < 0.9 {
		t.Errorf("similarity = %v, want >= 0.9", entries[0].Similarity)
	}

	// Inspection must not look like usage.
	hit, err := store.Lookup(ctx, "트랜스포머가 뭐야?")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if hit.Entry.HitCount != 1 {
		t.Errorf("hit count = %d, want 1 (FindSimilar must not increment)", hit.Entry.HitCount)
	}
}
