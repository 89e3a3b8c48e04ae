package learning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/homeinal/gurag/internal/analytics"
	"github.com/homeinal/gurag/internal/cache"
	"github.com/homeinal/gurag/internal/config"
)

type fakeAnalytics struct {
	popular     []analytics.QueryCount
	popularErr  error
	negative    []analytics.QueryCount
	negativeErr error
	positive    []analytics.QueryCount
}

func (f *fakeAnalytics) Popular(context.Context, time.Duration, int, int) ([]analytics.QueryCount, error) {
	return f.popular, f.popularErr
}

func (f *fakeAnalytics) NegativeQueries(context.Context, time.Duration, int) ([]analytics.QueryCount, error) {
	return f.negative, f.negativeErr
}

func (f *fakeAnalytics) PositiveQueries(context.Context, time.Duration, int) ([]analytics.QueryCount, error) {
	return f.positive, nil
}

type fakeCache struct {
	mu          sync.Mutex
	cached      map[string]bool
	invalidated []string
	extended    []string
	cleanedUp   int64
}

func newFakeCache() *fakeCache {
	return &fakeCache{cached: make(map[string]bool)}
}

func (f *fakeCache) Contains(_ context.Context, query string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cached[query], nil
}

func (f *fakeCache) Invalidate(_ context.Context, query string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, query)
	if !f.cached[query] {
		return cache.ErrNotFound
	}
	delete(f.cached, query)
	return nil
}

func (f *fakeCache) Cleanup(context.Context, time.Duration, int) (int64, error) {
	return f.cleanedUp, nil
}

func (f *fakeCache) ExtendTTL(_ context.Context, queryHash string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extended = append(f.extended, queryHash)
	return nil
}

type fakeGenerator struct {
	mu      sync.Mutex
	queries []string
	counts  []int
	err     error
	block   chan struct{}
}

func (f *fakeGenerator) GenerateAndCache(_ context.Context, query string, negativeCount int) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.counts = append(f.counts, negativeCount)
	return f.err
}

func testConfig() config.LearningConfig {
	return config.LearningConfig{
		IntervalHours:           6,
		PreWarmDays:             7,
		PreWarmMinCount:         3,
		PreWarmLimit:            20,
		ImproveDays:             7,
		ImproveMinNegative:      2,
		CleanupMaxAgeDays:       30,
		CleanupMinHitCount:      0,
		ExtendPositiveThreshold: 3,
		ExtendDays:              7,
	}
}

func newLearner(t *testing.T, a Analytics, c Cache, g Generator) *Learner {
	t.Helper()
	l, err := New(a, c, g, testConfig(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func phase(t *testing.T, result *CycleResult, name string) PhaseResult {
	t.Helper()
	for _, pr := range result.Phases {
		if pr.Name == name {
			return pr
		}
	}
	t.Fatalf("phase %q missing from %+v", name, result.Phases)
	return PhaseResult{}
}

func TestCyclePreWarmSkipsCached(t *testing.T) {
	a := &fakeAnalytics{popular: []analytics.QueryCount{
		{QueryText: "인기 질문", Count: 5},
		{QueryText: "이미 캐시된 질문", Count: 4},
	}}
	c := newFakeCache()
	c.cached["이미 캐시된 질문"] = true
	g := &fakeGenerator{}
	l := newLearner(t, a, c, g)

	result, err := l.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	pw := phase(t, result, "pre_warm")
	if pw.Touched != 1 || pw.Skipped != 1 {
		t.Errorf("pre_warm = %+v, want touched 1 skipped 1", pw)
	}
	if len(g.queries) != 1 || g.queries[0] != "인기 질문" {
		t.Errorf("generated queries = %v", g.queries)
	}
	if g.counts[0] != 0 {
		t.Errorf("pre-warm negative count = %d, want 0", g.counts[0])
	}
}

func TestCycleImproveNegativeRegenerates(t *testing.T) {
	a := &fakeAnalytics{negative: []analytics.QueryCount{
		{QueryText: "자주 틀리는 질문", Count: 3},
	}}
	c := newFakeCache()
	c.cached["자주 틀리는 질문"] = true
	g := &fakeGenerator{}
	l := newLearner(t, a, c, g)

	result, err := l.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	in := phase(t, result, "improve_negative")
	if in.Touched != 1 {
		t.Errorf("improve_negative = %+v, want touched 1", in)
	}
	if len(c.invalidated) != 1 || c.invalidated[0] != "자주 틀리는 질문" {
		t.Errorf("invalidated = %v", c.invalidated)
	}
	if len(g.counts) != 1 || g.counts[0] != 3 {
		t.Errorf("negative counts = %v, want [3]", g.counts)
	}
}

func TestCycleImproveNegativeToleratesMissingEntry(t *testing.T) {
	a := &fakeAnalytics{negative: []analytics.QueryCount{
		{QueryText: "캐시에 없는 질문", Count: 2},
	}}
	g := &fakeGenerator{}
	l := newLearner(t, a, newFakeCache(), g)

	result, err := l.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	in := phase(t, result, "improve_negative")
	if in.Touched != 1 || in.Failed != 0 {
		t.Errorf("improve_negative = %+v, want regeneration despite missing entry", in)
	}
}

func TestCycleExtendTTL(t *testing.T) {
	a := &fakeAnalytics{positive: []analytics.QueryCount{
		{QueryText: "칭찬받는 질문", Count: 4},
	}}
	c := newFakeCache()
	c.cleanedUp = 7
	l := newLearner(t, a, c, &fakeGenerator{})

	result, err := l.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if cu := phase(t, result, "cleanup"); cu.Touched != 7 {
		t.Errorf("cleanup = %+v, want touched 7", cu)
	}
	et := phase(t, result, "extend_ttl")
	if et.Touched != 1 {
		t.Errorf("extend_ttl = %+v, want touched 1", et)
	}
	if len(c.extended) != 1 || c.extended[0] != cache.Digest("칭찬받는 질문") {
		t.Errorf("extended hashes = %v", c.extended)
	}
}

func TestCyclePhaseErrorIsolated(t *testing.T) {
	a := &fakeAnalytics{
		popularErr: errors.New("analytics query failed"),
		negative:   []analytics.QueryCount{{QueryText: "질문", Count: 2}},
	}
	g := &fakeGenerator{}
	l := newLearner(t, a, newFakeCache(), g)

	result, err := l.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if pw := phase(t, result, "pre_warm"); pw.ErrorMsg == "" {
		t.Error("pre_warm error not reported")
	}
	// Later phases still ran.
	if in := phase(t, result, "improve_negative"); in.Touched != 1 {
		t.Errorf("improve_negative = %+v, want touched 1 despite earlier failure", in)
	}
	if len(result.Phases) != 4 {
		t.Errorf("got %d phases, want 4", len(result.Phases))
	}
}

func TestRunCycleConflict(t *testing.T) {
	g := &fakeGenerator{block: make(chan struct{})}
	a := &fakeAnalytics{popular: []analytics.QueryCount{{QueryText: "질문", Count: 5}}}
	l := newLearner(t, a, newFakeCache(), g)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := l.RunCycle(context.Background()); err != nil {
			t.Errorf("first RunCycle: %v", err)
		}
	}()

	// Wait for the first cycle to be mid-generation.
	for !l.Running() {
		time.Sleep(time.Millisecond)
	}
	if _, err := l.RunCycle(context.Background()); !errors.Is(err, ErrCycleRunning) {
		t.Errorf("concurrent RunCycle = %v, want ErrCycleRunning", err)
	}

	close(g.block)
	<-done

	if l.Running() {
		t.Error("learner still marked running after cycle finished")
	}
	if l.LastResult() == nil {
		t.Error("LastResult is nil after a completed cycle")
	}
}

func TestStartCycleClaimsGuardBeforeReturning(t *testing.T) {
	g := &fakeGenerator{block: make(chan struct{})}
	a := &fakeAnalytics{popular: []analytics.QueryCount{{QueryText: "질문", Count: 5}}}
	l := newLearner(t, a, newFakeCache(), g)

	if err := l.StartCycle(time.Minute); err != nil {
		t.Fatalf("StartCycle: %v", err)
	}
	// No waiting: the guard is held the moment StartCycle returns, so
	// the second start must conflict even before the goroutine runs.
	if err := l.StartCycle(time.Minute); !errors.Is(err, ErrCycleRunning) {
		t.Errorf("second StartCycle = %v, want ErrCycleRunning", err)
	}

	close(g.block)
	deadline := time.Now().Add(2 * time.Second)
	for l.Running() || l.LastResult() == nil {
		if time.Now().After(deadline) {
			t.Fatal("cycle never finished")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRunPhaseSingle(t *testing.T) {
	a := &fakeAnalytics{popular: []analytics.QueryCount{{QueryText: "인기 질문", Count: 5}}}
	c := newFakeCache()
	g := &fakeGenerator{}
	l := newLearner(t, a, c, g)

	pr, err := l.RunPhase(context.Background(), PhasePreWarm)
	if err != nil {
		t.Fatalf("RunPhase: %v", err)
	}
	if pr.Name != PhasePreWarm || pr.Touched != 1 {
		t.Errorf("result = %+v, want pre_warm with 1 touched", pr)
	}
	if len(g.queries) != 1 || g.queries[0] != "인기 질문" {
		t.Errorf("generated = %v", g.queries)
	}
	if len(c.invalidated) != 0 {
		t.Errorf("other phases ran: invalidated = %v", c.invalidated)
	}

	if _, err := l.RunPhase(context.Background(), "defragment"); !errors.Is(err, ErrUnknownPhase) {
		t.Errorf("unknown phase = %v, want ErrUnknownPhase", err)
	}
}

func TestRunPhaseConflictsWithCycle(t *testing.T) {
	a := &fakeAnalytics{popular: []analytics.QueryCount{{QueryText: "인기 질문", Count: 5}}}
	g := &fakeGenerator{block: make(chan struct{})}
	l := newLearner(t, a, newFakeCache(), g)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := l.RunCycle(context.Background()); err != nil {
			t.Errorf("RunCycle: %v", err)
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !l.Running() {
		if time.Now().After(deadline) {
			t.Fatal("cycle never started")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := l.RunPhase(context.Background(), PhaseCleanup); !errors.Is(err, ErrCycleRunning) {
		t.Errorf("RunPhase during cycle = %v, want ErrCycleRunning", err)
	}

	close(g.block)
	<-done
}
