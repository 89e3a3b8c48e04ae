package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/homeinal/gurag/internal/analytics"
	"github.com/homeinal/gurag/internal/config"
	"github.com/homeinal/gurag/internal/learning"
)

type stubLearnAnalytics struct{}

func (stubLearnAnalytics) Popular(context.Context, time.Duration, int, int) ([]analytics.QueryCount, error) {
	return []analytics.QueryCount{{QueryText: "인기 질문", Count: 5}}, nil
}

func (stubLearnAnalytics) NegativeQueries(context.Context, time.Duration, int) ([]analytics.QueryCount, error) {
	return nil, nil
}

func (stubLearnAnalytics) PositiveQueries(context.Context, time.Duration, int) ([]analytics.QueryCount, error) {
	return nil, nil
}

type stubLearnCache struct{}

func (stubLearnCache) Contains(context.Context, string) (bool, error) { return false, nil }
func (stubLearnCache) Invalidate(context.Context, string) error       { return nil }
func (stubLearnCache) Cleanup(context.Context, time.Duration, int) (int64, error) {
	return 0, nil
}
func (stubLearnCache) ExtendTTL(context.Context, string, time.Duration) error { return nil }

type blockingGenerator struct {
	release chan struct{}
}

func (g *blockingGenerator) GenerateAndCache(_ context.Context, _ string, _ int) error {
	if g.release != nil {
		<-g.release
	}
	return nil
}

func TestLearningRunAndStatus(t *testing.T) {
	gen := &blockingGenerator{release: make(chan struct{})}
	learner, err := learning.New(stubLearnAnalytics{}, stubLearnCache{}, gen,
		config.LearningConfig{PreWarmDays: 7, PreWarmMinCount: 3, PreWarmLimit: 20}, nil, nil)
	if err != nil {
		t.Fatalf("learning.New: %v", err)
	}
	ts := newTestServer(t, ServerConfig{Learner: learner})

	resp := postJSON(t, ts.URL+"/api/v1/learning/run", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("run status = %d, want 202", resp.StatusCode)
	}

	// The guard is claimed before 202 is written, so an immediate
	// second run conflicts without waiting for the cycle to start.
	resp = postJSON(t, ts.URL+"/api/v1/learning/run", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("concurrent run status = %d, want 409", resp.StatusCode)
	}

	statusResp := getJSON(t, ts.URL+"/api/v1/learning/status")
	status := decode[map[string]any](t, statusResp)
	if status["running"] != true {
		t.Errorf("status running = %v, want true", status["running"])
	}

	close(gen.release)
	deadline := time.Now().Add(2 * time.Second)
	for learner.LastResult() == nil {
		if time.Now().After(deadline) {
			t.Fatal("cycle never finished")
		}
		time.Sleep(time.Millisecond)
	}

	statusResp = getJSON(t, ts.URL+"/api/v1/learning/status")
	status = decode[map[string]any](t, statusResp)
	if status["running"] != false {
		t.Errorf("status running = %v, want false", status["running"])
	}
	if status["last_result"] == nil {
		t.Error("last_result is nil after a completed cycle")
	}
}

func TestLearningRunSinglePhase(t *testing.T) {
	learner, err := learning.New(stubLearnAnalytics{}, stubLearnCache{}, &blockingGenerator{},
		config.LearningConfig{PreWarmDays: 7, PreWarmMinCount: 3, PreWarmLimit: 20}, nil, nil)
	if err != nil {
		t.Fatalf("learning.New: %v", err)
	}
	ts := newTestServer(t, ServerConfig{Learner: learner})

	resp := postJSON(t, ts.URL+"/api/v1/learning/run/pre_warm", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("phase status = %d, want 200", resp.StatusCode)
	}
	result := decode[learning.PhaseResult](t, resp)
	if result.Name != learning.PhasePreWarm {
		t.Errorf("phase name = %q, want %q", result.Name, learning.PhasePreWarm)
	}
	if result.Touched != 1 {
		t.Errorf("touched = %d, want 1 pre-warmed query", result.Touched)
	}

	resp = postJSON(t, ts.URL+"/api/v1/learning/run/defragment", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown phase status = %d, want 404", resp.StatusCode)
	}
}
