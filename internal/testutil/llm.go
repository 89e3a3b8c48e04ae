package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/homeinal/gurag/internal/llm"
)

// FakeEmbedder produces deterministic unit vectors derived from the
// input text. Identical texts map to identical vectors, and texts
// registered as similar map to nearby vectors, so similarity thresholds
// can be exercised without a live model.
type FakeEmbedder struct {
	mu      sync.Mutex
	aliases map[string]string
	Err     error
	Calls   int
}

// NewFakeEmbedder creates a FakeEmbedder.
func NewFakeEmbedder() *FakeEmbedder {
	return &FakeEmbedder{aliases: make(map[string]string)}
}

// Alias makes text embed to the same vector as canonical, simulating
// paraphrases the real embedder would place close together.
func (f *FakeEmbedder) Alias(text, canonical string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aliases[text] = canonical
}

// Embed implements llm.Embedder.
func (f *FakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	if canonical, ok := f.aliases[text]; ok {
		text = canonical
	}
	return deterministicVector(text), nil
}

// deterministicVector seeds a linear congruential sequence with the
// text's FNV hash and normalizes the result to unit length.
func deterministicVector(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	state := h.Sum64()

	vals := make([]float32, llm.VectorDimension)
	var norm float64
	for i := range vals {
		state = state*6364136223846793005 + 1442695040888963407
		v := float64(int64(state>>11))/float64(1<<52) - 1.0
		vals[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	for i := range vals {
		vals[i] = float32(float64(vals[i]) / norm)
	}
	return vals
}

// FakeGenerator returns scripted replies in order, repeating the last
// one when the script runs out.
type FakeGenerator struct {
	mu      sync.Mutex
	Replies []string
	Err     error
	Calls   int

	// LastQuery, LastContext, and LastSystem record the most recent call.
	LastQuery   string
	LastContext string
	LastSystem  string
}

// Generate implements llm.Generator.
func (f *FakeGenerator) Generate(_ context.Context, query, contextText, system string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls++
	f.LastQuery = query
	f.LastContext = contextText
	f.LastSystem = system
	if f.Err != nil {
		return "", f.Err
	}
	if len(f.Replies) == 0 {
		return "scripted reply", nil
	}
	i := f.Calls - 1
	if i >= len(f.Replies) {
		i = len(f.Replies) - 1
	}
	return f.Replies[i], nil
}
