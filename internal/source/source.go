// Package source merges citations from live search and the knowledge
// base into a single ranked list.
package source

import (
	"sort"

	"github.com/homeinal/gurag/internal/router"
)

// Citation is one attributed source of an answer. The JSON shape is
// persisted in the cache and returned in API responses.
type Citation struct {
	Title      string  `json:"title"`
	URL        string  `json:"url,omitempty"`
	SourceType string  `json:"source_type"`
	Relevance  float64 `json:"relevance"`
}

// Ranking parameters. Live results outrank knowledge-base results by
// default because routed queries asked for current information.
const (
	liveBaseline      = 0.8
	knowledgeBaseline = 0.7
	routedBoost       = 1.1
	maxCitations      = 10
)

// Merge combines live and knowledge-base citations into one list ranked
// by adjusted relevance. Each citation keeps its own relevance when set,
// otherwise the origin baseline applies. Citations whose origin matches
// the routed query type get a boost, capped at 1.0. At most 10 citations
// survive, ties keep live-before-knowledge input order.
func Merge(live, knowledge []Citation, queryType router.QueryType) []Citation {
	merged := make([]Citation, 0, len(live)+len(knowledge))

	for _, c := range live {
		c.Relevance = adjust(c.Relevance, liveBaseline, queryType == router.TypeLiveSource)
		merged = append(merged, c)
	}
	for _, c := range knowledge {
		c.Relevance = adjust(c.Relevance, knowledgeBaseline, queryType == router.TypeKnowledgeBase)
		merged = append(merged, c)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Relevance > merged[j].Relevance
	})

	if len(merged) > maxCitations {
		merged = merged[:maxCitations]
	}
	return merged
}

func adjust(relevance, baseline float64, routed bool) float64 {
	if relevance <= 0 {
		relevance = baseline
	}
	if routed {
		relevance *= routedBoost
	}
	if relevance > 1.0 {
		relevance = 1.0
	}
	return relevance
}
