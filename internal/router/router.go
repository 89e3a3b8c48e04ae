// Package router classifies queries into a retrieval strategy.
//
// Classification is two-tier: a deterministic keyword tier answers the
// common cases without an external call, and the LLM tier handles
// ambiguous phrasing. Classify never fails outward; internal failures
// degrade to the knowledge-base default.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/homeinal/gurag/internal/llm"
	"github.com/homeinal/gurag/internal/log"
)

// QueryType is the retrieval strategy for a query.
type QueryType string

const (
	// TypeKnowledgeBase routes to vector search over stored documents.
	TypeKnowledgeBase QueryType = "knowledge_base"
	// TypeLiveSource routes to external paper/model catalogs.
	TypeLiveSource QueryType = "live_source"
	// TypeBoth combines knowledge-base and live retrieval.
	TypeBoth QueryType = "both"
)

// Valid reports whether t is a known query type.
func (t QueryType) Valid() bool {
	switch t {
	case TypeKnowledgeBase, TypeLiveSource, TypeBoth:
		return true
	}
	return false
}

// Live-source target identifiers.
const (
	TargetArxiv       = "arxiv"
	TargetHuggingFace = "huggingface"
)

const (
	// ruleConfidence is reported by any conclusive rule-tier decision.
	ruleConfidence = 0.85

	// RuleConfidenceThreshold is the minimum confidence at which the rule
	// tier's answer is final. Below it the LLM tier decides.
	RuleConfidenceThreshold = 0.80

	// fallbackConfidence is reported when the LLM tier fails.
	fallbackConfidence = 0.5
)

// Result is the classification outcome. Ephemeral, produced fresh per query.
type Result struct {
	QueryType  QueryType `json:"query_type"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning"`
	Targets    []string  `json:"targets,omitempty"`
}

// Classifier decides the retrieval strategy for each query.
type Classifier struct {
	gen    llm.Generator
	logger log.Logger
}

// New creates a Classifier. gen may be nil, in which case ambiguous
// queries resolve straight to the safe default.
func New(gen llm.Generator, logger log.Logger) *Classifier {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Classifier{gen: gen, logger: logger}
}

// Classify determines the retrieval strategy for query. It never returns
// an error: rule-tier misses fall through to the LLM tier, and LLM
// failures degrade to the knowledge-base default (always available,
// unlike live sources).
func (c *Classifier) Classify(ctx context.Context, query string) Result {
	if r, ok := ruleClassify(query); ok && r.Confidence >= RuleConfidenceThreshold {
		return r
	}
	return c.llmClassify(ctx, query)
}

// ruleClassify scans the lower-cased query against the keyword tables.
// Returns ok=false when no table matches (tier inconclusive).
func ruleClassify(query string) (Result, bool) {
	q := strings.ToLower(query)

	hasRecency := matchesAny(q, recencyKeywords)
	hasConcept := matchesAny(q, conceptualKeywords)
	hasSearch := matchesAny(q, searchKeywords)

	switch {
	case hasRecency && hasConcept:
		return Result{
			QueryType:  TypeBoth,
			Confidence: ruleConfidence,
			Reasoning:  "recency and conceptual keywords both present",
			Targets:    []string{TargetArxiv},
		}, true

	case hasRecency || hasSearch:
		return Result{
			QueryType:  TypeLiveSource,
			Confidence: ruleConfidence,
			Reasoning:  "recency or directed-search keywords present",
			Targets:    inferTargets(q),
		}, true

	case hasConcept:
		return Result{
			QueryType:  TypeKnowledgeBase,
			Confidence: ruleConfidence,
			Reasoning:  "conceptual question",
		}, true
	}

	return Result{}, false
}

// inferTargets picks live-source targets from domain keywords.
// Defaults to the paper source when neither domain matches.
func inferTargets(q string) []string {
	var targets []string
	if matchesAny(q, paperKeywords) {
		targets = append(targets, TargetArxiv)
	}
	if matchesAny(q, modelKeywords) {
		targets = append(targets, TargetHuggingFace)
	}
	if len(targets) == 0 {
		targets = []string{TargetArxiv}
	}
	return targets
}

func matchesAny(q string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

// classifierSystemPrompt instructs the LLM tier to emit structured JSON.
const classifierSystemPrompt = `당신은 AI 관련 질문을 분류하는 라우터입니다.
사용자 질문을 분석하여 적절한 데이터 소스를 결정합니다.

## 분류 기준

### knowledge_base (벡터 DB 검색)
- 개념 설명 요청: "~가 뭐야?", "~를 설명해줘", "~의 원리"
- 비교 질문: "~와 ~의 차이", "~는 어떻게 다른가"
- 일반적인 AI/ML 지식 질문

### live_source (실시간 검색)
- 시간 표현 포함: "최신", "최근", "이번 주", "오늘", "새로운"
- 특정 논문/모델 검색: "~논문 찾아줘", "~모델 있어?"
- 트렌드 질문: "요즘 뜨는", "인기있는"

### both (복합)
- 둘 다 필요한 경우
- 예: "최신 Transformer 연구 동향을 설명해줘" (개념 + 최신)

## 응답 형식 (JSON만 출력)
{
  "query_type": "knowledge_base" | "live_source" | "both",
  "confidence": 0.0-1.0,
  "reasoning": "분류 이유 (한 문장)",
  "targets": ["arxiv", "huggingface"]
}

targets 규칙:
- 논문 관련 → ["arxiv"]
- 모델/데모 관련 → ["huggingface"]
- 둘 다 해당 → ["arxiv", "huggingface"]`

// llmClassify asks the Generation Service for a structured classification.
// Any failure (call error, unparsable reply, unknown type) returns the
// safe default.
func (c *Classifier) llmClassify(ctx context.Context, query string) Result {
	if c.gen == nil {
		return fallbackResult("no generator configured")
	}

	reply, err := c.gen.Generate(ctx, "다음 질문을 분류해주세요: "+query, "", classifierSystemPrompt)
	if err != nil {
		c.logger.Warn("llm classification failed", "error", err)
		return fallbackResult(err.Error())
	}

	var r Result
	if err := json.Unmarshal([]byte(extractJSON(reply)), &r); err != nil {
		c.logger.Warn("unparsable classification reply", "error", err, "reply_len", len(reply))
		return fallbackResult("unparsable reply")
	}
	if !r.QueryType.Valid() {
		c.logger.Warn("unknown query type in classification reply", "query_type", r.QueryType)
		return fallbackResult(fmt.Sprintf("unknown query type %q", r.QueryType))
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		r.Confidence = fallbackConfidence
	}
	return r
}

// fallbackResult is the safe default: the knowledge base is always
// available while live sources may not be.
func fallbackResult(reason string) Result {
	return Result{
		QueryType:  TypeKnowledgeBase,
		Confidence: fallbackConfidence,
		Reasoning:  "classification fallback to knowledge base: " + reason,
	}
}

// extractJSON strips markdown code fences the model may wrap around
// its JSON reply and trims to the outermost object.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
