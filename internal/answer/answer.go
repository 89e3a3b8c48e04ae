// Package answer runs the full question pipeline: cache lookup, query
// classification, retrieval, generation, caching, and analytics.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/homeinal/gurag/internal/cache"
	"github.com/homeinal/gurag/internal/knowledge"
	"github.com/homeinal/gurag/internal/live"
	"github.com/homeinal/gurag/internal/llm"
	"github.com/homeinal/gurag/internal/log"
	"github.com/homeinal/gurag/internal/metrics"
	"github.com/homeinal/gurag/internal/router"
	"github.com/homeinal/gurag/internal/source"
)

// ErrEmptyQuery is returned when the query is blank.
var ErrEmptyQuery = errors.New("query is empty")

// Retrieval limits.
const (
	knowledgeTopK    = 5
	arxivLimit       = 5
	huggingFaceLimit = 6

	// Regeneration after negative feedback digs deeper.
	improvedTopK     = 8
	improvedMinScore = 0.2
)

// noContextAnswer is returned when neither retrieval path produced
// anything to ground a response on.
const noContextAnswer = "죄송합니다. 질문에 답변할 수 있는 관련 자료를 찾지 못했습니다. 질문을 조금 더 구체적으로 바꿔서 다시 시도해 주세요."

// recencySystemPrompt replaces the default instructions when the query
// was routed to live sources.
const recencySystemPrompt = `당신은 AI 분야의 전문 어시스턴트입니다.
사용자가 최신 정보를 요청했으므로, 제공된 실시간 검색 결과를 우선적으로 활용하세요.
각 자료의 게시일을 언급하고, 검색 결과에 없는 내용은 추측하지 마세요.
한국어로 명확하고 구조적으로 답변하세요.`

// Classifier decides the retrieval strategy for a query.
type Classifier interface {
	Classify(ctx context.Context, query string) router.Result
}

// Cache is the answer cache surface the pipeline needs.
type Cache interface {
	Lookup(ctx context.Context, query string) (*cache.Hit, error)
	Put(ctx context.Context, query, response string, sources []source.Citation) error
	Invalidate(ctx context.Context, query string) error
	Contains(ctx context.Context, query string) (bool, error)
}

// Knowledge is the document retrieval surface the pipeline needs.
type Knowledge interface {
	Search(ctx context.Context, query string, opts ...knowledge.SearchOption) ([]knowledge.Result, error)
}

// Analytics records answered queries.
type Analytics interface {
	Append(ctx context.Context, userID, queryText, responseText, sourceType string, latencyMS int) (uuid.UUID, error)
}

// Response is one answered query.
type Response struct {
	Answer     string            `json:"answer"`
	Sources    []source.Citation `json:"sources"`
	SourceType string            `json:"source_type"`
	Cached     bool              `json:"cached"`
	LatencyMS  int               `json:"latency_ms"`
	RecordID   uuid.UUID         `json:"record_id"`
}

// Service orchestrates the answer pipeline.
type Service struct {
	classifier Classifier
	cache      Cache
	knowledge  Knowledge
	analytics  Analytics
	generator  llm.Generator
	sources    map[string]live.Source
	metrics    *metrics.Metrics
	logger     log.Logger
}

// NewService creates the pipeline. liveSources is keyed by source name
// and may be empty; m may be nil to disable instrumentation.
func NewService(classifier Classifier, answerCache Cache, kb Knowledge, analyticsLog Analytics,
	generator llm.Generator, liveSources map[string]live.Source, m *metrics.Metrics, logger log.Logger) (*Service, error) {
	if classifier == nil || answerCache == nil || kb == nil || analyticsLog == nil || generator == nil {
		return nil, fmt.Errorf("classifier, cache, knowledge, analytics, and generator are required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Service{
		classifier: classifier,
		cache:      answerCache,
		knowledge:  kb,
		analytics:  analyticsLog,
		generator:  generator,
		sources:    liveSources,
		metrics:    m,
		logger:     logger,
	}, nil
}

// Answer runs the full pipeline for query. Cache hits short-circuit
// before classification; misses retrieve, generate, cache, and log.
func (s *Service) Answer(ctx context.Context, userID, query string) (*Response, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	start := time.Now()

	hit, err := s.cache.Lookup(ctx, query)
	if err == nil {
		return s.answerFromCache(ctx, userID, query, hit, start)
	}
	if !errors.Is(err, cache.ErrMiss) {
		// Cache trouble must not take answering down with it.
		s.logger.Warn("cache lookup failed, continuing without cache", "error", err)
	}
	s.countCacheLookup("miss")

	decision := s.classifier.Classify(ctx, query)
	if s.metrics != nil {
		s.metrics.ClassificationsTotal.WithLabelValues(string(decision.QueryType)).Inc()
	}
	s.logger.Info("query classified",
		"query_type", decision.QueryType,
		"confidence", decision.Confidence,
		"targets", decision.Targets)

	resp, err := s.generate(ctx, query, decision, 0)
	if err != nil {
		return nil, err
	}

	resp.LatencyMS = int(time.Since(start).Milliseconds())
	resp.RecordID = s.record(ctx, userID, query, resp.Answer, resp.SourceType, resp.LatencyMS)
	return resp, nil
}

func (s *Service) answerFromCache(ctx context.Context, userID, query string, hit *cache.Hit, start time.Time) (*Response, error) {
	s.countCacheLookup(hit.Kind)
	s.logger.Info("cache hit", "kind", hit.Kind, "similarity", hit.Similarity)

	latency := int(time.Since(start).Milliseconds())
	recordID := s.record(ctx, userID, query, hit.Entry.Response, "cache", latency)
	return &Response{
		Answer:     hit.Entry.Response,
		Sources:    hit.Entry.Sources,
		SourceType: "cache",
		Cached:     true,
		LatencyMS:  latency,
		RecordID:   recordID,
	}, nil
}

// GenerateAndCache answers query without consulting the cache and
// stores the result. The maintenance cycle uses it to warm popular
// queries and to rebuild answers that drew negative feedback
// (negativeCount > 0 widens retrieval and adjusts the prompt).
func (s *Service) GenerateAndCache(ctx context.Context, query string, negativeCount int) error {
	if strings.TrimSpace(query) == "" {
		return ErrEmptyQuery
	}
	decision := s.classifier.Classify(ctx, query)
	resp, err := s.generate(ctx, query, decision, negativeCount)
	if err != nil {
		return err
	}
	if resp.Answer == noContextAnswer {
		return fmt.Errorf("no retrieval context for %q", query)
	}
	return nil
}

// generate retrieves per decision, merges citations, calls the model,
// and caches the result.
func (s *Service) generate(ctx context.Context, query string, decision router.Result, negativeCount int) (*Response, error) {
	var (
		liveItems []live.Item
		kbResults []knowledge.Result
	)

	wantLive := decision.QueryType == router.TypeLiveSource || decision.QueryType == router.TypeBoth
	wantKB := decision.QueryType == router.TypeKnowledgeBase || decision.QueryType == router.TypeBoth
	targets := decision.Targets

	// Regeneration after negative feedback retrieves from both paths
	// whatever the router decided; the previous answer's evidence was
	// not good enough, so the net is cast wider.
	if negativeCount > 0 {
		wantLive = true
		wantKB = true
		if len(targets) == 0 {
			targets = []string{router.TargetArxiv}
		}
	}

	if wantLive {
		liveItems = s.searchLive(ctx, query, targets)
		// Live retrieval coming up empty must not leave the query
		// unanswered when the knowledge base could still help.
		if len(liveItems) == 0 {
			wantKB = true
		}
	}
	if wantKB {
		opts := []knowledge.SearchOption{knowledge.WithTopK(knowledgeTopK)}
		if negativeCount > 0 {
			opts = []knowledge.SearchOption{
				knowledge.WithTopK(improvedTopK),
				knowledge.WithMinScore(improvedMinScore),
			}
		}
		results, err := s.knowledge.Search(ctx, query, opts...)
		if err != nil {
			s.logger.Warn("knowledge search failed", "error", err)
		} else {
			kbResults = results
		}
	}

	contextText := buildContext(liveItems, kbResults)
	citations := mergeCitations(liveItems, kbResults, decision.QueryType)

	if contextText == "" {
		return &Response{
			Answer:     noContextAnswer,
			Sources:    []source.Citation{},
			SourceType: string(decision.QueryType),
		}, nil
	}

	genCtx, cancel := context.WithTimeout(ctx, llm.GenerateTimeout)
	defer cancel()

	answer, err := s.generator.Generate(genCtx, query, contextText, systemPrompt(decision.QueryType, negativeCount))
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	if err := s.cache.Put(ctx, query, answer, citations); err != nil {
		s.logger.Warn("caching answer failed", "error", err)
	}

	return &Response{
		Answer:     answer,
		Sources:    citations,
		SourceType: string(decision.QueryType),
	}, nil
}

// searchLive queries each routed target. Source failures degrade to
// fewer results rather than failing the pipeline.
func (s *Service) searchLive(ctx context.Context, query string, targets []string) []live.Item {
	var items []live.Item
	for _, target := range targets {
		src, ok := s.sources[target]
		if !ok {
			s.logger.Warn("no live source registered", "target", target)
			continue
		}
		limit := arxivLimit
		if target == router.TargetHuggingFace {
			limit = huggingFaceLimit
		}
		results, err := src.Search(ctx, query, limit)
		if err != nil {
			s.logger.Warn("live search failed", "source", src.Name(), "error", err)
			continue
		}
		items = append(items, results...)
	}
	return items
}

// buildContext assembles the prompt context from both retrieval paths.
func buildContext(liveItems []live.Item, kbResults []knowledge.Result) string {
	var sections []string
	if block := live.FormatContext(liveItems); block != "" {
		sections = append(sections, "## 실시간 검색 결과\n\n"+block)
	}
	if block := formatKnowledge(kbResults); block != "" {
		sections = append(sections, "## 지식 베이스\n\n"+block)
	}
	return strings.Join(sections, "\n\n---\n\n")
}

func formatKnowledge(results []knowledge.Result) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if r.Document.Title != "" {
			fmt.Fprintf(&b, "### %s\n", r.Document.Title)
		}
		b.WriteString(r.Document.Content)
	}
	return b.String()
}

func mergeCitations(liveItems []live.Item, kbResults []knowledge.Result, queryType router.QueryType) []source.Citation {
	liveCitations := make([]source.Citation, 0, len(liveItems))
	for _, item := range liveItems {
		liveCitations = append(liveCitations, source.Citation{
			Title:      item.Title,
			URL:        item.URL,
			SourceType: item.SourceType,
			Relevance:  item.Relevance,
		})
	}
	kbCitations := make([]source.Citation, 0, len(kbResults))
	for _, r := range kbResults {
		title := r.Document.Title
		if title == "" {
			title = truncateTitle(r.Document.Content)
		}
		kbCitations = append(kbCitations, source.Citation{
			Title:      title,
			URL:        r.Document.URL,
			SourceType: "knowledge_base",
			Relevance:  r.Similarity,
		})
	}
	return source.Merge(liveCitations, kbCitations, queryType)
}

func truncateTitle(content string) string {
	const maxTitle = 60
	runes := []rune(strings.TrimSpace(content))
	if len(runes) <= maxTitle {
		return string(runes)
	}
	return string(runes[:maxTitle]) + "..."
}

func systemPrompt(queryType router.QueryType, negativeCount int) string {
	if negativeCount > 0 {
		return fmt.Sprintf(`당신은 AI 분야의 전문 어시스턴트입니다.
이 질문에 대한 이전 답변은 사용자로부터 부정적인 평가를 %d회 받았습니다.
이번에는 제공된 자료를 빠짐없이 검토하고, 더 정확하고 구체적인 답변을 작성하세요.
불확실한 내용은 명시하고, 한국어로 답변하세요.`, negativeCount)
	}
	if queryType == router.TypeLiveSource || queryType == router.TypeBoth {
		return recencySystemPrompt
	}
	return ""
}

func (s *Service) record(ctx context.Context, userID, query, answer, sourceType string, latencyMS int) uuid.UUID {
	id, err := s.analytics.Append(ctx, userID, query, answer, sourceType, latencyMS)
	if err != nil {
		// Answers still flow when the log is unavailable.
		s.logger.Warn("appending analytics record failed", "error", err)
		return uuid.Nil
	}
	return id
}

func (s *Service) countCacheLookup(outcome string) {
	if s.metrics != nil {
		s.metrics.CacheLookupsTotal.WithLabelValues(outcome).Inc()
	}
}
