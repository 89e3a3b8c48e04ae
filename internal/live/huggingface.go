package live

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/homeinal/gurag/internal/log"
)

// hfRelevance is the baseline score for Hugging Face results.
const hfRelevance = 0.85

// HuggingFaceClient searches the Hugging Face Hub API for models and
// demo spaces.
type HuggingFaceClient struct {
	baseURL string
	client  *http.Client
	logger  log.Logger
}

// NewHuggingFaceClient creates a Hub client. baseURL is normally
// https://huggingface.co/api.
func NewHuggingFaceClient(baseURL string, timeout time.Duration, logger log.Logger) *HuggingFaceClient {
	if logger == nil {
		logger = log.NewNop()
	}
	return &HuggingFaceClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Name implements Source.
func (c *HuggingFaceClient) Name() string { return "huggingface" }

type hfModel struct {
	ID        string `json:"id"`
	Downloads int    `json:"downloads"`
	Likes     int    `json:"likes"`
	Pipeline  string `json:"pipeline_tag"`
}

type hfSpace struct {
	ID    string `json:"id"`
	Likes int    `json:"likes"`
}

// Search implements Source. It combines the most downloaded models and
// the most liked spaces matching the query, splitting limit between the
// two listings. Either listing failing alone is tolerated.
func (c *HuggingFaceClient) Search(ctx context.Context, query string, limit int) ([]Item, error) {
	half := limit / 2
	if half < 1 {
		half = 1
	}

	var items []Item

	models, modelsErr := c.searchModels(ctx, query, half)
	if modelsErr != nil {
		c.logger.Warn("huggingface model search failed", "error", modelsErr)
	}
	items = append(items, models...)

	spaces, spacesErr := c.searchSpaces(ctx, query, half)
	if spacesErr != nil {
		c.logger.Warn("huggingface space search failed", "error", spacesErr)
	}
	items = append(items, spaces...)

	if modelsErr != nil && spacesErr != nil {
		return nil, fmt.Errorf("querying huggingface: %w", modelsErr)
	}

	c.logger.Debug("huggingface search complete", "query", query, "results", len(items))
	return items, nil
}

func (c *HuggingFaceClient) searchModels(ctx context.Context, query string, limit int) ([]Item, error) {
	params := url.Values{
		"search":    {query},
		"sort":      {"downloads"},
		"direction": {"-1"},
		"limit":     {fmt.Sprint(limit)},
	}

	var models []hfModel
	if err := c.getJSON(ctx, "/models?"+params.Encode(), &models); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(models))
	for _, m := range models {
		desc := fmt.Sprintf("다운로드 %d회, 좋아요 %d개", m.Downloads, m.Likes)
		if m.Pipeline != "" {
			desc += ", 태스크: " + m.Pipeline
		}
		items = append(items, Item{
			Title:       m.ID,
			URL:         "https://huggingface.co/" + m.ID,
			Description: desc,
			SourceType:  c.Name(),
			Relevance:   hfRelevance,
		})
	}
	return items, nil
}

func (c *HuggingFaceClient) searchSpaces(ctx context.Context, query string, limit int) ([]Item, error) {
	params := url.Values{
		"search":    {query},
		"sort":      {"likes"},
		"direction": {"-1"},
		"limit":     {fmt.Sprint(limit)},
	}

	var spaces []hfSpace
	if err := c.getJSON(ctx, "/spaces?"+params.Encode(), &spaces); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(spaces))
	for _, sp := range spaces {
		items = append(items, Item{
			Title:       sp.ID + " (데모)",
			URL:         "https://huggingface.co/spaces/" + sp.ID,
			Description: fmt.Sprintf("좋아요 %d개", sp.Likes),
			SourceType:  c.Name(),
			Relevance:   hfRelevance,
		})
	}
	return items, nil
}

func (c *HuggingFaceClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("huggingface returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
