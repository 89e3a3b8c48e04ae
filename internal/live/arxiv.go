package live

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/homeinal/gurag/internal/log"
)

// arxivRelevance is the baseline score for paper results. Papers are
// sorted by submission date, so recency stands in for relevance.
const arxivRelevance = 0.9

// maxSummaryLen truncates abstracts before prompt assembly.
const maxSummaryLen = 500

// ArxivClient searches the arXiv Atom API.
//
// The API terms ask for no more than one request every three seconds,
// enforced here with a shared limiter.
type ArxivClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  log.Logger
}

// NewArxivClient creates an arXiv client. baseURL is the query endpoint,
// normally https://export.arxiv.org/api/query.
func NewArxivClient(baseURL string, timeout time.Duration, logger log.Logger) *ArxivClient {
	if logger == nil {
		logger = log.NewNop()
	}
	return &ArxivClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(3*time.Second), 1),
		logger:  logger,
	}
}

// Name implements Source.
func (c *ArxivClient) Name() string { return "arxiv" }

// atomFeed is the subset of the arXiv Atom response we read.
type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title     string     `xml:"title"`
	Summary   string     `xml:"summary"`
	Published string     `xml:"published"`
	Links     []atomLink `xml:"link"`
	ID        string     `xml:"id"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

// Search implements Source. Results come back newest first.
func (c *ArxivClient) Search(ctx context.Context, query string, limit int) ([]Item, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for arxiv rate limit: %w", err)
	}

	params := url.Values{
		"search_query": {"all:" + query},
		"start":        {"0"},
		"max_results":  {fmt.Sprint(limit)},
		"sortBy":       {"submittedDate"},
		"sortOrder":    {"descending"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building arxiv request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying arxiv: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading arxiv response: %w", err)
	}

	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("parsing arxiv feed: %w", err)
	}

	items := make([]Item, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		items = append(items, Item{
			Title:       cleanAtomText(entry.Title),
			URL:         entryURL(entry),
			Description: truncate(cleanAtomText(entry.Summary), maxSummaryLen),
			SourceType:  c.Name(),
			Relevance:   arxivRelevance,
			Published:   parseAtomTime(entry.Published),
		})
	}

	c.logger.Debug("arxiv search complete", "query", query, "results", len(items))
	return items, nil
}

// entryURL prefers the alternate HTML link and falls back to the entry ID.
func entryURL(entry atomEntry) string {
	for _, link := range entry.Links {
		if link.Rel == "alternate" && link.Type == "text/html" {
			return link.Href
		}
	}
	return entry.ID
}

// cleanAtomText collapses the newline-wrapped whitespace arXiv embeds
// in titles and abstracts.
func cleanAtomText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func parseAtomTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := s[:maxLen]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	} else {
		// No space to break on, as in CJK abstracts. Back off to a rune
		// boundary so the cut never splits a multi-byte character.
		for len(cut) > 0 && !utf8.ValidString(cut) {
			cut = cut[:len(cut)-1]
		}
	}
	return cut + "..."
}
