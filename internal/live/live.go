// Package live fetches current material from external catalogs: arXiv
// for papers and Hugging Face for models and demo spaces.
package live

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Item is one result from a live source.
type Item struct {
	Title       string
	URL         string
	Description string
	SourceType  string
	Relevance   float64
	Published   time.Time
}

// Source is a live search backend.
type Source interface {
	// Name identifies the source ("arxiv", "huggingface").
	Name() string
	// Search returns up to limit items for query, newest or most
	// popular first depending on the source.
	Search(ctx context.Context, query string, limit int) ([]Item, error)
}

// FormatContext renders items as a markdown block for prompt assembly.
// Returns the empty string when there are no items.
func FormatContext(items []Item) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "### %s\n", item.Title)
		if !item.Published.IsZero() {
			fmt.Fprintf(&b, "게시일: %s\n", item.Published.Format("2006-01-02"))
		}
		if item.URL != "" {
			fmt.Fprintf(&b, "링크: %s\n", item.URL)
		}
		if item.Description != "" {
			b.WriteString(item.Description)
		}
	}
	return b.String()
}
