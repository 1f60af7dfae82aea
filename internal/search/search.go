// Package search provides web search and search-query generation for
// research runs. The default provider scrapes the DuckDuckGo HTML
// endpoint, which needs no API key.
package search

import "context"

// Result represents a single search result.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Provider executes a search query and returns candidate results.
type Provider interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
	Name() string
}
