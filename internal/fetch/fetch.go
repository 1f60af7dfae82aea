// Package fetch downloads page content for the research pipeline. The plain
// HTTP fetcher covers most pages; the browser fetcher drives a headless
// Chrome via go-rod for pages that render client-side. PDF and office
// document URLs are routed to a dedicated text extractor.
package fetch

import "context"

// Fetcher retrieves the textual content of a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
	Name() string
}

// Func adapts a plain function to the Fetcher interface.
type Func func(ctx context.Context, url string) (string, error)

// Fetch implements Fetcher.
func (f Func) Fetch(ctx context.Context, url string) (string, error) { return f(ctx, url) }

// Name implements Fetcher.
func (f Func) Name() string { return "func" }
