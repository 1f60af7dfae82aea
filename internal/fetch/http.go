package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"deepscout/internal/config"
	"deepscout/internal/logging"

	"golang.org/x/net/html"
)

const maxBodyBytes = 2 << 20 // 2MB

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
)

// HTTPFetcher fetches pages with a plain HTTP client and extracts readable
// text from the HTML.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	log       logging.Sink
}

// NewHTTPFetcher creates an HTTP fetcher.
func NewHTTPFetcher(cfg config.FetchConfig, log logging.Sink) *HTTPFetcher {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: cfg.UserAgent,
		log:       log,
	}
}

// Name returns the fetcher name.
func (f *HTTPFetcher) Name() string { return "http" }

// Fetch downloads the URL and returns its readable text.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", fmt.Errorf("url is required")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/plain") || strings.Contains(contentType, "text/markdown") {
		return string(body), nil
	}

	text, err := ExtractText(string(body))
	if err != nil {
		return "", fmt.Errorf("failed to extract text: %w", err)
	}

	f.log.Debugw("page fetched", "url", url, "chars", len(text))
	return text, nil
}

// ExtractText strips markup from an HTML document and returns readable text
// with paragraph structure preserved.
func ExtractText(htmlContent string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	extractText(doc, &sb, 0)
	return cleanWhitespace(sb.String()), nil
}

func extractText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 50 {
		return // Prevent excessive recursion
	}

	switch n.Type {
	case html.TextNode:
		text := strings.TrimSpace(n.Data)
		if text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "header", "aside", "form":
			return // Skip boilerplate elements
		case "h1", "h2", "h3", "h4", "h5", "h6", "p", "div", "tr":
			sb.WriteString("\n\n")
		case "br", "li":
			sb.WriteString("\n")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, sb, depth+1)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6", "p":
			sb.WriteString("\n\n")
		}
	}
}

// cleanWhitespace collapses runs of blank lines and spaces left behind by
// markup removal.
func cleanWhitespace(s string) string {
	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	s = multiSpacePattern.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")

	return strings.TrimSpace(s)
}
