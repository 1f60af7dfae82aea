package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"deepscout/internal/logging"

	"github.com/ledongthuc/pdf"
)

var documentExtensions = map[string]bool{
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".ppt":  true,
	".pptx": true,
}

// IsDocumentURL reports whether the URL points at a downloadable document
// rather than an HTML page, by extension or query-string hint.
func IsDocumentURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if documentExtensions[strings.ToLower(path.Ext(u.Path))] {
		return true
	}
	q := strings.ToLower(u.RawQuery)
	return strings.Contains(q, "pdf") && strings.Contains(q, "pdf=true")
}

// DocumentExtractor downloads document URLs and extracts their text. Only
// PDF text extraction is implemented; other document types return empty
// content.
type DocumentExtractor struct {
	client *http.Client
	log    logging.Sink
}

// NewDocumentExtractor creates a document extractor.
func NewDocumentExtractor(log logging.Sink) *DocumentExtractor {
	return &DocumentExtractor{
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log,
	}
}

// Name returns the fetcher name.
func (d *DocumentExtractor) Name() string { return "document" }

// Fetch downloads the document and extracts its text.
func (d *DocumentExtractor) Fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20)) // 32MB limit
	if err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}

	u, _ := url.Parse(rawURL)
	ext := ""
	if u != nil {
		ext = strings.ToLower(path.Ext(u.Path))
	}
	if ext != ".pdf" && !bytes.HasPrefix(data, []byte("%PDF")) {
		d.log.Warnw("unsupported document type, skipping extraction", "url", rawURL, "ext", ext)
		return "", nil
	}

	text, err := extractPDFText(data)
	if err != nil {
		return "", fmt.Errorf("failed to extract PDF text: %w", err)
	}

	d.log.Infow("document text extracted", "url", rawURL, "chars", len(text))
	return text, nil
}

// extractPDFText pulls plain text out of a PDF, page by page.
func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue // Skip unreadable pages rather than failing the document
		}
		if text != "" {
			sb.WriteString(text)
			sb.WriteString("\n\n")
		}
	}

	return strings.TrimSpace(sb.String()), nil
}
