// Package cache memoizes fetched page content on disk. Each URL maps to one
// JSON file named by the URL's digest, so repeated research cycles never
// fetch the same page twice.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"deepscout/internal/fetch"
	"deepscout/internal/logging"
)

// Entry is the on-disk representation of one cached page.
type Entry struct {
	URL       string    `json:"url"`
	FetchedAt time.Time `json:"fetched_at"`
	Content   string    `json:"content"`
}

// Info describes a cached page without its content.
type Info struct {
	URL       string    `json:"url"`
	FetchedAt time.Time `json:"fetched_at"`
	Size      int       `json:"size"`
	File      string    `json:"file"`
}

// Cache is a disk-backed content cache keyed by URL digest.
type Cache struct {
	dir       string
	documents fetch.Fetcher
	log       logging.Sink
}

// New creates a cache rooted at dir, creating the directory if needed.
// documents handles URLs that point at PDFs or other non-HTML documents.
func New(dir string, documents fetch.Fetcher, log logging.Sink) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{dir: dir, documents: documents, log: log}, nil
}

// Path returns the cache file path for a URL. File names are the first 32
// hex characters of the URL's sha256.
func (c *Cache) Path(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])[:32]+".json")
}

// GetContent returns the cached content for url, fetching at most once. On a
// miss, document URLs go through the document extractor and everything else
// through fetchFn. A failed fetch is persisted as empty content so the next
// cycle does not retry a known-bad page; Clear is the recovery path.
func (c *Cache) GetContent(ctx context.Context, url string, fetchFn fetch.Fetcher) (string, error) {
	path := c.Path(url)

	if entry, err := c.load(path); err == nil {
		c.log.Debugw("cache hit", "url", url, "chars", len(entry.Content))
		return entry.Content, nil
	}

	var content string
	var err error
	switch {
	case fetch.IsDocumentURL(url):
		c.log.Infow("document URL detected", "url", url)
		content, err = c.documents.Fetch(ctx, url)
	case fetchFn != nil:
		c.log.Infow("fetching content", "url", url)
		content, err = fetchFn.Fetch(ctx, url)
	default:
		return "", fmt.Errorf("url not cached and no fetcher provided: %s", url)
	}

	if err != nil {
		// Keep the orchestrator loop alive: record the failure as empty
		// content so this URL is not fetched again.
		c.log.Warnw("fetch failed, caching empty content", "url", url, "error", err)
		content = ""
	}

	if saveErr := c.save(path, url, content); saveErr != nil {
		return content, saveErr
	}
	return content, nil
}

func (c *Cache) load(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("corrupt cache file %s: %w", path, err)
	}
	return &entry, nil
}

func (c *Cache) save(path, url, content string) error {
	entry := Entry{URL: url, FetchedAt: time.Now(), Content: content}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}
	return nil
}

// List enumerates cached pages, skipping unreadable files.
func (c *Cache) List() ([]Info, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache dir: %w", err)
	}

	var infos []Info
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		entry, err := c.load(filepath.Join(c.dir, de.Name()))
		if err != nil {
			c.log.Warnw("skipping unreadable cache file", "file", de.Name(), "error", err)
			continue
		}
		infos = append(infos, Info{
			URL:       entry.URL,
			FetchedAt: entry.FetchedAt,
			Size:      len(entry.Content),
			File:      de.Name(),
		})
	}
	return infos, nil
}

// Clear removes cached pages and returns how many were removed. With
// olderThanDays <= 0 everything goes; otherwise only entries fetched more
// than that many days ago. Unreadable files are removed either way.
func (c *Cache) Clear(olderThanDays int) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read cache dir: %w", err)
	}

	removed := 0
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		path := filepath.Join(c.dir, de.Name())

		if olderThanDays > 0 {
			entry, err := c.load(path)
			if err == nil && entry.FetchedAt.After(cutoff) {
				continue
			}
		}

		if err := os.Remove(path); err != nil {
			c.log.Warnw("failed to remove cache file", "file", de.Name(), "error", err)
			continue
		}
		removed++
	}

	c.log.Infow("cache cleared", "removed", removed, "older_than_days", olderThanDays)
	return removed, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }
