package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"deepscout/internal/config"
	"deepscout/internal/logging"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// BrowserFetcher drives a headless Chrome via go-rod for pages that render
// their content client-side. The browser is launched lazily on first use and
// shared across fetches.
type BrowserFetcher struct {
	mu      sync.Mutex
	browser *rod.Browser
	timeout time.Duration
	log     logging.Sink
}

// NewBrowserFetcher creates a browser-backed fetcher. The browser is not
// launched until the first Fetch call.
func NewBrowserFetcher(cfg config.FetchConfig, log logging.Sink) *BrowserFetcher {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &BrowserFetcher{timeout: timeout, log: log}
}

// Name returns the fetcher name.
func (f *BrowserFetcher) Name() string { return "browser" }

func (f *BrowserFetcher) ensureStarted(ctx context.Context) (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser != nil {
		if _, err := f.browser.Version(); err == nil {
			return f.browser, nil
		}
		f.log.Warnw("stale browser connection, relaunching")
		_ = f.browser.Close()
		f.browser = nil
	}

	controlURL, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	f.browser = browser
	return browser, nil
}

// Fetch navigates to the URL, scrolls to trigger lazy loading, and returns
// the body text. Falls back to the raw HTML when the visible text is
// suspiciously short.
func (f *BrowserFetcher) Fetch(ctx context.Context, url string) (string, error) {
	browser, err := f.ensureStarted(ctx)
	if err != nil {
		return "", err
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return "", fmt.Errorf("create page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx).Timeout(f.timeout)

	if err := page.Navigate(url); err != nil {
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load %s: %w", url, err)
	}

	// Scroll to trigger lazy-loaded content.
	_, _ = page.Eval(`() => window.scrollTo(0, document.body.scrollHeight / 2)`)
	time.Sleep(500 * time.Millisecond)
	_, _ = page.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`)
	time.Sleep(500 * time.Millisecond)

	body, err := page.Element("body")
	if err != nil {
		return "", fmt.Errorf("locate body: %w", err)
	}
	text, err := body.Text()
	if err != nil {
		return "", fmt.Errorf("read body text: %w", err)
	}

	// Some sites hide text behind markup the renderer cannot see; in that
	// case the stripped HTML source is the better signal.
	if len(text) < 100 {
		if source, srcErr := page.HTML(); srcErr == nil && len(source) > 1000 {
			f.log.Debugw("body text too short, extracting from page source", "url", url)
			return ExtractText(source)
		}
	}

	f.log.Debugw("page rendered", "url", url, "chars", len(text))
	return text, nil
}

// Close shuts the shared browser down.
func (f *BrowserFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser == nil {
		return nil
	}
	err := f.browser.Close()
	f.browser = nil
	return err
}
