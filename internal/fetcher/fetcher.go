// Package fetcher is the browserless acquisition path: one HTTP GET parsed
// into a dom.Document. It finds the fields a page ships in its markup; pages
// that build their forms in script need the browser path instead.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/morph/internal/dom"
)

const maxBody = 10 << 20

// Result is the outcome of a fetch.
type Result struct {
	Document   *dom.Document
	URL        string
	StatusCode int
	// NeedsBrowser is set when the markup looks like a script-rendered
	// shell, so a static scan likely misses fields.
	NeedsBrowser bool
}

// Fetcher performs HTTP GETs.
type Fetcher struct {
	client *http.Client
	ua     string
	logger *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets the HTTP client.
func WithClient(c *http.Client) Option { return func(f *Fetcher) { f.client = c } }

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option { return func(f *Fetcher) { f.ua = ua } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(f *Fetcher) { f.logger = l } }

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{Timeout: 30 * time.Second},
		ua:     "Mozilla/5.0 (compatible; morph/1.0)",
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch GETs pageURL and parses the body. Non-2xx statuses are errors.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetcher: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetcher: do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetcher: %s: status %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("fetcher: read body: %w", err)
	}
	doc, err := dom.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fetcher: parse: %w", err)
	}

	res := &Result{
		Document:     doc,
		URL:          pageURL,
		StatusCode:   resp.StatusCode,
		NeedsBrowser: NeedsBrowser(body),
	}
	f.logger.Debug("fetcher: fetched",
		"url", pageURL, "status", resp.StatusCode, "size", len(body), "needs_browser", res.NeedsBrowser)
	return res, nil
}
