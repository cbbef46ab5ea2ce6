// Package scrape enriches stored articles with page-level metadata the feed
// itself does not carry: preview images and readable excerpts. Everything
// here is best-effort; a page that cannot be fetched or parsed simply
// contributes nothing.
package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultFetchTimeout  = 12 * time.Second
	DefaultBodyByteLimit = 2 * 1024 * 1024

	defaultUserAgent = "newsclip/1.0 (article preview fetcher)"
)

// Options controls HTTP behavior for page fetches.
type Options struct {
	Timeout       time.Duration
	BodyByteLimit int64
	UserAgent     string
	HTTPClient    *http.Client
}

// Scraper fetches article pages and extracts metadata from them.
type Scraper struct {
	client    *http.Client
	blocklist *Blocklist
	userAgent string
	bodyLimit int64
	logger    zerolog.Logger
}

func NewScraper(opts Options, blocklist *Blocklist, logger zerolog.Logger) *Scraper {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	bodyLimit := opts.BodyByteLimit
	if bodyLimit <= 0 {
		bodyLimit = DefaultBodyByteLimit
	}

	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	if blocklist == nil {
		blocklist = NewBlocklist(nil)
	}

	return &Scraper{
		client:    client,
		blocklist: blocklist,
		userAgent: userAgent,
		bodyLimit: bodyLimit,
		logger:    logger,
	}
}

// fetchPage downloads one page body. A 403 puts the host on the blocklist
// before the error is returned.
func (s *Scraper) fetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	if s.blocklist.Blocked(pageURL) {
		return nil, fmt.Errorf("host is blocklisted")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		s.blocklist.Block(pageURL)
		s.logger.Info().Str("url", pageURL).Msg("host answered 403, blocklisting")
		return nil, fmt.Errorf("fetch status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.bodyLimit))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
