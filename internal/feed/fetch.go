package feed

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
)

const (
	DefaultFetchTimeout  = 30 * time.Second
	DefaultMaxEntries    = 50
	defaultFeedUserAgent = "newsclip/1.0"
)

// RawEntry is one feed entry before normalization, with its feed title
// attached as the source.
type RawEntry struct {
	Item   *gofeed.Item
	Source string
}

// Fetcher downloads and parses syndication feeds. Parse failures and
// malformed feeds degrade to an empty entry list, never an error.
type Fetcher struct {
	parser     *gofeed.Parser
	maxEntries int
	logger     zerolog.Logger
}

// FetcherOptions controls fetch behavior. Zero values fall back to defaults.
type FetcherOptions struct {
	Timeout    time.Duration
	MaxEntries int
	HTTPClient *http.Client
}

func NewFetcher(opts FetcherOptions, logger zerolog.Logger) *Fetcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	parser := gofeed.NewParser()
	parser.UserAgent = defaultFeedUserAgent
	if opts.HTTPClient != nil {
		parser.Client = opts.HTTPClient
	} else {
		parser.Client = &http.Client{Timeout: timeout}
	}

	return &Fetcher{
		parser:     parser,
		maxEntries: maxEntries,
		logger:     logger,
	}
}

// Fetch returns up to maxEntries entries for one feed URL.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) []RawEntry {
	if !validFeedURL(feedURL) {
		f.logger.Warn().Str("url", feedURL).Msg("invalid feed URL, skipping")
		return nil
	}

	parsed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		f.logger.Warn().Err(err).Str("url", feedURL).Msg("feed parse failed, treating as empty")
		return nil
	}
	if parsed == nil || len(parsed.Items) == 0 {
		f.logger.Debug().Str("url", feedURL).Msg("feed has no entries")
		return nil
	}

	source := strings.TrimSpace(parsed.Title)
	items := parsed.Items
	if len(items) > f.maxEntries {
		items = items[:f.maxEntries]
	}

	entries := make([]RawEntry, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		entries = append(entries, RawEntry{Item: item, Source: source})
	}

	f.logger.Info().Str("url", feedURL).Int("entries", len(entries)).Msg("fetched feed")
	return entries
}

func validFeedURL(raw string) bool {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return parsed.Host != "" && (parsed.Scheme == "http" || parsed.Scheme == "https")
}
