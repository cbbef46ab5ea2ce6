package feed

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

const (
	DefaultTitleLimit   = 500
	DefaultSummaryLimit = 2000
	MaxSummaryLimit     = 5000

	defaultTitle     = "Untitled"
	truncationMarker = "..."
)

// Candidate is a normalized feed entry ready for the pipeline.
type Candidate struct {
	Title     string
	Summary   string
	Link      string
	Published *time.Time
	Updated   *time.Time
	Source    string
	Language  string
}

// NormalizeOptions caps free-text fields. Sources with long-form summaries
// may raise SummaryLimit up to MaxSummaryLimit.
type NormalizeOptions struct {
	TitleLimit   int
	SummaryLimit int
}

func (o NormalizeOptions) withDefaults() NormalizeOptions {
	if o.TitleLimit <= 0 {
		o.TitleLimit = DefaultTitleLimit
	}
	if o.SummaryLimit <= 0 {
		o.SummaryLimit = DefaultSummaryLimit
	}
	if o.SummaryLimit > MaxSummaryLimit {
		o.SummaryLimit = MaxSummaryLimit
	}
	return o
}

// Normalize turns a raw feed entry into a candidate article. The only
// rejection condition is a missing or non-absolute http(s) link; every other
// defect degrades (default title, absent dates, empty summary).
func Normalize(entry RawEntry, opts NormalizeOptions) (Candidate, error) {
	opts = opts.withDefaults()

	if entry.Item == nil {
		return Candidate{}, fmt.Errorf("entry is nil")
	}
	item := entry.Item

	link := strings.TrimSpace(item.Link)
	if err := validateArticleLink(link); err != nil {
		return Candidate{}, err
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = defaultTitle
	}
	title = truncate(title, opts.TitleLimit)

	summary := strings.TrimSpace(item.Description)
	if summary == "" {
		summary = strings.TrimSpace(item.Content)
	}
	summary = truncate(summary, opts.SummaryLimit)

	candidate := Candidate{
		Title:     title,
		Summary:   summary,
		Link:      link,
		Published: parseEntryDate(item.PublishedParsed, item.Published),
		Updated:   parseEntryDate(item.UpdatedParsed, item.Updated),
		Source:    strings.TrimSpace(entry.Source),
	}
	candidate.Language = detectLanguage(title + " " + summary)

	return candidate, nil
}

func validateArticleLink(link string) error {
	if link == "" {
		return fmt.Errorf("entry has no link")
	}
	parsed, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("entry link %q does not parse: %w", link, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("entry link %q is not http(s)", link)
	}
	if parsed.Host == "" {
		return fmt.Errorf("entry link %q is not absolute", link)
	}
	return nil
}

// parseEntryDate prefers the feed parser's own timestamp and falls back to a
// permissive parse of the raw string. Unparseable dates become absent.
func parseEntryDate(parsed *time.Time, raw string) *time.Time {
	if parsed != nil {
		utc := parsed.UTC()
		return &utc
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	ts, err := dateparse.ParseAny(raw)
	if err != nil {
		return nil
	}
	utc := ts.UTC()
	return &utc
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	marker := []rune(truncationMarker)
	if limit <= len(marker) {
		return string(runes[:limit])
	}
	return string(runes[:limit-len(marker)]) + truncationMarker
}
