package scrape

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	readability "codeberg.org/readeck/go-readability/v2"
)

const DefaultExcerptLimit = 2000

// Excerpt extracts readable text from the article page, for feeds whose
// entries carry no summary. Returns "" when nothing useful can be extracted.
func (s *Scraper) Excerpt(ctx context.Context, pageURL string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultExcerptLimit
	}

	body, err := s.fetchPage(ctx, pageURL)
	if err != nil {
		s.logger.Debug().Err(err).Str("url", pageURL).Msg("excerpt fetch failed")
		return ""
	}

	parsed, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}

	article, err := readability.FromReader(bytes.NewReader(body), parsed)
	if err != nil {
		s.logger.Debug().Err(err).Str("url", pageURL).Msg("readability parse failed")
		return ""
	}

	var rendered bytes.Buffer
	if err := article.RenderText(&rendered); err != nil {
		return ""
	}

	text := cleanText(rendered.String())
	if text == "" {
		text = cleanText(article.Excerpt())
	}
	if text == "" {
		return ""
	}

	return truncateRunes(text, maxChars)
}

// cleanText normalizes line endings and collapses in-line whitespace.
func cleanText(raw string) string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	lines := strings.Split(normalized, "\n")
	paragraphs := make([]string, 0, len(lines))
	for _, line := range lines {
		clean := strings.Join(strings.Fields(strings.TrimSpace(line)), " ")
		if clean == "" {
			continue
		}
		paragraphs = append(paragraphs, clean)
	}

	return strings.TrimSpace(strings.Join(paragraphs, "\n\n"))
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	clipped := strings.TrimSpace(string(runes[:limit-1]))
	return clipped + "…"
}
