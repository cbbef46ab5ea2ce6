package scrape

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// preview image meta keys, in priority order
var imageMetaKeys = []string{"og:image", "twitter:image", "article:image"}

// OGImage returns the page's preview image URL, or "" when the page has none
// or cannot be fetched.
func (s *Scraper) OGImage(ctx context.Context, pageURL string) string {
	body, err := s.fetchPage(ctx, pageURL)
	if err != nil {
		s.logger.Debug().Err(err).Str("url", pageURL).Msg("preview image fetch failed")
		return ""
	}

	image := extractImageMeta(body)
	if image == "" {
		return ""
	}

	resolved := resolveAgainst(pageURL, image)
	if resolved == "" {
		return ""
	}

	s.logger.Debug().Str("url", pageURL).Str("image", resolved).Msg("extracted preview image")
	return resolved
}

// extractImageMeta walks the document's meta tags and returns the content of
// the highest-priority image key present.
func extractImageMeta(body []byte) string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	found := make(map[string]string, len(imageMetaKeys))

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "meta" {
			key, content := metaKeyContent(n)
			if content != "" {
				if _, exists := found[key]; !exists {
					found[key] = content
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	for _, key := range imageMetaKeys {
		if content, ok := found[key]; ok {
			return content
		}
	}
	return ""
}

// metaKeyContent reads a meta element's property (or name) and content
// attributes.
func metaKeyContent(n *html.Node) (key, content string) {
	for _, attr := range n.Attr {
		switch strings.ToLower(attr.Key) {
		case "property", "name":
			if key == "" {
				key = strings.ToLower(strings.TrimSpace(attr.Val))
			}
		case "content":
			content = strings.TrimSpace(attr.Val)
		}
	}
	return key, content
}

// resolveAgainst turns a possibly relative image reference into an absolute
// http(s) URL.
func resolveAgainst(pageURL, imageURL string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(imageURL)
	if err != nil {
		return ""
	}

	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	if resolved.Host == "" {
		return ""
	}
	return resolved.String()
}
