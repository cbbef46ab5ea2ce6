package db

import (
	"context"
	"fmt"
	"time"
)

// ArticleListOptions controls the read API's article listing.
type ArticleListOptions struct {
	Tag    string
	Limit  int
	Offset int
}

// ArticleListItem is one article as exposed by the read API and CLI.
type ArticleListItem struct {
	ID        int64      `json:"id"`
	Title     string     `json:"title"`
	Summary   *string    `json:"summary,omitempty"`
	Link      string     `json:"link"`
	Published *time.Time `json:"published,omitempty"`
	Updated   *time.Time `json:"updated,omitempty"`
	Source    *string    `json:"source,omitempty"`
	Language  *string    `json:"language,omitempty"`
	OGImage   *string    `json:"og_image,omitempty"`
	Tags      []string   `json:"tags"`
}

// TagCount is one tag with its article count.
type TagCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// ListArticles returns articles newest first, optionally filtered by tag name.
func (p *Pool) ListArticles(ctx context.Context, opts ArticleListOptions) ([]ArticleListItem, error) {
	if opts.Limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	if opts.Offset < 0 {
		return nil, fmt.Errorf("offset must be >= 0")
	}

	const q = `
SELECT a.id, a.title, a.summary, a.link, a.published, a.updated, a.source, a.language, a.og_image
FROM articles a
WHERE ($1 = '' OR EXISTS (
	SELECT 1
	FROM article_tags at
	JOIN tags t ON t.id = at.tag_id
	WHERE at.article_id = a.id
	  AND t.name = $1
))
ORDER BY a.created_at DESC, a.id DESC
LIMIT $2 OFFSET $3
`

	rows, err := p.Query(ctx, q, opts.Tag, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	items := make([]ArticleListItem, 0, opts.Limit)
	ids := make([]int64, 0, opts.Limit)
	for rows.Next() {
		var row ArticleListItem
		if err := rows.Scan(
			&row.ID,
			&row.Title,
			&row.Summary,
			&row.Link,
			&row.Published,
			&row.Updated,
			&row.Source,
			&row.Language,
			&row.OGImage,
		); err != nil {
			return nil, fmt.Errorf("scan article row: %w", err)
		}
		row.Tags = []string{}
		items = append(items, row)
		ids = append(ids, row.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate article rows: %w", err)
	}

	if len(ids) == 0 {
		return items, nil
	}

	tagsByArticle, err := p.tagsForArticles(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if names, ok := tagsByArticle[items[i].ID]; ok {
			items[i].Tags = names
		}
	}
	return items, nil
}

func (p *Pool) tagsForArticles(ctx context.Context, ids []int64) (map[int64][]string, error) {
	const q = `
SELECT at.article_id, t.name
FROM article_tags at
JOIN tags t ON t.id = at.tag_id
WHERE at.article_id = ANY($1)
ORDER BY at.article_id, t.name
`
	rows, err := p.Query(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("query article tags: %w", err)
	}
	defer rows.Close()

	byArticle := make(map[int64][]string, len(ids))
	for rows.Next() {
		var articleID int64
		var name string
		if err := rows.Scan(&articleID, &name); err != nil {
			return nil, fmt.Errorf("scan article tag row: %w", err)
		}
		byArticle[articleID] = append(byArticle[articleID], name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate article tag rows: %w", err)
	}
	return byArticle, nil
}

// ListTagCounts returns every tag with its article count, most used first.
func (p *Pool) ListTagCounts(ctx context.Context) ([]TagCount, error) {
	const q = `
SELECT t.name, COUNT(at.article_id) AS article_count
FROM tags t
LEFT JOIN article_tags at ON t.id = at.tag_id
GROUP BY t.id, t.name
ORDER BY article_count DESC, t.name
`
	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query tag counts: %w", err)
	}
	defer rows.Close()

	counts := make([]TagCount, 0, 32)
	for rows.Next() {
		var row TagCount
		if err := rows.Scan(&row.Name, &row.Count); err != nil {
			return nil, fmt.Errorf("scan tag count row: %w", err)
		}
		counts = append(counts, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tag count rows: %w", err)
	}
	return counts, nil
}

// CountArticles returns the total number of stored articles.
func (p *Pool) CountArticles(ctx context.Context) (int64, error) {
	var count int64
	if err := p.QueryRow(ctx, `SELECT COUNT(*) FROM articles`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return count, nil
}
