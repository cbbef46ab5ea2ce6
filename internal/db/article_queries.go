package db

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TaggedArticle is the normalized, classified record the pipeline persists.
type TaggedArticle struct {
	Title     string
	Summary   string
	Link      string
	Published *time.Time
	Updated   *time.Time
	Source    string
	Language  string
	OGImage   string
	Tags      []string
}

// UpsertResult reports one batch commit.
type UpsertResult struct {
	Stored   int
	Skipped  int
	IDByLink map[string]int64
}

// LinkKnown probes whether a link has already been persisted. A missing
// articles table counts as "not known" so a fresh database bootstraps cleanly.
func (p *Pool) LinkKnown(ctx context.Context, link string) (bool, error) {
	var one int
	err := p.QueryRow(ctx, `SELECT 1 FROM articles WHERE link = $1`, link).Scan(&one)
	if err != nil {
		if IsNoRows(err) || IsUndefinedTable(err) {
			return false, nil
		}
		return false, fmt.Errorf("probe link %q: %w", link, err)
	}
	return true, nil
}

// UpsertTagged writes one batch of tagged articles in a single transaction.
// Each article is upserted by link, its id re-resolved by re-querying on link,
// and its tag associations fully rewritten. A row-level integrity violation
// rolls back to the article's savepoint and the batch continues; any other
// store error aborts the whole batch.
func (p *Pool) UpsertTagged(ctx context.Context, articles []TaggedArticle) (UpsertResult, error) {
	result := UpsertResult{IDByLink: make(map[string]int64, len(articles))}
	if len(articles) == 0 {
		return result, nil
	}

	tx, err := p.BeginTx(ctx)
	if err != nil {
		return result, fmt.Errorf("begin upsert transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for i, article := range articles {
		savepoint := fmt.Sprintf("article_%d", i)
		if err := tx.SavePoint(savepoint); err != nil {
			return result, fmt.Errorf("create savepoint: %w", err)
		}

		id, err := upsertOne(ctx, tx, article)
		if err != nil {
			if IsIntegrityViolation(err) {
				if rbErr := tx.RollbackTo(savepoint); rbErr != nil {
					return result, fmt.Errorf("rollback to savepoint: %w", rbErr)
				}
				result.Skipped++
				continue
			}
			return result, err
		}

		result.Stored++
		result.IDByLink[article.Link] = id
	}

	if err := tx.Commit(ctx); err != nil {
		return result, fmt.Errorf("commit upsert transaction: %w", err)
	}
	return result, nil
}

func upsertOne(ctx context.Context, tx Tx, article TaggedArticle) (int64, error) {
	const upsertQ = `
INSERT INTO articles (title, summary, link, published, updated, source, language, og_image, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
ON CONFLICT (link) DO UPDATE SET
	title = EXCLUDED.title,
	summary = EXCLUDED.summary,
	published = EXCLUDED.published,
	updated = EXCLUDED.updated,
	source = EXCLUDED.source,
	language = EXCLUDED.language,
	og_image = EXCLUDED.og_image,
	updated_at = now()
`

	if _, err := tx.Exec(ctx, upsertQ,
		article.Title,
		nullIfEmpty(article.Summary),
		article.Link,
		article.Published,
		article.Updated,
		nullIfEmpty(article.Source),
		nullIfEmpty(article.Language),
		nullIfEmpty(article.OGImage),
	); err != nil {
		return 0, fmt.Errorf("upsert article link=%q: %w", article.Link, err)
	}

	// The id is never trusted from before the write; replace semantics may
	// reassign identity, so resolve it by link every time.
	var id int64
	if err := tx.QueryRow(ctx, `SELECT id FROM articles WHERE link = $1`, article.Link).Scan(&id); err != nil {
		return 0, fmt.Errorf("resolve article id link=%q: %w", article.Link, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM article_tags WHERE article_id = $1`, id); err != nil {
		return 0, fmt.Errorf("clear tag links article_id=%d: %w", id, err)
	}

	for _, name := range article.Tags {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		tagID, err := getOrCreateTag(ctx, tx, name)
		if err != nil {
			return 0, err
		}

		const linkQ = `
INSERT INTO article_tags (article_id, tag_id, created_at)
VALUES ($1, $2, now())
ON CONFLICT (article_id, tag_id) DO NOTHING
`
		if _, err := tx.Exec(ctx, linkQ, id, tagID); err != nil {
			return 0, fmt.Errorf("link tag %q to article_id=%d: %w", name, id, err)
		}
	}

	return id, nil
}

// getOrCreateTag resolves a tag id atomically. The unique constraint on name
// is the backstop: the insert is a no-op when the tag exists, and the select
// afterwards always sees exactly one row.
func getOrCreateTag(ctx context.Context, tx Tx, name string) (int64, error) {
	const insertQ = `
INSERT INTO tags (name, created_at)
VALUES ($1, now())
ON CONFLICT (name) DO NOTHING
`
	if _, err := tx.Exec(ctx, insertQ, name); err != nil {
		return 0, fmt.Errorf("insert tag %q: %w", name, err)
	}

	var id int64
	if err := tx.QueryRow(ctx, `SELECT id FROM tags WHERE name = $1`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("resolve tag id name=%q: %w", name, err)
	}
	return id, nil
}

func nullIfEmpty(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
