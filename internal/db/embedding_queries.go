package db

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

// Neighbor is one KNN hit with the index's native L2 distance.
type Neighbor struct {
	ArticleID int64
	Distance  float64
}

// ArticleText is the embedding input for one stored article.
type ArticleText struct {
	ID      int64
	Title   string
	Summary string
}

// UpsertEmbedding stores the vector for an article, replacing any previous
// one. Independent of the article upsert so a duplicate-check write can be
// re-attempted without re-tagging.
func (p *Pool) UpsertEmbedding(ctx context.Context, articleID int64, vector []float32) error {
	const q = `
INSERT INTO article_embeddings (article_id, embedding, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (article_id) DO UPDATE SET
	embedding = EXCLUDED.embedding,
	updated_at = now()
`
	if _, err := p.Exec(ctx, q, articleID, pgvector.NewVector(vector)); err != nil {
		return fmt.Errorf("upsert embedding article_id=%d: %w", articleID, err)
	}
	return nil
}

// NearestEmbeddings returns the limit nearest stored vectors by L2 distance.
func (p *Pool) NearestEmbeddings(ctx context.Context, vector []float32, limit int) ([]Neighbor, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	const q = `
SELECT article_id, embedding <-> $1 AS distance
FROM article_embeddings
ORDER BY embedding <-> $1
LIMIT $2
`
	rows, err := p.Query(ctx, q, pgvector.NewVector(vector), limit)
	if err != nil {
		if IsUndefinedTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query nearest embeddings: %w", err)
	}
	defer rows.Close()

	neighbors := make([]Neighbor, 0, limit)
	for rows.Next() {
		var n Neighbor
		if err := rows.Scan(&n.ArticleID, &n.Distance); err != nil {
			return nil, fmt.Errorf("scan neighbor row: %w", err)
		}
		neighbors = append(neighbors, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate neighbor rows: %w", err)
	}
	return neighbors, nil
}

// ListArticleTexts loads title and summary for all articles in ascending id
// order, the scan order of the retroactive pass.
func (p *Pool) ListArticleTexts(ctx context.Context) ([]ArticleText, error) {
	const q = `
SELECT id, title, COALESCE(summary, '')
FROM articles
ORDER BY id
`
	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query article texts: %w", err)
	}
	defer rows.Close()

	var texts []ArticleText
	for rows.Next() {
		var t ArticleText
		if err := rows.Scan(&t.ID, &t.Title, &t.Summary); err != nil {
			return nil, fmt.Errorf("scan article text row: %w", err)
		}
		texts = append(texts, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate article text rows: %w", err)
	}
	return texts, nil
}

// DeleteArticles removes duplicate articles and compacts dependent state in
// dependency order: tag links, then orphaned tags, then embeddings, then the
// articles themselves, all in one transaction.
func (p *Pool) DeleteArticles(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := p.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin delete transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	steps := []struct {
		label string
		query string
	}{
		{"delete tag links", `DELETE FROM article_tags WHERE article_id = ANY($1)`},
		{"delete orphaned tags", `DELETE FROM tags WHERE id NOT IN (SELECT DISTINCT tag_id FROM article_tags)`},
		{"delete embeddings", `DELETE FROM article_embeddings WHERE article_id = ANY($1)`},
		{"delete articles", `DELETE FROM articles WHERE id = ANY($1)`},
	}

	for _, step := range steps {
		var execErr error
		if step.label == "delete orphaned tags" {
			_, execErr = tx.Exec(ctx, step.query)
		} else {
			_, execErr = tx.Exec(ctx, step.query, ids)
		}
		if execErr != nil {
			return fmt.Errorf("%s: %w", step.label, execErr)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete transaction: %w", err)
	}
	return nil
}

// CountEmbeddings returns the number of stored embeddings.
func (p *Pool) CountEmbeddings(ctx context.Context) (int64, error) {
	var count int64
	if err := p.QueryRow(ctx, `SELECT COUNT(*) FROM article_embeddings`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return count, nil
}
