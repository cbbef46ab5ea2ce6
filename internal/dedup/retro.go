package dedup

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"newsclip/internal/db"
)

const retroKNNLimit = 20

// BatchEmbedder produces one vector per input text, position-aligned.
// A nil vector marks an input whose embedding failed.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// RetroStore is the persistence surface the retroactive pass needs.
// *db.Pool satisfies it.
type RetroStore interface {
	ListArticleTexts(ctx context.Context) ([]db.ArticleText, error)
	UpsertEmbedding(ctx context.Context, articleID int64, vector []float32) error
	NearestEmbeddings(ctx context.Context, vector []float32, limit int) ([]db.Neighbor, error)
	DeleteArticles(ctx context.Context, ids []int64) error
}

// RetroResult summarizes one retroactive deduplication pass.
type RetroResult struct {
	Scanned  int
	Embedded int
	Clusters int
	Removed  int
}

// Retro deduplicates the stored corpus offline: it (re)embeds every article,
// clusters mutual near-neighbors, keeps the oldest article of each cluster,
// and deletes the rest.
type Retro struct {
	store     RetroStore
	embedder  BatchEmbedder
	threshold float64
	logger    zerolog.Logger
}

func NewRetro(store RetroStore, embedder BatchEmbedder, threshold float64, logger zerolog.Logger) *Retro {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Retro{
		store:     store,
		embedder:  embedder,
		threshold: threshold,
		logger:    logger,
	}
}

// Run executes one full pass. Articles whose embedding fails are left out of
// clustering and never deleted.
func (r *Retro) Run(ctx context.Context) (RetroResult, error) {
	var result RetroResult

	texts, err := r.store.ListArticleTexts(ctx)
	if err != nil {
		return result, fmt.Errorf("list articles: %w", err)
	}
	result.Scanned = len(texts)
	if len(texts) == 0 {
		r.logger.Info().Msg("no articles to deduplicate")
		return result, nil
	}

	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = embeddingText(t.Title, t.Summary)
	}

	vectors, err := r.embedder.EmbedBatch(ctx, inputs)
	if err != nil {
		return result, fmt.Errorf("embed corpus: %w", err)
	}
	if len(vectors) != len(texts) {
		return result, fmt.Errorf("embedding count mismatch: %d texts, %d vectors", len(texts), len(vectors))
	}

	ids := make([]int64, 0, len(texts))
	vecByID := make(map[int64][]float32, len(texts))
	for i, t := range texts {
		if vectors[i] == nil {
			r.logger.Warn().Int64("article_id", t.ID).Msg("embedding unavailable, excluding from clustering")
			continue
		}
		if err := r.store.UpsertEmbedding(ctx, t.ID, vectors[i]); err != nil {
			return result, fmt.Errorf("store embedding for article %d: %w", t.ID, err)
		}
		ids = append(ids, t.ID)
		vecByID[t.ID] = vectors[i]
		result.Embedded++
	}

	clusters, err := collectClusters(ids, func(id int64) ([]int64, error) {
		return r.similarIDs(ctx, id, vecByID[id])
	})
	if err != nil {
		return result, err
	}
	result.Clusters = len(clusters)

	var removals []int64
	for _, c := range clusters {
		r.logger.Info().
			Int64("keep_id", c.KeepID).
			Ints64("remove_ids", c.RemoveIDs).
			Msg("found duplicate cluster")
		removals = append(removals, c.RemoveIDs...)
	}
	result.Removed = len(removals)

	if len(removals) > 0 {
		if err := r.store.DeleteArticles(ctx, removals); err != nil {
			return result, fmt.Errorf("delete duplicates: %w", err)
		}
	}

	r.logger.Info().
		Int("scanned", result.Scanned).
		Int("clusters", result.Clusters).
		Int("removed", result.Removed).
		Msg("retroactive deduplication complete")
	return result, nil
}

// similarIDs returns the ids whose stored embeddings sit at or above the
// threshold, excluding the article itself.
func (r *Retro) similarIDs(ctx context.Context, id int64, vector []float32) ([]int64, error) {
	neighbors, err := r.store.NearestEmbeddings(ctx, vector, retroKNNLimit)
	if err != nil {
		return nil, fmt.Errorf("nearest neighbors for article %d: %w", id, err)
	}

	var similar []int64
	for _, n := range neighbors {
		if n.ArticleID == id {
			continue
		}
		if similarityFromDistance(n.Distance) >= r.threshold {
			similar = append(similar, n.ArticleID)
		}
	}
	return similar, nil
}

// Cluster is one group of duplicates: the canonical survivor and the ids
// scheduled for removal.
type Cluster struct {
	KeepID    int64
	RemoveIDs []int64
}

// collectClusters walks ids in ascending order, asks for each unprocessed
// article's near-duplicates, and keeps the minimum id of each cluster. Once
// an id joins a cluster it is never revisited, so clusters cannot overlap.
func collectClusters(ids []int64, similar func(id int64) ([]int64, error)) ([]Cluster, error) {
	ordered := make([]int64, len(ids))
	copy(ordered, ids)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	known := make(map[int64]bool, len(ordered))
	for _, id := range ordered {
		known[id] = true
	}

	processed := make(map[int64]bool, len(ordered))
	var clusters []Cluster

	for _, id := range ordered {
		if processed[id] {
			continue
		}

		matches, err := similar(id)
		if err != nil {
			return nil, err
		}

		members := []int64{id}
		for _, m := range matches {
			if m == id || processed[m] || !known[m] {
				continue
			}
			members = append(members, m)
		}
		if len(members) == 1 {
			processed[id] = true
			continue
		}

		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
		keep := members[0]
		removeIDs := make([]int64, 0, len(members)-1)
		for _, m := range members {
			processed[m] = true
			if m != keep {
				removeIDs = append(removeIDs, m)
			}
		}
		clusters = append(clusters, Cluster{KeepID: keep, RemoveIDs: removeIDs})
	}

	return clusters, nil
}
