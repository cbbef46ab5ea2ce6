package dedup

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"newsclip/internal/db"
	"newsclip/internal/openai"
)

const (
	DefaultThreshold = 0.70
	defaultKNNLimit  = 10
)

// Embedder produces one vector per input text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index answers nearest-neighbor queries over stored article vectors.
type Index interface {
	NearestEmbeddings(ctx context.Context, vector []float32, limit int) ([]db.Neighbor, error)
}

// Match identifies the stored article a candidate duplicates.
type Match struct {
	ArticleID  int64
	Similarity float64
}

// Detector finds semantic duplicates of candidate articles. Embedding
// failures degrade to "no duplicate found"; duplicate detection is
// best-effort and must never block ingestion.
type Detector struct {
	embedder  Embedder
	index     Index
	threshold float64
	knnLimit  int
	logger    zerolog.Logger
}

func NewDetector(embedder Embedder, index Index, threshold float64, logger zerolog.Logger) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{
		embedder:  embedder,
		index:     index,
		threshold: threshold,
		knnLimit:  defaultKNNLimit,
		logger:    logger,
	}
}

// FindDuplicate embeds the candidate text and reports the best stored match
// at or above the threshold, or nil when the candidate is novel.
func (d *Detector) FindDuplicate(ctx context.Context, title, summary string) (*Match, error) {
	text := embeddingText(title, summary)

	vector, err := d.embedder.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, openai.ErrDimensionMismatch) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.logger.Warn().Err(err).Str("title", clip(title, 50)).Msg("embedding failed, skipping duplicate check")
		return nil, nil
	}

	neighbors, err := d.index.NearestEmbeddings(ctx, vector, d.knnLimit)
	if err != nil {
		return nil, fmt.Errorf("nearest-neighbor query: %w", err)
	}

	best := bestMatch(neighbors, d.threshold)
	if best != nil {
		d.logger.Info().
			Int64("article_id", best.ArticleID).
			Float64("similarity", best.Similarity).
			Str("title", clip(title, 50)).
			Msg("found semantic duplicate")
	}
	return best, nil
}

// EmbedAndStore generates and persists the embedding for an article that was
// just written. Failures are logged and swallowed: the write can be
// re-attempted later without re-tagging.
func (d *Detector) EmbedAndStore(ctx context.Context, store EmbeddingWriter, articleID int64, title, summary string) {
	vector, err := d.embedder.Embed(ctx, embeddingText(title, summary))
	if err != nil {
		d.logger.Warn().Err(err).Int64("article_id", articleID).Msg("could not generate embedding")
		return
	}
	if err := store.UpsertEmbedding(ctx, articleID, vector); err != nil {
		d.logger.Warn().Err(err).Int64("article_id", articleID).Msg("could not store embedding")
	}
}

// EmbeddingWriter persists one vector per article id.
type EmbeddingWriter interface {
	UpsertEmbedding(ctx context.Context, articleID int64, vector []float32) error
}

// bestMatch converts distances to similarities and applies the inclusive
// threshold. Neighbors arrive ordered by distance, so the first hit wins.
func bestMatch(neighbors []db.Neighbor, threshold float64) *Match {
	for _, n := range neighbors {
		similarity := similarityFromDistance(n.Distance)
		if similarity >= threshold {
			return &Match{ArticleID: n.ArticleID, Similarity: similarity}
		}
	}
	return nil
}

// similarityFromDistance approximates cosine similarity from L2 distance for
// normalized vectors: cos ~= 1 - d^2/2, clamped to [0,1].
func similarityFromDistance(distance float64) float64 {
	return math.Max(0, 1-distance*distance/2)
}

func embeddingText(title, summary string) string {
	if summary == "" {
		return title
	}
	return title + " " + summary
}

func clip(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
