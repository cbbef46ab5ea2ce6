// Package pipeline wires fetching, normalization, novelty filtering,
// duplicate detection, tagging and persistence into one ingestion run.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"newsclip/internal/db"
	"newsclip/internal/dedup"
	"newsclip/internal/feed"
	"newsclip/internal/tagger"
)

const DefaultFeedConcurrency = 4

// Fetcher retrieves raw entries for one feed URL.
type Fetcher interface {
	Fetch(ctx context.Context, feedURL string) []feed.RawEntry
}

// Store is the persistence surface the pipeline writes through.
// *db.Pool satisfies it.
type Store interface {
	LinkKnown(ctx context.Context, link string) (bool, error)
	UpsertTagged(ctx context.Context, articles []db.TaggedArticle) (db.UpsertResult, error)
	UpsertEmbedding(ctx context.Context, articleID int64, vector []float32) error
}

// Deduper decides whether a candidate duplicates a stored article and writes
// embeddings for newly stored ones.
type Deduper interface {
	FindDuplicate(ctx context.Context, title, summary string) (*dedup.Match, error)
	EmbedAndStore(ctx context.Context, store dedup.EmbeddingWriter, articleID int64, title, summary string)
}

// Tagger classifies candidates in batches, persisting each through the
// supplied callback.
type Tagger interface {
	TagAll(ctx context.Context, candidates []feed.Candidate, persist tagger.PersistFunc) (tagger.Stats, error)
}

// Enricher supplies optional page-level metadata.
type Enricher interface {
	OGImage(ctx context.Context, pageURL string) string
	Excerpt(ctx context.Context, pageURL string, maxChars int) string
}

// Options configures one ingestion service.
type Options struct {
	FeedURLs        []string
	Normalize       feed.NormalizeOptions
	FeedConcurrency int
	FetchOGImages   bool
	FetchExcerpts   bool
	ExcerptLimit    int
}

// RunResult counts what happened to every fetched entry. Each entry lands in
// exactly one of Rejected, AlreadyKnown, Duplicates or Queued; queued entries
// then land in Tagged, DroppedByClassifier or an abandoned batch.
type RunResult struct {
	Fetched             int
	Rejected            int
	AlreadyKnown        int
	Duplicates          int
	Queued              int
	Tagged              int
	DroppedByClassifier int
	Batches             int
	BatchesAbandoned    int
	Stored              int
	StoreSkipped        int
}

// Service runs the ingestion pipeline end to end.
type Service struct {
	fetcher  Fetcher
	store    Store
	detector Deduper
	tagger   Tagger
	enricher Enricher
	opts     Options
	logger   zerolog.Logger
}

func NewService(fetcher Fetcher, store Store, detector Deduper, classifier Tagger, enricher Enricher, opts Options, logger zerolog.Logger) *Service {
	if opts.FeedConcurrency <= 0 {
		opts.FeedConcurrency = DefaultFeedConcurrency
	}
	return &Service{
		fetcher:  fetcher,
		store:    store,
		detector: detector,
		tagger:   classifier,
		enricher: enricher,
		opts:     opts,
		logger:   logger,
	}
}

// Run executes one full ingestion pass. Per-entry and per-batch failures are
// isolated; only storage failures and classifier misconfiguration abort the
// run.
func (s *Service) Run(ctx context.Context) (RunResult, error) {
	var result RunResult

	entries := s.fetchAll(ctx)
	result.Fetched = len(entries)
	if len(entries) == 0 {
		s.logger.Info().Msg("no entries fetched")
		return result, nil
	}

	candidates, err := s.filter(ctx, entries, &result)
	if err != nil {
		return result, err
	}
	result.Queued = len(candidates)

	if len(candidates) == 0 {
		s.logResult(result)
		return result, nil
	}

	stats, err := s.tagger.TagAll(ctx, candidates, func(ctx context.Context, batch []tagger.TaggedCandidate) error {
		return s.persistBatch(ctx, batch, &result)
	})
	result.Tagged = stats.Tagged
	result.DroppedByClassifier = stats.DroppedByService
	result.Batches = stats.Batches
	result.BatchesAbandoned = stats.BatchesAbandoned
	if err != nil {
		return result, fmt.Errorf("tagging run: %w", err)
	}

	s.logResult(result)
	return result, nil
}

// fetchAll pulls every configured feed with bounded concurrency, preserving
// feed order in the combined entry list.
func (s *Service) fetchAll(ctx context.Context) []feed.RawEntry {
	perFeed := make([][]feed.RawEntry, len(s.opts.FeedURLs))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.opts.FeedConcurrency)

	var mu sync.Mutex
	for i, feedURL := range s.opts.FeedURLs {
		group.Go(func() error {
			entries := s.fetcher.Fetch(groupCtx, feedURL)
			mu.Lock()
			perFeed[i] = entries
			mu.Unlock()
			return nil
		})
	}
	// fetch failures degrade to empty lists, so the only group error is
	// context cancellation
	_ = group.Wait()

	var combined []feed.RawEntry
	for _, entries := range perFeed {
		combined = append(combined, entries...)
	}
	return combined
}

// filter normalizes entries and drops the ones that are rejected, already
// stored, or semantic duplicates of stored articles.
func (s *Service) filter(ctx context.Context, entries []feed.RawEntry, result *RunResult) ([]feed.Candidate, error) {
	var candidates []feed.Candidate
	seenLinks := make(map[string]bool, len(entries))

	for _, entry := range entries {
		candidate, err := feed.Normalize(entry, s.opts.Normalize)
		if err != nil {
			result.Rejected++
			s.logger.Debug().Err(err).Msg("rejected feed entry")
			continue
		}

		if seenLinks[candidate.Link] {
			result.AlreadyKnown++
			continue
		}
		seenLinks[candidate.Link] = true

		known, err := s.store.LinkKnown(ctx, candidate.Link)
		if err != nil {
			return nil, fmt.Errorf("novelty probe: %w", err)
		}
		if known {
			result.AlreadyKnown++
			continue
		}

		if s.opts.FetchExcerpts && candidate.Summary == "" && s.enricher != nil {
			candidate.Summary = s.enricher.Excerpt(ctx, candidate.Link, s.opts.ExcerptLimit)
		}

		match, err := s.detector.FindDuplicate(ctx, candidate.Title, candidate.Summary)
		if err != nil {
			return nil, fmt.Errorf("duplicate check: %w", err)
		}
		if match != nil {
			result.Duplicates++
			continue
		}

		candidates = append(candidates, candidate)
	}

	return candidates, nil
}

// persistBatch stores one tagged batch and writes embeddings for the
// articles that made it in.
func (s *Service) persistBatch(ctx context.Context, batch []tagger.TaggedCandidate, result *RunResult) error {
	articles := make([]db.TaggedArticle, 0, len(batch))
	for _, item := range batch {
		article := db.TaggedArticle{
			Title:     item.Title,
			Summary:   item.Summary,
			Link:      item.Link,
			Published: item.Published,
			Updated:   item.Updated,
			Source:    item.Source,
			Language:  item.Language,
			Tags:      item.Tags,
		}
		if s.opts.FetchOGImages && s.enricher != nil {
			article.OGImage = s.enricher.OGImage(ctx, item.Link)
		}
		articles = append(articles, article)
	}

	stored, err := s.store.UpsertTagged(ctx, articles)
	if err != nil {
		return err
	}
	result.Stored += stored.Stored
	result.StoreSkipped += stored.Skipped

	for _, item := range batch {
		id, ok := stored.IDByLink[item.Link]
		if !ok {
			continue
		}
		s.detector.EmbedAndStore(ctx, s.store, id, item.Title, item.Summary)
	}

	return nil
}

func (s *Service) logResult(result RunResult) {
	s.logger.Info().
		Int("fetched", result.Fetched).
		Int("rejected", result.Rejected).
		Int("already_known", result.AlreadyKnown).
		Int("duplicates", result.Duplicates).
		Int("queued", result.Queued).
		Int("tagged", result.Tagged).
		Int("dropped_by_classifier", result.DroppedByClassifier).
		Int("batches_abandoned", result.BatchesAbandoned).
		Int("stored", result.Stored).
		Msg("ingestion run complete")
}
