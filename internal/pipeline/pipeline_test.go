package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"newsclip/internal/db"
	"newsclip/internal/dedup"
	"newsclip/internal/feed"
	"newsclip/internal/tagger"
)

type fakeFetcher struct {
	mu      sync.Mutex
	entries map[string][]feed.RawEntry
	fetched []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, feedURL string) []feed.RawEntry {
	f.mu.Lock()
	f.fetched = append(f.fetched, feedURL)
	f.mu.Unlock()
	return f.entries[feedURL]
}

type fakeStore struct {
	known      map[string]bool
	upserted   [][]db.TaggedArticle
	embeddings map[int64][]float32
	upsertErr  error
	nextID     int64
}

func (f *fakeStore) LinkKnown(ctx context.Context, link string) (bool, error) {
	return f.known[link], nil
}

func (f *fakeStore) UpsertTagged(ctx context.Context, articles []db.TaggedArticle) (db.UpsertResult, error) {
	if f.upsertErr != nil {
		return db.UpsertResult{}, f.upsertErr
	}
	f.upserted = append(f.upserted, articles)
	result := db.UpsertResult{IDByLink: make(map[string]int64, len(articles))}
	for _, a := range articles {
		f.nextID++
		result.Stored++
		result.IDByLink[a.Link] = f.nextID
	}
	return result, nil
}

func (f *fakeStore) UpsertEmbedding(ctx context.Context, articleID int64, vector []float32) error {
	if f.embeddings == nil {
		f.embeddings = make(map[int64][]float32)
	}
	f.embeddings[articleID] = vector
	return nil
}

type fakeDeduper struct {
	duplicates map[string]*dedup.Match // keyed by title
	err        error
	embedded   []int64
}

func (f *fakeDeduper) FindDuplicate(ctx context.Context, title, summary string) (*dedup.Match, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.duplicates[title], nil
}

func (f *fakeDeduper) EmbedAndStore(ctx context.Context, store dedup.EmbeddingWriter, articleID int64, title, summary string) {
	f.embedded = append(f.embedded, articleID)
	_ = store.UpsertEmbedding(ctx, articleID, []float32{1})
}

// passthroughTagger tags everything with a fixed label in one batch.
type passthroughTagger struct{}

func (passthroughTagger) TagAll(ctx context.Context, candidates []feed.Candidate, persist tagger.PersistFunc) (tagger.Stats, error) {
	tagged := make([]tagger.TaggedCandidate, 0, len(candidates))
	for _, c := range candidates {
		tagged = append(tagged, tagger.TaggedCandidate{Candidate: c, Tags: []string{"news"}})
	}
	stats := tagger.Stats{Batches: 1, Tagged: len(tagged)}
	if len(tagged) > 0 && persist != nil {
		if err := persist(ctx, tagged); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func entry(title, link string) feed.RawEntry {
	return feed.RawEntry{
		Item:   &gofeed.Item{Title: title, Link: link, Description: "summary of " + title},
		Source: "Test Feed",
	}
}

func newService(fetcher Fetcher, store Store, detector Deduper, opts Options) *Service {
	return NewService(fetcher, store, detector, passthroughTagger{}, nil, opts, zerolog.Nop())
}

func TestRunStoresNovelArticles(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{entries: map[string][]feed.RawEntry{
		"https://feeds.example.com/a": {
			entry("First story", "https://example.com/1"),
			entry("Second story", "https://example.com/2"),
		},
	}}
	store := &fakeStore{}
	detector := &fakeDeduper{}

	svc := newService(fetcher, store, detector, Options{FeedURLs: []string{"https://feeds.example.com/a"}})
	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Fetched != 2 || result.Queued != 2 || result.Stored != 2 {
		t.Errorf("Fetched/Queued/Stored = %d/%d/%d, want 2/2/2", result.Fetched, result.Queued, result.Stored)
	}
	if len(store.upserted) != 1 || len(store.upserted[0]) != 2 {
		t.Fatalf("upserted = %+v, want one batch of two", store.upserted)
	}
	if len(detector.embedded) != 2 {
		t.Errorf("embedded %d articles, want 2", len(detector.embedded))
	}
	if len(store.embeddings) != 2 {
		t.Errorf("stored %d embeddings, want 2", len(store.embeddings))
	}
}

func TestRunSkipsKnownLinks(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{entries: map[string][]feed.RawEntry{
		"f": {
			entry("Known story", "https://example.com/known"),
			entry("New story", "https://example.com/new"),
		},
	}}
	store := &fakeStore{known: map[string]bool{"https://example.com/known": true}}

	svc := newService(fetcher, store, &fakeDeduper{}, Options{FeedURLs: []string{"f"}})
	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.AlreadyKnown != 1 || result.Queued != 1 || result.Stored != 1 {
		t.Errorf("AlreadyKnown/Queued/Stored = %d/%d/%d, want 1/1/1",
			result.AlreadyKnown, result.Queued, result.Stored)
	}
}

func TestRunSkipsWithinRunRepeats(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{entries: map[string][]feed.RawEntry{
		"a": {entry("Story", "https://example.com/1")},
		"b": {entry("Story again", "https://example.com/1")},
	}}
	store := &fakeStore{}

	svc := newService(fetcher, store, &fakeDeduper{}, Options{FeedURLs: []string{"a", "b"}})
	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Queued != 1 || result.AlreadyKnown != 1 {
		t.Errorf("Queued/AlreadyKnown = %d/%d, want 1/1", result.Queued, result.AlreadyKnown)
	}
}

func TestRunSkipsSemanticDuplicates(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{entries: map[string][]feed.RawEntry{
		"f": {
			entry("Quake hits coast", "https://example.com/1"),
			entry("Fresh story", "https://example.com/2"),
		},
	}}
	detector := &fakeDeduper{duplicates: map[string]*dedup.Match{
		"Quake hits coast": {ArticleID: 99, Similarity: 0.91},
	}}
	store := &fakeStore{}

	svc := newService(fetcher, store, detector, Options{FeedURLs: []string{"f"}})
	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Duplicates != 1 || result.Queued != 1 || result.Stored != 1 {
		t.Errorf("Duplicates/Queued/Stored = %d/%d/%d, want 1/1/1",
			result.Duplicates, result.Queued, result.Stored)
	}
}

func TestRunRejectsEntriesWithoutLinks(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{entries: map[string][]feed.RawEntry{
		"f": {
			{Item: &gofeed.Item{Title: "No link"}, Source: "Test Feed"},
			entry("Good story", "https://example.com/1"),
		},
	}}
	store := &fakeStore{}

	svc := newService(fetcher, store, &fakeDeduper{}, Options{FeedURLs: []string{"f"}})
	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Rejected != 1 || result.Queued != 1 {
		t.Errorf("Rejected/Queued = %d/%d, want 1/1", result.Rejected, result.Queued)
	}
}

func TestRunDetectorErrorAborts(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{entries: map[string][]feed.RawEntry{
		"f": {entry("Story", "https://example.com/1")},
	}}
	detector := &fakeDeduper{err: errors.New("index unavailable")}

	svc := newService(fetcher, &fakeStore{}, detector, Options{FeedURLs: []string{"f"}})
	if _, err := svc.Run(context.Background()); err == nil {
		t.Fatal("expected detector error to abort the run")
	}
}

func TestRunStoreFailureAborts(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{entries: map[string][]feed.RawEntry{
		"f": {entry("Story", "https://example.com/1")},
	}}
	store := &fakeStore{upsertErr: errors.New("disk full")}

	svc := newService(fetcher, store, &fakeDeduper{}, Options{FeedURLs: []string{"f"}})
	if _, err := svc.Run(context.Background()); err == nil {
		t.Fatal("expected store failure to abort the run")
	}
}

func TestRunFetchesAllFeeds(t *testing.T) {
	t.Parallel()

	urls := make([]string, 6)
	entries := make(map[string][]feed.RawEntry, 6)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://feeds.example.com/%d", i)
		entries[urls[i]] = []feed.RawEntry{entry(fmt.Sprintf("Story %d", i), fmt.Sprintf("https://example.com/%d", i))}
	}
	fetcher := &fakeFetcher{entries: entries}

	svc := newService(fetcher, &fakeStore{}, &fakeDeduper{}, Options{FeedURLs: urls, FeedConcurrency: 2})
	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(fetcher.fetched) != 6 {
		t.Errorf("fetched %d feeds, want 6", len(fetcher.fetched))
	}
	if result.Fetched != 6 || result.Stored != 6 {
		t.Errorf("Fetched/Stored = %d/%d, want 6/6", result.Fetched, result.Stored)
	}
}
