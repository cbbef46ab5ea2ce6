package tagger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"newsclip/internal/feed"
	"newsclip/internal/openai"
)

type scriptedCompleter struct {
	responses []completion
	calls     int
	sleeps    []sleepCall
}

type completion struct {
	raw json.RawMessage
	err error
}

type sleepCall struct {
	attempt     int
	rateLimited bool
}

func (s *scriptedCompleter) CompleteJSON(ctx context.Context, system, user string) (json.RawMessage, error) {
	if s.calls >= len(s.responses) {
		return nil, errors.New("unexpected call")
	}
	response := s.responses[s.calls]
	s.calls++
	return response.raw, response.err
}

func (s *scriptedCompleter) SleepBetweenAttempts(ctx context.Context, attempt int, rateLimited bool) error {
	s.sleeps = append(s.sleeps, sleepCall{attempt: attempt, rateLimited: rateLimited})
	return nil
}

func makeCandidates(n int) []feed.Candidate {
	candidates := make([]feed.Candidate, 0, n)
	for i := 0; i < n; i++ {
		candidates = append(candidates, feed.Candidate{
			Title:   fmt.Sprintf("Article %d", i),
			Summary: fmt.Sprintf("Summary %d", i),
			Link:    fmt.Sprintf("https://example.com/articles/%d", i),
			Source:  "Example Feed",
		})
	}
	return candidates
}

// echoResponse builds a valid classifier response covering the given
// candidate indices.
func echoResponse(candidates []feed.Candidate, indices ...int) json.RawMessage {
	type item struct {
		Title string   `json:"title"`
		Link  string   `json:"link"`
		Tags  []string `json:"tags"`
	}
	items := make([]item, 0, len(indices))
	for _, i := range indices {
		items = append(items, item{
			Title: candidates[i].Title,
			Link:  candidates[i].Link,
			Tags:  []string{"news"},
		})
	}
	raw, _ := json.Marshal(map[string]any{"articles": items})
	return raw
}

func TestTagAllSplitsIntoBatches(t *testing.T) {
	t.Parallel()

	candidates := makeCandidates(25)
	completer := &scriptedCompleter{responses: []completion{
		{raw: echoResponse(candidates, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9)},
		{raw: echoResponse(candidates, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19)},
		{raw: echoResponse(candidates, 20, 21, 22, 23, 24)},
	}}

	var persisted [][]TaggedCandidate
	tagger := New(completer, 10, nil, zerolog.Nop())
	stats, err := tagger.TagAll(context.Background(), candidates, func(ctx context.Context, batch []TaggedCandidate) error {
		persisted = append(persisted, batch)
		return nil
	})
	if err != nil {
		t.Fatalf("TagAll: %v", err)
	}

	if stats.Batches != 3 {
		t.Errorf("Batches = %d, want 3", stats.Batches)
	}
	if stats.Tagged != 25 || stats.DroppedByService != 0 {
		t.Errorf("Tagged/Dropped = %d/%d, want 25/0", stats.Tagged, stats.DroppedByService)
	}
	if len(persisted) != 3 {
		t.Fatalf("persisted %d batches, want 3", len(persisted))
	}
	if len(persisted[0]) != 10 || len(persisted[1]) != 10 || len(persisted[2]) != 5 {
		t.Errorf("batch sizes = %d/%d/%d, want 10/10/5",
			len(persisted[0]), len(persisted[1]), len(persisted[2]))
	}
}

func TestTagAllAbandonsFailedBatchAndContinues(t *testing.T) {
	t.Parallel()

	candidates := makeCandidates(4)
	serviceErr := &openai.ServiceError{Path: "/v1/chat/completions", Status: 500}
	completer := &scriptedCompleter{responses: []completion{
		{err: serviceErr},
		{err: serviceErr},
		{err: serviceErr},
		{raw: echoResponse(candidates, 2, 3)},
	}}

	var persisted [][]TaggedCandidate
	tagger := New(completer, 2, nil, zerolog.Nop())
	stats, err := tagger.TagAll(context.Background(), candidates, func(ctx context.Context, batch []TaggedCandidate) error {
		persisted = append(persisted, batch)
		return nil
	})
	if err != nil {
		t.Fatalf("TagAll: %v", err)
	}

	if stats.BatchesAbandoned != 1 {
		t.Errorf("BatchesAbandoned = %d, want 1", stats.BatchesAbandoned)
	}
	if stats.Tagged != 2 {
		t.Errorf("Tagged = %d, want 2", stats.Tagged)
	}
	if len(persisted) != 1 {
		t.Fatalf("persisted %d batches, want 1 (failed batch must contribute nothing)", len(persisted))
	}
	if persisted[0][0].Link != candidates[2].Link {
		t.Errorf("wrong batch persisted: %+v", persisted[0])
	}
}

func TestTagAllRateLimitBackoffScalesWithAttempt(t *testing.T) {
	t.Parallel()

	candidates := makeCandidates(2)
	rateLimitErr := &openai.RateLimitError{}
	completer := &scriptedCompleter{responses: []completion{
		{err: rateLimitErr},
		{err: rateLimitErr},
		{raw: echoResponse(candidates, 0, 1)},
	}}

	tagger := New(completer, 10, nil, zerolog.Nop())
	stats, err := tagger.TagAll(context.Background(), candidates, nil)
	if err != nil {
		t.Fatalf("TagAll: %v", err)
	}
	if stats.Tagged != 2 {
		t.Errorf("Tagged = %d, want 2", stats.Tagged)
	}

	want := []sleepCall{
		{attempt: 1, rateLimited: true},
		{attempt: 2, rateLimited: true},
	}
	if len(completer.sleeps) != len(want) {
		t.Fatalf("sleeps = %+v, want %+v", completer.sleeps, want)
	}
	for i := range want {
		if completer.sleeps[i] != want[i] {
			t.Errorf("sleep[%d] = %+v, want %+v", i, completer.sleeps[i], want[i])
		}
	}
}

func TestTagAllRetriesMalformedResponse(t *testing.T) {
	t.Parallel()

	candidates := makeCandidates(1)
	completer := &scriptedCompleter{responses: []completion{
		{raw: json.RawMessage(`{"articles": "not an array"}`)},
		{raw: echoResponse(candidates, 0)},
	}}

	tagger := New(completer, 10, nil, zerolog.Nop())
	stats, err := tagger.TagAll(context.Background(), candidates, nil)
	if err != nil {
		t.Fatalf("TagAll: %v", err)
	}
	if stats.Tagged != 1 || stats.BatchesAbandoned != 0 {
		t.Errorf("Tagged/Abandoned = %d/%d, want 1/0", stats.Tagged, stats.BatchesAbandoned)
	}
	if completer.calls != 2 {
		t.Errorf("calls = %d, want 2", completer.calls)
	}
}

func TestTagAllCountsServiceDrops(t *testing.T) {
	t.Parallel()

	candidates := makeCandidates(3)
	// classifier drops article 1 as off-topic
	completer := &scriptedCompleter{responses: []completion{
		{raw: echoResponse(candidates, 0, 2)},
	}}

	tagger := New(completer, 10, nil, zerolog.Nop())
	stats, err := tagger.TagAll(context.Background(), candidates, nil)
	if err != nil {
		t.Fatalf("TagAll: %v", err)
	}
	if stats.Tagged != 2 || stats.DroppedByService != 1 {
		t.Errorf("Tagged/Dropped = %d/%d, want 2/1", stats.Tagged, stats.DroppedByService)
	}
}

func TestTagAllPersistsCleanedTitleAndSummary(t *testing.T) {
	t.Parallel()

	candidates := []feed.Candidate{{
		Title:   "BREAKING!!! quake hits coast   (sponsored)",
		Summary: "raw messy summary",
		Link:    "https://example.com/quake",
		Source:  "Example Feed",
	}}
	raw, _ := json.Marshal(map[string]any{"articles": []map[string]any{{
		"title":   "Quake hits coast",
		"summary": "A magnitude 7 earthquake struck the coastline.",
		"link":    candidates[0].Link,
		"tags":    []string{"disaster"},
	}}})
	completer := &scriptedCompleter{responses: []completion{{raw: raw}}}

	var persisted []TaggedCandidate
	tagger := New(completer, 10, nil, zerolog.Nop())
	_, err := tagger.TagAll(context.Background(), candidates, func(ctx context.Context, batch []TaggedCandidate) error {
		persisted = append(persisted, batch...)
		return nil
	})
	if err != nil {
		t.Fatalf("TagAll: %v", err)
	}
	if len(persisted) != 1 {
		t.Fatalf("persisted %d articles, want 1", len(persisted))
	}
	if persisted[0].Title != "Quake hits coast" {
		t.Errorf("persisted title = %q, want the classifier's cleaned title", persisted[0].Title)
	}
	if persisted[0].Summary != "A magnitude 7 earthquake struck the coastline." {
		t.Errorf("persisted summary = %q, want the classifier's cleaned summary", persisted[0].Summary)
	}
	// fields the service does not return keep the candidate's values
	if persisted[0].Link != candidates[0].Link || persisted[0].Source != "Example Feed" {
		t.Errorf("persisted link/source changed: %+v", persisted[0])
	}
}

func TestTagAllKeepsCandidateTextWhenResponseOmitsSummary(t *testing.T) {
	t.Parallel()

	candidates := []feed.Candidate{{
		Title:   "Original title",
		Summary: "Original summary",
		Link:    "https://example.com/1",
	}}
	raw, _ := json.Marshal(map[string]any{"articles": []map[string]any{{
		"title": "Original title",
		"link":  candidates[0].Link,
		"tags":  []string{"news"},
	}}})
	completer := &scriptedCompleter{responses: []completion{{raw: raw}}}

	var persisted []TaggedCandidate
	tagger := New(completer, 10, nil, zerolog.Nop())
	if _, err := tagger.TagAll(context.Background(), candidates, func(ctx context.Context, batch []TaggedCandidate) error {
		persisted = append(persisted, batch...)
		return nil
	}); err != nil {
		t.Fatalf("TagAll: %v", err)
	}
	if len(persisted) != 1 {
		t.Fatalf("persisted %d articles, want 1", len(persisted))
	}
	if persisted[0].Summary != "Original summary" {
		t.Errorf("summary = %q, want the candidate's own summary", persisted[0].Summary)
	}
}

func TestTagAllDiscardsUnknownLinks(t *testing.T) {
	t.Parallel()

	candidates := makeCandidates(1)
	raw, _ := json.Marshal(map[string]any{"articles": []map[string]any{
		{"title": "Invented", "link": "https://example.com/not-sent", "tags": []string{"x"}},
		{"title": candidates[0].Title, "link": candidates[0].Link, "tags": []string{"news"}},
	}})
	completer := &scriptedCompleter{responses: []completion{{raw: raw}}}

	tagger := New(completer, 10, nil, zerolog.Nop())
	var persisted []TaggedCandidate
	_, err := tagger.TagAll(context.Background(), candidates, func(ctx context.Context, batch []TaggedCandidate) error {
		persisted = append(persisted, batch...)
		return nil
	})
	if err != nil {
		t.Fatalf("TagAll: %v", err)
	}
	if len(persisted) != 1 || persisted[0].Link != candidates[0].Link {
		t.Fatalf("persisted = %+v, want only the known link", persisted)
	}
}

func TestTagAllPersistFailureIsFatal(t *testing.T) {
	t.Parallel()

	candidates := makeCandidates(4)
	completer := &scriptedCompleter{responses: []completion{
		{raw: echoResponse(candidates, 0, 1)},
	}}

	tagger := New(completer, 2, nil, zerolog.Nop())
	_, err := tagger.TagAll(context.Background(), candidates, func(ctx context.Context, batch []TaggedCandidate) error {
		return errors.New("disk full")
	})
	if err == nil {
		t.Fatal("expected persist failure to abort the run")
	}
	if completer.calls != 1 {
		t.Errorf("calls = %d, want 1 (no further batches after a fatal store error)", completer.calls)
	}
}

func TestSystemPromptListsLabels(t *testing.T) {
	t.Parallel()

	tagger := New(&scriptedCompleter{}, 10, []string{"politics", "tech"}, zerolog.Nop())
	prompt := tagger.systemPrompt()
	if want := "politics, tech"; !strings.Contains(prompt, want) {
		t.Errorf("prompt missing label list %q: %s", want, prompt)
	}
}

func TestNormalizeTags(t *testing.T) {
	t.Parallel()

	got := normalizeTags([]string{" Tech ", "tech", "", "Politics"})
	want := []string{"tech", "politics"}
	if len(got) != len(want) {
		t.Fatalf("normalizeTags = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("normalizeTags[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
