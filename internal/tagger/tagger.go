// Package tagger assigns topic tags to candidate articles in fixed-size
// batches through a JSON-mode chat completion service.
package tagger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"newsclip/internal/feed"
	"newsclip/internal/openai"
	tagschema "newsclip/schema"
)

const (
	DefaultBatchSize = 10
	maxBatchAttempts = 3
)

// Completer is the classification backend. *openai.ChatCompleter satisfies it.
type Completer interface {
	CompleteJSON(ctx context.Context, system, user string) (json.RawMessage, error)
	SleepBetweenAttempts(ctx context.Context, attempt int, rateLimited bool) error
}

// TaggedCandidate is a candidate article with its assigned tags.
type TaggedCandidate struct {
	feed.Candidate
	Tags []string
}

// PersistFunc stores one successfully tagged batch. An error here is fatal
// for the whole run: the storage layer is shared state, and continuing after
// a failed write would silently drop articles.
type PersistFunc func(ctx context.Context, batch []TaggedCandidate) error

// Stats summarizes one tagging run.
type Stats struct {
	Batches          int
	BatchesAbandoned int
	Tagged           int
	DroppedByService int
}

// Tagger classifies candidates batch by batch. A batch that fails all its
// attempts is abandoned and contributes nothing; it never blocks the batches
// after it.
type Tagger struct {
	completer Completer
	batchSize int
	labels    []string
	logger    zerolog.Logger
}

func New(completer Completer, batchSize int, labels []string, logger zerolog.Logger) *Tagger {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Tagger{
		completer: completer,
		batchSize: batchSize,
		labels:    labels,
		logger:    logger,
	}
}

// TagAll splits candidates into batches, classifies each, and hands every
// successful batch to persist before moving on. Partial progress survives a
// mid-run failure because persistence happens per batch.
func (t *Tagger) TagAll(ctx context.Context, candidates []feed.Candidate, persist PersistFunc) (Stats, error) {
	var stats Stats

	for start := 0; start < len(candidates); start += t.batchSize {
		end := min(start+t.batchSize, len(candidates))
		batch := candidates[start:end]
		stats.Batches++

		tagged, err := t.tagBatch(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.BatchesAbandoned++
			t.logger.Error().Err(err).
				Int("batch_start", start).
				Int("batch_size", len(batch)).
				Msg("abandoning batch after repeated failures")
			continue
		}

		stats.Tagged += len(tagged)
		stats.DroppedByService += len(batch) - len(tagged)

		if len(tagged) > 0 && persist != nil {
			if err := persist(ctx, tagged); err != nil {
				return stats, fmt.Errorf("persist tagged batch: %w", err)
			}
		}

		if end < len(candidates) {
			if err := t.completer.SleepBetweenAttempts(ctx, 1, false); err != nil {
				return stats, err
			}
		}
	}

	return stats, nil
}

// tagBatch runs one batch with bounded retries. Rate limits back off
// proportionally to the attempt number; malformed responses retry on a fixed
// delay because the next completion may well be valid.
func (t *Tagger) tagBatch(ctx context.Context, batch []feed.Candidate) ([]TaggedCandidate, error) {
	user, err := marshalBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}
	system := t.systemPrompt()

	var lastErr error
	for attempt := 1; attempt <= maxBatchAttempts; attempt++ {
		raw, err := t.completer.CompleteJSON(ctx, system, user)
		if err == nil {
			validated, vErr := tagschema.ValidateTaggedBatch(raw)
			if vErr == nil {
				return t.matchResponse(batch, validated), nil
			}
			err = fmt.Errorf("invalid classification response: %w", vErr)
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < maxBatchAttempts {
			t.logger.Warn().Err(err).Int("attempt", attempt).Msg("classification attempt failed, retrying")
			if sleepErr := t.completer.SleepBetweenAttempts(ctx, attempt, openai.IsRateLimited(err)); sleepErr != nil {
				return nil, sleepErr
			}
		}
	}

	return nil, lastErr
}

// matchResponse joins returned items back to the input batch by link.
// Articles the service left out were judged off-topic; items with links that
// were never sent are discarded. The service's cleaned title and summary
// replace the raw feed text; the candidate's own values survive only when the
// response omits the field.
func (t *Tagger) matchResponse(batch []feed.Candidate, validated *tagschema.TaggedBatch) []TaggedCandidate {
	byLink := make(map[string]feed.Candidate, len(batch))
	for _, c := range batch {
		byLink[c.Link] = c
	}

	tagged := make([]TaggedCandidate, 0, len(validated.Articles))
	seen := make(map[string]bool, len(validated.Articles))
	for _, item := range validated.Articles {
		candidate, ok := byLink[item.Link]
		if !ok {
			t.logger.Warn().Str("link", item.Link).Msg("classifier returned unknown link, discarding")
			continue
		}
		if seen[item.Link] {
			continue
		}
		seen[item.Link] = true

		if title := strings.TrimSpace(item.Title); title != "" {
			candidate.Title = title
		}
		if item.Summary != nil {
			candidate.Summary = strings.TrimSpace(*item.Summary)
		}

		tagged = append(tagged, TaggedCandidate{
			Candidate: candidate,
			Tags:      normalizeTags(item.Tags),
		})
	}
	return tagged
}

type promptArticle struct {
	Title     string  `json:"title"`
	Summary   string  `json:"summary"`
	Link      string  `json:"link"`
	Published *string `json:"published"`
	Updated   *string `json:"updated"`
	Source    string  `json:"source"`
}

func marshalBatch(batch []feed.Candidate) (string, error) {
	articles := make([]promptArticle, 0, len(batch))
	for _, c := range batch {
		articles = append(articles, promptArticle{
			Title:     c.Title,
			Summary:   c.Summary,
			Link:      c.Link,
			Published: formatTimePtr(c.Published),
			Updated:   formatTimePtr(c.Updated),
			Source:    c.Source,
		})
	}

	payload, err := json.Marshal(map[string]any{"articles": articles})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.UTC().Format(time.RFC3339)
	return &formatted
}

func (t *Tagger) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a news curation assistant. You receive a JSON object with an \"articles\" array. ")
	b.WriteString("For each article, assign a short list of topic tags. ")
	b.WriteString("Drop articles that are advertisements or not newsworthy; do not invent new articles. ")
	b.WriteString("Return a JSON object of the same shape: {\"articles\": [...]}, where each article keeps its ")
	b.WriteString("original title, summary, link, published, updated and source values and gains a \"tags\" array of strings. ")
	b.WriteString("The link field must be copied verbatim.")
	if len(t.labels) > 0 {
		b.WriteString(" Only use tags from this list: ")
		b.WriteString(strings.Join(t.labels, ", "))
		b.WriteString(".")
	}
	return b.String()
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}
