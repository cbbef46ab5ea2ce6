package dedup

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"newsclip/internal/db"
	"newsclip/internal/openai"
)

type stubEmbedder struct {
	vector []float32
	err    error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.vector, s.err
}

type stubIndex struct {
	neighbors []db.Neighbor
	err       error
	gotLimit  int
}

func (s *stubIndex) NearestEmbeddings(ctx context.Context, vector []float32, limit int) ([]db.Neighbor, error) {
	s.gotLimit = limit
	return s.neighbors, s.err
}

func TestSimilarityFromDistance(t *testing.T) {
	t.Parallel()

	cases := []struct {
		distance float64
		want     float64
	}{
		{0, 1},
		{math.Sqrt2, 0},
		{2, 0},   // clamped, 1 - 4/2 = -1
		{2.5, 0}, // clamped
		{0.7745966692, 0.7},
	}

	for _, tc := range cases {
		got := similarityFromDistance(tc.distance)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("similarityFromDistance(%v) = %v, want %v", tc.distance, got, tc.want)
		}
	}
}

func TestFindDuplicateInclusiveThreshold(t *testing.T) {
	t.Parallel()

	// distance chosen so similarity is exactly 0.70
	distance := math.Sqrt(2 * (1 - 0.70))
	index := &stubIndex{neighbors: []db.Neighbor{{ArticleID: 42, Distance: distance}}}
	det := NewDetector(&stubEmbedder{vector: []float32{1}}, index, 0.70, zerolog.Nop())

	match, err := det.FindDuplicate(context.Background(), "title", "summary")
	if err != nil {
		t.Fatalf("FindDuplicate: %v", err)
	}
	if match == nil {
		t.Fatal("expected a match at exactly the threshold")
	}
	if match.ArticleID != 42 {
		t.Errorf("ArticleID = %d, want 42", match.ArticleID)
	}
	if math.Abs(match.Similarity-0.70) > 1e-9 {
		t.Errorf("Similarity = %v, want 0.70", match.Similarity)
	}
}

func TestFindDuplicateBelowThreshold(t *testing.T) {
	t.Parallel()

	index := &stubIndex{neighbors: []db.Neighbor{{ArticleID: 7, Distance: 1.2}}}
	det := NewDetector(&stubEmbedder{vector: []float32{1}}, index, 0.70, zerolog.Nop())

	match, err := det.FindDuplicate(context.Background(), "title", "")
	if err != nil {
		t.Fatalf("FindDuplicate: %v", err)
	}
	if match != nil {
		t.Fatalf("expected no match, got article %d", match.ArticleID)
	}
}

func TestFindDuplicatePicksNearestAboveThreshold(t *testing.T) {
	t.Parallel()

	index := &stubIndex{neighbors: []db.Neighbor{
		{ArticleID: 1, Distance: 0.1},
		{ArticleID: 2, Distance: 0.2},
	}}
	det := NewDetector(&stubEmbedder{vector: []float32{1}}, index, 0.70, zerolog.Nop())

	match, err := det.FindDuplicate(context.Background(), "title", "summary")
	if err != nil {
		t.Fatalf("FindDuplicate: %v", err)
	}
	if match == nil || match.ArticleID != 1 {
		t.Fatalf("expected nearest neighbor (article 1), got %+v", match)
	}
}

func TestFindDuplicateDegradesOnEmbeddingFailure(t *testing.T) {
	t.Parallel()

	det := NewDetector(&stubEmbedder{err: errors.New("rate limited")}, &stubIndex{}, 0.70, zerolog.Nop())

	match, err := det.FindDuplicate(context.Background(), "title", "summary")
	if err != nil {
		t.Fatalf("expected degraded no-duplicate result, got error: %v", err)
	}
	if match != nil {
		t.Fatalf("expected no match on embedding failure, got %+v", match)
	}
}

func TestFindDuplicateDimensionMismatchIsFatal(t *testing.T) {
	t.Parallel()

	det := NewDetector(&stubEmbedder{err: openai.ErrDimensionMismatch}, &stubIndex{}, 0.70, zerolog.Nop())

	_, err := det.FindDuplicate(context.Background(), "title", "summary")
	if !errors.Is(err, openai.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestFindDuplicatePropagatesIndexError(t *testing.T) {
	t.Parallel()

	index := &stubIndex{err: errors.New("connection refused")}
	det := NewDetector(&stubEmbedder{vector: []float32{1}}, index, 0.70, zerolog.Nop())

	_, err := det.FindDuplicate(context.Background(), "title", "summary")
	if err == nil {
		t.Fatal("expected index error to propagate")
	}
}

func TestEmbeddingText(t *testing.T) {
	t.Parallel()

	if got := embeddingText("a title", "a summary"); got != "a title a summary" {
		t.Errorf("embeddingText = %q", got)
	}
	if got := embeddingText("a title", ""); got != "a title" {
		t.Errorf("embeddingText without summary = %q", got)
	}
}
