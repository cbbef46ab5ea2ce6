package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	DefaultEmbeddingModel      = "text-embedding-3-small"
	DefaultEmbeddingDimensions = 1536

	// Inputs are truncated to stay under the provider's token limit.
	maxEmbeddingInputChars = 8000

	embeddingBatchSize   = 100
	embeddingMaxAttempts = 3
)

// Embedder generates fixed-dimensionality embedding vectors.
type Embedder struct {
	client     *Client
	model      string
	dimensions int
}

func NewEmbedder(client *Client, model string, dimensions int) *Embedder {
	if strings.TrimSpace(model) == "" {
		model = DefaultEmbeddingModel
	}
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	return &Embedder{
		client:     client,
		model:      model,
		dimensions: dimensions,
	}
}

// Dimensions returns the configured vector length.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed generates one embedding with bounded retries. Rate limits back off
// proportionally to the attempt number; a dimension mismatch fails
// immediately because it can only mean misconfiguration.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embedOnce(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for many texts in provider-sized batches.
// A batch that exhausts its retries contributes nil vectors instead of
// failing the whole call; a dimension mismatch is always fatal.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += embeddingBatchSize {
		end := min(start+embeddingBatchSize, len(texts))
		batch := texts[start:end]

		batchVectors, err := e.embedOnce(ctx, batch)
		if err != nil {
			if isFatalEmbeddingError(err) {
				return nil, err
			}
			for range batch {
				vectors = append(vectors, nil)
			}
		} else {
			vectors = append(vectors, batchVectors...)
		}

		if end < len(texts) {
			if err := e.client.sleepBetweenAttempts(ctx, 1, false); err != nil {
				return nil, err
			}
		}
	}

	return vectors, nil
}

func (e *Embedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	inputs := make([]string, len(texts))
	for i, text := range texts {
		inputs[i] = truncateInput(text)
	}

	payload, err := json.Marshal(embeddingRequest{
		Input: inputs,
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= embeddingMaxAttempts; attempt++ {
		body, err := e.client.postJSON(ctx, "/v1/embeddings", payload)
		if err != nil {
			lastErr = err
			if attempt < embeddingMaxAttempts {
				if sleepErr := e.client.sleepBetweenAttempts(ctx, attempt, IsRateLimited(err)); sleepErr != nil {
					return nil, sleepErr
				}
				continue
			}
			return nil, lastErr
		}

		vectors, err := e.parseEmbeddings(body, len(texts))
		if err != nil {
			return nil, err
		}
		return vectors, nil
	}

	return nil, lastErr
}

func (e *Embedder) parseEmbeddings(body []byte, want int) ([][]float32, error) {
	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &MalformedResponseError{Path: "/v1/embeddings", Reason: "decode JSON: " + err.Error()}
	}
	if len(parsed.Data) != want {
		return nil, &MalformedResponseError{
			Path:   "/v1/embeddings",
			Reason: fmt.Sprintf("vector count mismatch: requested=%d returned=%d", want, len(parsed.Data)),
		}
	}

	sort.Slice(parsed.Data, func(i, j int) bool {
		return parsed.Data[i].Index < parsed.Data[j].Index
	})

	vectors := make([][]float32, 0, want)
	for _, row := range parsed.Data {
		if len(row.Embedding) != e.dimensions {
			return nil, fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(row.Embedding), e.dimensions)
		}
		vectors = append(vectors, row.Embedding)
	}
	return vectors, nil
}

// truncateInput caps the input at maxEmbeddingInputChars code points. Rune
// slicing keeps the cut off a multi-byte boundary, so the payload stays valid
// UTF-8.
func truncateInput(text string) string {
	if len(text) <= maxEmbeddingInputChars {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxEmbeddingInputChars {
		return text
	}
	return string(runes[:maxEmbeddingInputChars])
}

func isFatalEmbeddingError(err error) bool {
	if err == nil {
		return false
	}
	if IsMalformedResponse(err) || IsRateLimited(err) {
		return false
	}
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return false
	}
	// Dimension mismatch, context cancellation, marshalling.
	return true
}
