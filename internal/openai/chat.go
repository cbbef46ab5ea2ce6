package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const DefaultChatModel = "gpt-4o-2024-08-06"

// ChatCompleter issues single JSON-mode chat completions. Retry policy lives
// with the caller, which knows whether a failed batch may be abandoned.
type ChatCompleter struct {
	client *Client
	model  string
}

func NewChatCompleter(client *Client, model string) *ChatCompleter {
	if strings.TrimSpace(model) == "" {
		model = DefaultChatModel
	}
	return &ChatCompleter{
		client: client,
		model:  model,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// CompleteJSON sends a system+user prompt pair and returns the raw JSON
// content of the first choice.
func (c *ChatCompleter) CompleteJSON(ctx context.Context, system, user string) (json.RawMessage, error) {
	request := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	request.ResponseFormat.Type = "json_object"

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	body, err := c.client.postJSON(ctx, "/v1/chat/completions", payload)
	if err != nil {
		return nil, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &MalformedResponseError{Path: "/v1/chat/completions", Reason: "decode JSON: " + err.Error()}
	}
	if len(parsed.Choices) == 0 {
		return nil, &MalformedResponseError{Path: "/v1/chat/completions", Reason: "response has no choices"}
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return nil, &MalformedResponseError{Path: "/v1/chat/completions", Reason: "response content is empty"}
	}

	return json.RawMessage(content), nil
}

// SleepBetweenAttempts exposes the client's retry pacing to batch callers.
func (c *ChatCompleter) SleepBetweenAttempts(ctx context.Context, attempt int, rateLimited bool) error {
	return c.client.sleepBetweenAttempts(ctx, attempt, rateLimited)
}
