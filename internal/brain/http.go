package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/parlo-voice/parlo/internal/memory"
	"github.com/parlo-voice/parlo/internal/reliability"
)

const (
	httpMaxAttempts  = 3
	httpRetryBase    = 250 * time.Millisecond
	httpRetryCap     = 2 * time.Second
	defaultChatModel = "gpt-4o-mini"
)

// HTTPEngine talks to an OpenAI-compatible chat completions endpoint.
type HTTPEngine struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

func NewHTTPEngine(url, apiKey, model string) *HTTPEngine {
	if strings.TrimSpace(model) == "" {
		model = defaultChatModel
	}
	return &HTTPEngine{
		url:    strings.TrimSpace(url),
		apiKey: strings.TrimSpace(apiKey),
		model:  model,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (e *HTTPEngine) Generate(ctx context.Context, userText string, history []memory.TurnRecord, systemPrompt string) (string, error) {
	msgs := make([]chatMessage, 0, len(history)+2)
	if strings.TrimSpace(systemPrompt) != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: systemPrompt})
	}
	for _, turn := range history {
		role := turn.Role
		if role != "user" && role != "assistant" {
			role = "user"
		}
		msgs = append(msgs, chatMessage{Role: role, Content: turn.Content})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: userText})

	return e.complete(ctx, chatRequest{Model: e.model, Messages: msgs, Temperature: 0.7})
}

func (e *HTTPEngine) ClassifyRelevance(ctx context.Context, bufferedText, newUserText string) (float64, error) {
	prompt := fmt.Sprintf(
		"You prepared this reply for a learner:\n%q\n\nThey then said:\n%q\n\nOn a scale from 0.0 to 1.0, how relevant is the prepared reply to what they just said? Answer with only the number.",
		bufferedText, newUserText,
	)
	out, err := e.complete(ctx, chatRequest{
		Model:       e.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0,
	})
	if err != nil {
		return 0, err
	}

	score, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("parse relevance score %q: %w", out, err)
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

func (e *HTTPEngine) MergeResponses(ctx context.Context, bufferedText, newUserText string) (string, error) {
	prompt := fmt.Sprintf(
		"You prepared this reply for a learner:\n%q\n\nBefore you could deliver it, they added:\n%q\n\nRewrite the reply so it naturally addresses both. Keep the spoken, tutoring tone and stay concise.",
		bufferedText, newUserText,
	)
	return e.complete(ctx, chatRequest{
		Model:       e.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.4,
	})
}

func (e *HTTPEngine) complete(ctx context.Context, req chatRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < httpMaxAttempts; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, httpRetryBase, httpRetryCap)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}

		text, retryable, err := e.attempt(ctx, payload)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable {
			return "", err
		}
	}
	return "", fmt.Errorf("brain request failed after %d attempts: %w", httpMaxAttempts, lastErr)
}

func (e *HTTPEngine) attempt(ctx context.Context, payload []byte) (string, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	res, err := e.client.Do(httpReq)
	if err != nil {
		return "", true, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", reliability.IsRetryableHTTPStatus(res.StatusCode),
			fmt.Errorf("brain http status %d: %s", res.StatusCode, string(body))
	}

	var decoded chatResponse
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return "", false, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", false, fmt.Errorf("brain returned no choices")
	}
	return strings.TrimSpace(decoded.Choices[0].Message.Content), false, nil
}
