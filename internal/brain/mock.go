package brain

import (
	"context"
	"fmt"
	"strings"

	"github.com/parlo-voice/parlo/internal/memory"
)

// MockEngine provides deterministic local replies when no model backend is
// configured. Relevance is approximated by word overlap so buffered-response
// arbitration remains exercisable offline.
type MockEngine struct{}

func NewMockEngine() *MockEngine { return &MockEngine{} }

func (e *MockEngine) Generate(ctx context.Context, userText string, history []memory.TurnRecord, _ string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	base := strings.TrimSpace(userText)
	if base == "" {
		return "I'm listening whenever you're ready.", nil
	}
	if len(history) == 0 {
		return fmt.Sprintf("Good question. Let's think about %q together.", base), nil
	}
	return fmt.Sprintf("Building on what we covered: let's look at %q next.", base), nil
}

func (e *MockEngine) ClassifyRelevance(ctx context.Context, bufferedText, newUserText string) (float64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}
	return wordOverlap(bufferedText, newUserText), nil
}

func (e *MockEngine) MergeResponses(ctx context.Context, bufferedText, newUserText string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	buffered := strings.TrimSpace(bufferedText)
	addition := strings.TrimSpace(newUserText)
	if addition == "" {
		return buffered, nil
	}
	return fmt.Sprintf("%s And on your follow-up about %q: let's work through that too.", buffered, addition), nil
}

// wordOverlap scores two texts by Jaccard similarity over lowercased words.
func wordOverlap(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	shared := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			shared++
		}
	}
	union := len(setA) + len(setB) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

func wordSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:'\"")
		if w != "" {
			out[w] = struct{}{}
		}
	}
	return out
}
