package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/parlo-voice/parlo/internal/memory"
)

// Engine produces tutor replies and the auxiliary judgments the turn
// pipeline needs: relevance of a stale buffered reply against fresh input,
// and merging a buffered reply with new context.
type Engine interface {
	Generate(ctx context.Context, userText string, history []memory.TurnRecord, systemPrompt string) (string, error)
	ClassifyRelevance(ctx context.Context, bufferedText, newUserText string) (float64, error)
	MergeResponses(ctx context.Context, bufferedText, newUserText string) (string, error)
}

// Config controls engine construction.
type Config struct {
	Mode    string
	HTTPURL string
	APIKey  string
	Model   string
}

func NewEngine(cfg Config) (Engine, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPEngine(cfg.HTTPURL, cfg.APIKey, cfg.Model), nil
		}
		return NewMockEngine(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("brain HTTP url is required for http mode")
		}
		return NewHTTPEngine(cfg.HTTPURL, cfg.APIKey, cfg.Model), nil
	case "mock":
		return NewMockEngine(), nil
	default:
		return nil, fmt.Errorf("unsupported brain mode %q", cfg.Mode)
	}
}
