// Package llm adapts hosted chat completion APIs to a single call shape.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v3"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

var ErrEmptyCompletion = errors.New("completion returned no text")

type Request struct {
	Prompt      string
	Temperature float64
	MaxTokens   int64
}

// Completer sends one prompt and returns the assistant text. Implementations
// never retry.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

func New(provider string, cfg Config) (Completer, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case ProviderOpenAI:
		return NewOpenAI(cfg), nil
	case ProviderAnthropic:
		return NewAnthropic(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}

// StatusCode extracts the HTTP status of a provider API error, or 0.
func StatusCode(err error) int {
	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return oaErr.StatusCode
	}
	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return anErr.StatusCode
	}
	return 0
}
