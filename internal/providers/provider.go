package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Provider names as stored in api_configs.api_provider.
const (
	NameOpenAI = "OpenAI"
	NameClaude = "Claude"
	NameCustom = "Custom"
)

var ErrUnsupportedProvider = errors.New("unsupported provider")

type ChatRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
}

type ChatResponse struct {
	Text       string
	TokensUsed int
}

type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// UpstreamError is returned when a provider answers with a non-2xx status.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s API error: %d %s", e.Provider, e.StatusCode, e.Body)
}

func (e *UpstreamError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// KnownName reports whether name is one of the accepted provider names.
func KnownName(name string) bool {
	switch name {
	case NameOpenAI, NameClaude, NameCustom:
		return true
	default:
		return false
	}
}
