package registry

import (
	"fmt"
	"net/http"
	"time"

	"relaychat/internal/providers"
	"relaychat/internal/providers/anthropic"
	"relaychat/internal/providers/openai"
)

type BuildOptions struct {
	Provider    string
	APIKey      string
	Host        string
	Endpoint    string
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
}

// Build returns the client for opts.Provider. Names without dispatch logic,
// Custom included, fail with providers.ErrUnsupportedProvider.
func Build(opts BuildOptions) (providers.Provider, error) {
	switch opts.Provider {
	case providers.NameOpenAI:
		return openai.New(openai.Config{
			APIKey:      opts.APIKey,
			Host:        opts.Host,
			Endpoint:    opts.Endpoint,
			HTTPClient:  opts.HTTPClient,
			MaxRetries:  opts.MaxRetries,
			BackoffBase: opts.BackoffBase,
		}), nil

	case providers.NameClaude:
		return anthropic.New(anthropic.Config{
			APIKey:      opts.APIKey,
			Host:        opts.Host,
			Endpoint:    opts.Endpoint,
			HTTPClient:  opts.HTTPClient,
			MaxRetries:  opts.MaxRetries,
			BackoffBase: opts.BackoffBase,
		}), nil

	default:
		return nil, fmt.Errorf("%w: %q", providers.ErrUnsupportedProvider, opts.Provider)
	}
}

// DefaultModel is the model used when a config leaves model_name empty.
func DefaultModel(provider string) string {
	switch provider {
	case providers.NameOpenAI:
		return openai.DefaultModel
	case providers.NameClaude:
		return anthropic.DefaultModel
	default:
		return ""
	}
}
