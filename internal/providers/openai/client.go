package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"relaychat/internal/providers"
)

const (
	DefaultEndpoint = "https://api.openai.com/v1/chat/completions"
	DefaultModel    = "gpt-3.5-turbo"
)

type Config struct {
	APIKey      string
	Host        string
	Endpoint    string
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
}

type Client struct {
	cfg       Config
	transport providers.Transport
}

func New(cfg Config) *Client {
	return &Client{
		cfg:       cfg,
		transport: providers.NewTransport(providers.NameOpenAI, cfg.HTTPClient, cfg.MaxRetries, cfg.BackoffBase),
	}
}

var _ providers.Provider = (*Client)(nil)

func (c *Client) Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	body, endpointURL, err := c.buildPayload(req)
	if err != nil {
		return providers.ChatResponse{}, err
	}

	headers := map[string]string{}
	if strings.TrimSpace(c.cfg.APIKey) != "" {
		headers["Authorization"] = "Bearer " + c.cfg.APIKey
	}

	respBody, err := c.transport.PostJSON(ctx, endpointURL, headers, body)
	if err != nil {
		return providers.ChatResponse{}, err
	}
	return parseChatCompletions(respBody)
}

func (c *Client) buildPayload(req providers.ChatRequest) ([]byte, string, error) {
	endpointURL, err := c.EndpointURL()
	if err != nil {
		return nil, "", err
	}

	model := req.Model
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}

	messages := []map[string]string{}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.SystemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.UserPrompt})

	payload := map[string]any{
		"model":       model,
		"messages":    messages,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("marshal chat completion payload: %w", err)
	}
	return b, endpointURL, nil
}

// EndpointURL resolves the target: explicit endpoint, then {host}/v1/chat/completions,
// then the public OpenAI endpoint.
func (c *Client) EndpointURL() (string, error) {
	if ep := strings.TrimSpace(c.cfg.Endpoint); ep != "" {
		if _, err := url.ParseRequestURI(ep); err != nil {
			return "", fmt.Errorf("parse endpoint: %w", err)
		}
		return ep, nil
	}
	host := strings.TrimSpace(c.cfg.Host)
	if host == "" {
		return DefaultEndpoint, nil
	}
	u, err := url.Parse(strings.TrimSuffix(host, "/"))
	if err != nil {
		return "", fmt.Errorf("parse host: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v1/chat/completions"
	return u.String(), nil
}

func parseChatCompletions(body []byte) (providers.ChatResponse, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content any `json:"content"`
			} `json:"message"`
			Text string `json:"text"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return providers.ChatResponse{}, fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return providers.ChatResponse{}, fmt.Errorf("empty choices in chat completion response")
	}
	text := resp.Choices[0].Text
	if text == "" {
		text = anyToText(resp.Choices[0].Message.Content)
	}
	return providers.ChatResponse{Text: text, TokensUsed: resp.Usage.TotalTokens}, nil
}

func anyToText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				if txt, ok := m["text"].(string); ok {
					parts = append(parts, txt)
				}
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}
