package anthropic

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
	DefaultEndpoint = "https://api.anthropic.com/v1/messages"
	DefaultModel    = "claude-3-sonnet-20240229"
	APIVersion      = "2023-06-01"
)

type Config struct {
	APIKey      string
	Host        string
	Endpoint    string
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
}

// Client speaks the Messages API. The system prompt travels as a top-level
// field, not as a message.
type Client struct {
	cfg       Config
	transport providers.Transport
}

func New(cfg Config) *Client {
	return &Client{
		cfg:       cfg,
		transport: providers.NewTransport(providers.NameClaude, cfg.HTTPClient, cfg.MaxRetries, cfg.BackoffBase),
	}
}

var _ providers.Provider = (*Client)(nil)

func (c *Client) Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	body, endpointURL, err := c.buildPayload(req)
	if err != nil {
		return providers.ChatResponse{}, err
	}
	headers := map[string]string{
		"x-api-key":         c.cfg.APIKey,
		"anthropic-version": APIVersion,
	}
	respBody, err := c.transport.PostJSON(ctx, endpointURL, headers, body)
	if err != nil {
		return providers.ChatResponse{}, err
	}
	return parseMessages(respBody)
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
	payload := map[string]any{
		"model":       model,
		"system":      req.SystemPrompt,
		"messages":    []map[string]string{{"role": "user", "content": req.UserPrompt}},
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("marshal messages payload: %w", err)
	}
	return b, endpointURL, nil
}

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
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v1/messages"
	return u.String(), nil
}

func parseMessages(body []byte) (providers.ChatResponse, error) {
	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			TotalTokens  int `json:"total_tokens"`
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return providers.ChatResponse{}, fmt.Errorf("decode messages response: %w", err)
	}
	if len(resp.Content) == 0 {
		return providers.ChatResponse{}, fmt.Errorf("empty content in messages response")
	}
	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = resp.Usage.InputTokens + resp.Usage.OutputTokens
	}
	return providers.ChatResponse{Text: resp.Content[0].Text, TokensUsed: tokens}, nil
}
