package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxResponseBody = 4 << 20

// Transport posts JSON to an upstream and retries temporary failures with
// exponential backoff. MaxRetries of zero means a single attempt.
type Transport struct {
	Provider    string
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
}

func NewTransport(provider string, httpClient *http.Client, maxRetries int, backoffBase time.Duration) Transport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if backoffBase <= 0 {
		backoffBase = 400 * time.Millisecond
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return Transport{Provider: provider, HTTPClient: httpClient, MaxRetries: maxRetries, BackoffBase: backoffBase}
}

func (t Transport) PostJSON(ctx context.Context, endpointURL string, headers map[string]string, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= t.MaxRetries; attempt++ {
		respBody, retry, err := t.callOnce(ctx, endpointURL, headers, body)
		if err == nil {
			return respBody, nil
		}
		lastErr = err
		if !retry || attempt == t.MaxRetries {
			break
		}
		backoff := t.BackoffBase * (1 << attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, lastErr
}

func (t Transport) callOnce(ctx context.Context, endpointURL string, headers map[string]string, body []byte) (respBody []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("%s request failed: %w", t.Provider, err)
	}
	defer resp.Body.Close()

	respBody, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, false, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		upErr := &UpstreamError{Provider: t.Provider, StatusCode: resp.StatusCode, Body: string(respBody)}
		return nil, upErr.Temporary(), upErr
	}
	return respBody, false, nil
}
