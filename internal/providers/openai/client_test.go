package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"relaychat/internal/providers"
)

func TestEndpointURLResolution(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "default", cfg: Config{}, want: DefaultEndpoint},
		{name: "host", cfg: Config{Host: "https://llm.internal"}, want: "https://llm.internal/v1/chat/completions"},
		{name: "host trailing slash", cfg: Config{Host: "https://llm.internal/"}, want: "https://llm.internal/v1/chat/completions"},
		{name: "override wins", cfg: Config{Host: "https://ignored", Endpoint: "https://proxy.local/chat"}, want: "https://proxy.local/chat"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := New(tc.cfg).EndpointURL()
			if err != nil {
				t.Fatalf("endpoint url: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestBuildPayloadChatCompletions(t *testing.T) {
	c := New(Config{Host: "https://api.x.ai"})

	body, endpoint, err := c.buildPayload(providers.ChatRequest{
		SystemPrompt: "You are concise",
		UserPrompt:   "hello",
		MaxTokens:    123,
		Temperature:  0,
	})
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	if endpoint != "https://api.x.ai/v1/chat/completions" {
		t.Fatalf("unexpected endpoint %q", endpoint)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload["model"] != DefaultModel {
		t.Fatalf("expected default model, got %#v", payload["model"])
	}
	if payload["max_tokens"] != float64(123) {
		t.Fatalf("unexpected max_tokens %#v", payload["max_tokens"])
	}
	if temp, ok := payload["temperature"]; !ok || temp != float64(0) {
		t.Fatalf("explicit zero temperature must be sent, got %#v", payload["temperature"])
	}
	msgs, _ := payload["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system and user messages, got %#v", payload["messages"])
	}
}

func TestChatParsesReplyAndUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected authorization %q", got)
		}
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi there"}}],"usage":{"total_tokens":17}}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "sk-test", Host: srv.URL})
	resp, err := c.Chat(context.Background(), providers.ChatRequest{Model: "gpt-4o", UserPrompt: "hello"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Text != "hi there" || resp.TokensUsed != 17 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestChatMissingUsageDefaultsToZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	resp, err := New(Config{Endpoint: srv.URL}).Chat(context.Background(), providers.ChatRequest{UserPrompt: "x"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.TokensUsed != 0 {
		t.Fatalf("expected zero tokens, got %d", resp.TokensUsed)
	}
}

func TestChatUpstreamError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	_, err := New(Config{Endpoint: srv.URL, MaxRetries: 3}).Chat(context.Background(), providers.ChatRequest{UserPrompt: "x"})
	var upErr *providers.UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upErr.StatusCode != http.StatusUnauthorized || upErr.Body != `{"error":"bad key"}` || upErr.Provider != providers.NameOpenAI {
		t.Fatalf("unexpected upstream error %+v", upErr)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("4xx must not be retried, got %d calls", n)
	}
}

func TestChatRetriesTemporaryStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"second"}}]}`))
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, MaxRetries: 1, BackoffBase: time.Millisecond})
	resp, err := c.Chat(context.Background(), providers.ChatRequest{UserPrompt: "x"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Text != "second" || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected retry to succeed, got %+v after %d calls", resp, calls)
	}
}
