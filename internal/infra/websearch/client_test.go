package websearch

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

	"go.uber.org/zap"

	"github.com/DevRickLin/feishu-chatflow/internal/infra/retry"
)

const searchBody = `{
  "choices": [{
    "message": {
      "tool_calls": [
        {"type": "search_intent", "search_intent": [{"category": "weather", "intent": "SEARCH_TOOL", "keywords": "weather today"}]},
        {"type": "search_result", "search_result": [
          {"title": "Forecast", "content": "Sunny, 25C", "link": "https://example.com/forecast"},
          {"title": "Radar", "content": "No rain", "link": "https://example.com/radar"}
        ]}
      ]
    }
  }]
}`

func testPolicy(attempts int) *retry.Policy {
	return &retry.Policy{
		Attempts:  attempts,
		Retryable: IsRetryable,
		Sleep:     func(ctx context.Context, d time.Duration) error { return nil },
	}
}

func TestClient_Search(t *testing.T) {
	var got toolRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "search-key" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = io.WriteString(w, searchBody)
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "search-key", URL: srv.URL, Policy: testPolicy(1)}, zap.NewNop())
	result, err := c.Search(context.Background(), "weather today?")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if got.Tool != "web-search-pro" || got.Stream || got.RequestID == "" {
		t.Errorf("unexpected request %+v", got)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "weather today?" {
		t.Errorf("unexpected messages %+v", got.Messages)
	}

	if result.Intent != "weather" {
		t.Errorf("Expected intent weather, got %q", result.Intent)
	}
	if len(result.Contexts) != 2 || result.Contexts[0] != "title: Forecast\ncontent: Sunny, 25C" {
		t.Errorf("unexpected contexts %q", result.Contexts)
	}
	if len(result.Links) != 2 || result.Links[1] != "Radar\nhttps://example.com/radar" {
		t.Errorf("unexpected links %q", result.Links)
	}
}

func TestClient_Search_RetriesStatusErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, Policy: testPolicy(3)}, zap.NewNop())
	_, err := c.Search(context.Background(), "q")

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusBadGateway {
		t.Errorf("unexpected status %d", statusErr.StatusCode)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
}

func TestClient_Search_EmptyToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[{"message":{"tool_calls":[]}}]}`)
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, Policy: testPolicy(1)}, zap.NewNop())
	if _, err := c.Search(context.Background(), "q"); err == nil {
		t.Error("Expected error for empty tool calls")
	}
}
