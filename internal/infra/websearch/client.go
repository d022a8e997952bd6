// Package websearch calls the web-search-pro tool endpoint.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/domain"
	"github.com/DevRickLin/feishu-chatflow/internal/infra/retry"
)

const (
	DefaultURL     = "https://open.bigmodel.cn/api/paas/v4/tools"
	toolName       = "web-search-pro"
	defaultTimeout = 300 * time.Second
)

// StatusError is a non-200 reply from the search endpoint
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("web search: status %d: %s", e.StatusCode, e.Body)
}

// Config holds client settings
type Config struct {
	APIKey     string
	URL        string
	HTTPClient *http.Client
	Policy     *retry.Policy // nil uses retry.SearchPolicy(IsRetryable)
}

// Client is the web search client
type Client struct {
	apiKey string
	url    string
	http   *http.Client
	policy retry.Policy
	logger *zap.Logger
}

// NewClient creates a new web search client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	url := cfg.URL
	if url == "" {
		url = DefaultURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	policy := retry.SearchPolicy(IsRetryable)
	if cfg.Policy != nil {
		policy = *cfg.Policy
	}
	return &Client{
		apiKey: cfg.APIKey,
		url:    url,
		http:   httpClient,
		policy: policy,
		logger: logger.Named("websearch"),
	}
}

type toolRequest struct {
	RequestID string        `json:"request_id"`
	Tool      string        `json:"tool"`
	Stream    bool          `json:"stream"`
	Messages  []toolMessage `json:"messages"`
}

type toolMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type toolResponse struct {
	Choices []struct {
		Message struct {
			ToolCalls []toolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

type toolCall struct {
	Type         string `json:"type"`
	SearchIntent []struct {
		Category string `json:"category"`
		Intent   string `json:"intent"`
		Keywords string `json:"keywords"`
	} `json:"search_intent"`
	SearchResult []struct {
		Title   string `json:"title"`
		Content string `json:"content"`
		Link    string `json:"link"`
	} `json:"search_result"`
}

// Search asks the endpoint about question and returns the intent category,
// ranked contexts ("title: ...\ncontent: ...") and links ("title\nurl")
func (c *Client) Search(ctx context.Context, question string) (*domain.SearchResult, error) {
	attempt := 0
	resp, err := retry.Do(ctx, c.policy, func() (*toolResponse, error) {
		attempt++
		resp, err := c.post(ctx, question)
		if err != nil {
			c.logger.Warn("search request failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return parseResponse(resp)
}

func (c *Client) post(ctx context.Context, question string) (*toolResponse, error) {
	payload, err := json.Marshal(toolRequest{
		RequestID: uuid.NewString(),
		Tool:      toolName,
		Stream:    false,
		Messages:  []toolMessage{{Role: "user", Content: question}},
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out toolResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func parseResponse(resp *toolResponse) (*domain.SearchResult, error) {
	if len(resp.Choices) == 0 || len(resp.Choices[0].Message.ToolCalls) == 0 {
		return nil, fmt.Errorf("web search: empty tool calls")
	}
	calls := resp.Choices[0].Message.ToolCalls

	result := &domain.SearchResult{}
	if intents := calls[0].SearchIntent; len(intents) > 0 {
		result.Intent = intents[0].Category
	}
	for _, r := range calls[len(calls)-1].SearchResult {
		result.Contexts = append(result.Contexts, fmt.Sprintf("title: %s\ncontent: %s", r.Title, r.Content))
		result.Links = append(result.Links, fmt.Sprintf("%s\n%s", r.Title, r.Link))
	}
	return result, nil
}

// IsRetryable reports whether a search error is worth another attempt:
// any non-200 status, or a network timeout
func IsRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
