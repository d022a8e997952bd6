// Package llm is the OpenAI-compatible chat model client.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/domain"
	"github.com/DevRickLin/feishu-chatflow/internal/infra/retry"
)

const defaultModel = "gpt-4o"

// Config holds client settings
type Config struct {
	APIKey  string
	BaseURL string        // empty uses the OpenAI endpoint
	Timeout time.Duration // per attempt; 0 means no extra deadline
	Policy  *retry.Policy // nil uses retry.ModelPolicy(IsRetryable)
}

// Client calls chat completions with retry on transient failures
type Client struct {
	client  *openai.Client
	timeout time.Duration
	policy  retry.Policy
	logger  *zap.Logger
}

// NewClient creates a new model client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	policy := retry.ModelPolicy(IsRetryable)
	if cfg.Policy != nil {
		policy = *cfg.Policy
	}

	return &Client{
		client:  openai.NewClientWithConfig(config),
		timeout: cfg.Timeout,
		policy:  policy,
		logger:  logger.Named("llm"),
	}
}

// Complete sends the messages and returns the first choice
func (c *Client) Complete(ctx context.Context, messages []domain.ChatMessage, opts domain.ModelOptions) (*domain.ModelResult, error) {
	model := opts.Model
	if model == "" {
		model = defaultModel
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(messages),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}

	attempt := 0
	resp, err := retry.Do(ctx, c.policy, func() (openai.ChatCompletionResponse, error) {
		attempt++
		resp, err := c.create(ctx, req)
		if err != nil {
			c.logger.Warn("chat completion failed",
				zap.String("model", model),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response choices")
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}

	return &domain.ModelResult{
		Text: resp.Choices[0].Message.Content,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
		Raw: raw,
	}, nil
}

func (c *Client) create(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.client.CreateChatCompletion(ctx, req)
}

func toOpenAIMessages(messages []domain.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{Role: string(m.Role)}
		if !m.IsMultiPart() {
			msg.Content = m.Content
			out = append(out, msg)
			continue
		}
		for _, p := range m.Parts {
			switch p.Type {
			case domain.PartTypeImageURL:
				msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: p.ImageURL, Detail: openai.ImageURLDetailAuto},
				})
			default:
				msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: p.Text,
				})
			}
		}
		out = append(out, msg)
	}
	return out
}

// IsRetryable reports whether a model call error is transient:
// rate limiting, provider-side failures and timeouts
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= http.StatusInternalServerError
}
