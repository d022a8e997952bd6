package repo

import (
	"context"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/domain"
)

// ModelRepo is the chat model interface.
// Implementations retry transient failures (rate limit, 5xx, timeout) with bounded backoff.
type ModelRepo interface {
	Complete(ctx context.Context, messages []domain.ChatMessage, opts domain.ModelOptions) (*domain.ModelResult, error)
}

// SearchRepo is the web search interface, same retry contract as ModelRepo
type SearchRepo interface {
	Search(ctx context.Context, question string) (*domain.SearchResult, error)
}
