package repo

import (
	"context"
	"time"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/domain"
)

// MessageRepo is the message store interface
type MessageRepo interface {
	// Save stores a new message (and its extra payload, if any).
	// An empty ID is filled in by the store.
	Save(ctx context.Context, msg *domain.Message) error

	// Get returns a single message with its extra payload
	Get(ctx context.Context, id string) (*domain.Message, error)

	// ListByIDs returns the messages with the given ids in the order of ids
	ListByIDs(ctx context.Context, ids []string) ([]*domain.Message, error)

	// ListRecent returns the session's messages created at or after since
	// whose clear marker is set, ordered by creation time
	ListRecent(ctx context.Context, sessionKey string, since time.Time) ([]*domain.Message, error)

	// MarkCleared sets the clear marker on every message of the session
	MarkCleared(ctx context.Context, sessionKey string) error
}

// CompletionRepo is the completion record store interface
type CompletionRepo interface {
	// Save stores a completion record; the store assigns its ID
	Save(ctx context.Context, c *domain.Completion) error

	// ListByRequester returns the most recent completions created by requester
	ListByRequester(ctx context.Context, requester string, limit int) ([]*domain.Completion, error)
}
