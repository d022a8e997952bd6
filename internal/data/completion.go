package data

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/domain"
	"github.com/DevRickLin/feishu-chatflow/internal/biz/repo"
)

// completionRepo implements the Completion repository
type completionRepo struct {
	db *DB
}

// NewCompletionRepo creates a new Completion repository
func NewCompletionRepo(db *DB) repo.CompletionRepo {
	return &completionRepo{db: db}
}

// Save stores a completion record
func (r *completionRepo) Save(ctx context.Context, c *domain.Completion) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	request, err := json.Marshal(c.Request)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	response := c.Response
	if len(response) == 0 {
		response = json.RawMessage("{}")
	}

	_, err = r.db.ExecContext(ctx, r.db.rebind(`
		INSERT INTO completions (id, request, result, response, prompt_tokens, completion_tokens, begin_at, end_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		c.ID,
		string(request),
		c.Result,
		string(response),
		c.PromptTokens,
		c.CompletionTokens,
		toMillis(c.BeginAt),
		toMillis(c.EndAt),
		c.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to save completion: %w", err)
	}
	return nil
}

// ListByRequester returns the latest completions created by requester, newest first
func (r *completionRepo) ListByRequester(ctx context.Context, requester string, limit int) ([]*domain.Completion, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx, r.db.rebind(`
		SELECT id, request, result, response, prompt_tokens, completion_tokens, begin_at, end_at, created_by
		FROM completions
		WHERE created_by = ?
		ORDER BY begin_at DESC
		LIMIT ?
	`), requester, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query completions: %w", err)
	}
	defer rows.Close()

	var result []*domain.Completion
	for rows.Next() {
		var c domain.Completion
		var request, response string
		var beginAt, endAt int64
		err := rows.Scan(&c.ID, &request, &c.Result, &response, &c.PromptTokens, &c.CompletionTokens, &beginAt, &endAt, &c.CreatedBy)
		if err != nil {
			return nil, fmt.Errorf("failed to scan completion: %w", err)
		}
		if err := json.Unmarshal([]byte(request), &c.Request); err != nil {
			return nil, fmt.Errorf("failed to decode request: %w", err)
		}
		c.Response = json.RawMessage(response)
		c.BeginAt = fromMillis(beginAt)
		c.EndAt = fromMillis(endAt)
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate completions: %w", err)
	}
	return result, nil
}
