package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/domain"
	"github.com/DevRickLin/feishu-chatflow/internal/biz/repo"
)

// messageRepo implements the Message repository
type messageRepo struct {
	db *DB
}

// NewMessageRepo creates a new Message repository
func NewMessageRepo(db *DB) repo.MessageRepo {
	return &messageRepo{db: db}
}

const messageColumns = `m.id, m.type, m.content, m.from_user, m.to_user, m.session_key, m.is_group, m.is_clear, m.created_at, e.meta, e.content_bytes`

const messageFrom = `FROM messages m LEFT JOIN message_extra e ON e.message_id = m.id`

// Save saves a message and its extra payload in one transaction
func (r *messageRepo) Save(ctx context.Context, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, r.db.rebind(`
		INSERT INTO messages (id, type, content, from_user, to_user, session_key, is_group, is_clear, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		msg.ID,
		string(msg.Type),
		msg.Content,
		msg.From,
		msg.To,
		msg.SessionKey,
		boolInt(msg.IsGroup),
		boolInt(msg.IsClear),
		toMillis(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	if msg.Extra != nil {
		meta, err := json.Marshal(msg.Extra.Meta)
		if err != nil {
			return fmt.Errorf("failed to encode extra meta: %w", err)
		}
		_, err = tx.ExecContext(ctx, r.db.rebind(`
			INSERT INTO message_extra (message_id, meta, content_bytes) VALUES (?, ?, ?)
		`), msg.ID, string(meta), msg.Extra.Bytes)
		if err != nil {
			return fmt.Errorf("failed to save message extra: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}
	return nil
}

// Get returns a message by id, or nil if it does not exist
func (r *messageRepo) Get(ctx context.Context, id string) (*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, r.db.rebind(`SELECT `+messageColumns+` `+messageFrom+` WHERE m.id = ?`), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs[0], nil
}

// ListByIDs returns the messages with the given ids in the order of ids.
// Unknown ids are skipped.
func (r *messageRepo) ListByIDs(ctx context.Context, ids []string) ([]*domain.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := `SELECT ` + messageColumns + ` ` + messageFrom +
		` WHERE m.id IN (` + placeholders(len(ids)) + `)`
	rows, err := r.db.QueryContext(ctx, r.db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	found, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// created_at has millisecond precision, so only ids carry the batch order
	byID := make(map[string]*domain.Message, len(found))
	for _, msg := range found {
		byID[msg.ID] = msg
	}
	msgs := make([]*domain.Message, 0, len(found))
	for _, id := range ids {
		if msg, ok := byID[id]; ok {
			msgs = append(msgs, msg)
			delete(byID, id)
		}
	}
	return msgs, nil
}

// ListRecent returns history-eligible messages of the session since the given time
func (r *messageRepo) ListRecent(ctx context.Context, sessionKey string, since time.Time) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, r.db.rebind(`SELECT `+messageColumns+` `+messageFrom+`
		WHERE m.session_key = ? AND m.is_clear = 1 AND m.created_at >= ?
		ORDER BY m.created_at, m.id
	`), sessionKey, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	return scanMessages(rows)
}

// MarkCleared sets the clear marker on every message of the session
func (r *messageRepo) MarkCleared(ctx context.Context, sessionKey string) error {
	_, err := r.db.ExecContext(ctx, r.db.rebind(`UPDATE messages SET is_clear = 1 WHERE session_key = ?`), sessionKey)
	if err != nil {
		return fmt.Errorf("failed to mark session cleared: %w", err)
	}
	return nil
}

func scanMessages(rows *sql.Rows) ([]*domain.Message, error) {
	defer rows.Close()

	var result []*domain.Message
	for rows.Next() {
		var (
			m                domain.Message
			msgType          string
			isGroup, isClear int64
			createdAt        int64
			meta             sql.NullString
			contentBytes     []byte
		)
		err := rows.Scan(&m.ID, &msgType, &m.Content, &m.From, &m.To, &m.SessionKey,
			&isGroup, &isClear, &createdAt, &meta, &contentBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		m.Type = domain.MessageType(msgType)
		m.IsGroup = isGroup != 0
		m.IsClear = isClear != 0
		m.CreatedAt = fromMillis(createdAt)

		if meta.Valid {
			extra := &domain.MessageExtra{Bytes: contentBytes}
			if err := json.Unmarshal([]byte(meta.String), &extra.Meta); err != nil {
				return nil, fmt.Errorf("failed to decode extra meta: %w", err)
			}
			m.Extra = extra
		}
		result = append(result, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return result, nil
}
