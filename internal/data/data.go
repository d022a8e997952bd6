package data

import (
	"go.uber.org/zap"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/repo"
)

// Repositories contains all repositories
type Repositories struct {
	DB         *DB
	Message    repo.MessageRepo
	Completion repo.CompletionRepo
	Attachment repo.AttachmentRepo
	Delivery   repo.DeliveryRepo
}

// NewRepositories creates the store-backed repositories around db.
// delivery is chosen by the caller (callback or Feishu).
func NewRepositories(db *DB, delivery repo.DeliveryRepo, logger *zap.Logger) *Repositories {
	return &Repositories{
		DB:         db,
		Message:    NewMessageRepo(db),
		Completion: NewCompletionRepo(db),
		Attachment: NewAttachmentRepo(nil, logger),
		Delivery:   delivery,
	}
}

// Close releases the database
func (r *Repositories) Close() error {
	return r.DB.Close()
}
