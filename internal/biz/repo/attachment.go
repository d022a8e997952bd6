package repo

import (
	"context"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/domain"
)

// AttachmentRepo turns raw uploads into the extra payload stored with a message
type AttachmentRepo interface {
	// PrepareImage decodes an uploaded image and re-encodes it at model size.
	// meta describes the upload and is extended with pixel sizes.
	PrepareImage(ctx context.Context, data []byte, meta map[string]any) (*domain.MessageExtra, error)

	// ScrapeLink fetches a page and keeps its visible text.
	// A page that cannot be fetched yields nil extra and no error.
	ScrapeLink(ctx context.Context, url string) (*domain.MessageExtra, error)
}
