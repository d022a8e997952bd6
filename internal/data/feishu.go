package data

import (
	"context"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/repo"
)

// TextSender sends a text message to a Feishu chat
type TextSender interface {
	SendText(ctx context.Context, chatID, text string) error
}

// feishuDelivery delivers replies to the Feishu chat named by the session key
type feishuDelivery struct {
	client TextSender
}

// NewFeishuDelivery creates a Feishu delivery repository
func NewFeishuDelivery(client TextSender) repo.DeliveryRepo {
	return &feishuDelivery{client: client}
}

// Deliver sends text to the chat whose id is the session key
func (r *feishuDelivery) Deliver(ctx context.Context, sessionKey, text string) error {
	return r.client.SendText(ctx, sessionKey, text)
}
