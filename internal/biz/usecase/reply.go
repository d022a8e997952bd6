package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/domain"
	"github.com/DevRickLin/feishu-chatflow/internal/biz/repo"
)

// ReplyUsecase stores replies, hands them to the outbound queue and delivers them
type ReplyUsecase struct {
	messageRepo  repo.MessageRepo
	deliveryRepo repo.DeliveryRepo
	replyQueue   repo.ReplyQueue
	now          func() time.Time
	logger       *zap.Logger
}

// NewReplyUsecase creates a new reply usecase
func NewReplyUsecase(
	messageRepo repo.MessageRepo,
	deliveryRepo repo.DeliveryRepo,
	replyQueue repo.ReplyQueue,
	logger *zap.Logger,
) *ReplyUsecase {
	return &ReplyUsecase{
		messageRepo:  messageRepo,
		deliveryRepo: deliveryRepo,
		replyQueue:   replyQueue,
		now:          time.Now,
		logger:       logger.Named("reply"),
	}
}

// Send saves a text reply and enqueues it for delivery
func (uc *ReplyUsecase) Send(ctx context.Context, sessionKey, from, to, content string) (*domain.Message, error) {
	return uc.send(ctx, &domain.Message{
		Type:       domain.MessageTypeText,
		Content:    content,
		From:       from,
		To:         to,
		SessionKey: sessionKey,
		CreatedAt:  uc.now(),
	})
}

func (uc *ReplyUsecase) send(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	if err := uc.messageRepo.Save(ctx, msg); err != nil {
		return nil, fmt.Errorf("save reply: %w", err)
	}
	uc.replyQueue.Enqueue(msg.SessionKey, msg.ID)
	return msg, nil
}

// Deliver sends a queued reply to the messaging platform
func (uc *ReplyUsecase) Deliver(ctx context.Context, replyID string) error {
	msg, err := uc.messageRepo.Get(ctx, replyID)
	if err != nil {
		return fmt.Errorf("load reply: %w", err)
	}
	if msg == nil {
		return fmt.Errorf("reply %s not found", replyID)
	}

	if err := uc.deliveryRepo.Deliver(ctx, msg.SessionKey, msg.Content); err != nil {
		return fmt.Errorf("deliver reply: %w", err)
	}
	uc.logger.Debug("reply delivered", zap.String("session", msg.SessionKey), zap.String("reply", replyID))
	return nil
}
