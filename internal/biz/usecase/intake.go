package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/domain"
	"github.com/DevRickLin/feishu-chatflow/internal/biz/repo"
)

var (
	// ErrMissingSession is returned for a request without a session key
	ErrMissingSession = errors.New("session key is required")
	// ErrMissingAttachment is returned for a picture message without image data
	ErrMissingAttachment = errors.New("picture message without attachment")
)

// Attachment is an uploaded file accompanying an inbound message
type Attachment struct {
	FileName    string
	ContentType string
	Data        []byte
}

// IntakeRequest is one inbound chat event
type IntakeRequest struct {
	Type       domain.MessageType
	Content    string
	From       string
	To         string
	SessionKey string
	IsGroup    bool
	Attachment *Attachment
}

// IntakeResult reports what intake did with a request
type IntakeResult struct {
	Message *domain.Message
	Reply   *domain.Message // set when the request was answered immediately
	Queued  bool            // true when the message went to the debounce queue
}

// IntakeUsecase stores inbound messages and routes them to the debounce queue
type IntakeUsecase struct {
	messageRepo    repo.MessageRepo
	attachmentRepo repo.AttachmentRepo
	batchQueue     repo.BatchQueue
	replies        *ReplyUsecase
	prompts        PromptConfig
	config         IntakeConfig
	now            func() time.Time
	logger         *zap.Logger
}

// NewIntakeUsecase creates a new intake usecase
func NewIntakeUsecase(
	messageRepo repo.MessageRepo,
	attachmentRepo repo.AttachmentRepo,
	batchQueue repo.BatchQueue,
	replies *ReplyUsecase,
	prompts PromptConfig,
	config IntakeConfig,
	logger *zap.Logger,
) *IntakeUsecase {
	return &IntakeUsecase{
		messageRepo:    messageRepo,
		attachmentRepo: attachmentRepo,
		batchQueue:     batchQueue,
		replies:        replies,
		prompts:        prompts,
		config:         config,
		now:            time.Now,
		logger:         logger.Named("intake"),
	}
}

// Receive stores an inbound message and routes it.
// Text that is a URL becomes a link. The reset command clears recall for
// the session and is acknowledged at once; everything else is enqueued with
// its type's debounce delay.
func (uc *IntakeUsecase) Receive(ctx context.Context, req IntakeRequest) (*IntakeResult, error) {
	if req.SessionKey == "" {
		return nil, ErrMissingSession
	}

	msg := &domain.Message{
		Type:       req.Type,
		Content:    req.Content,
		From:       req.From,
		To:         req.To,
		SessionKey: req.SessionKey,
		IsGroup:    req.IsGroup,
		CreatedAt:  uc.now(),
	}

	if msg.Type == domain.MessageTypeText && domain.LooksLikeURL(msg.Content) {
		msg.Type = domain.MessageTypeLink
	}

	if uc.isReset(msg.Content) {
		return uc.reset(ctx, msg)
	}

	extra, err := uc.prepare(ctx, msg, req.Attachment)
	if err != nil {
		return nil, err
	}
	msg.Extra = extra

	if err := uc.messageRepo.Save(ctx, msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}

	uc.batchQueue.Enqueue(msg.SessionKey, msg.ID, uc.delay(msg.Type))
	uc.logger.Debug("message queued",
		zap.String("session", msg.SessionKey),
		zap.String("message", msg.ID),
		zap.String("type", string(msg.Type)))

	return &IntakeResult{Message: msg, Queued: true}, nil
}

func (uc *IntakeUsecase) isReset(content string) bool {
	return uc.config.ResetCommand != "" && strings.TrimSpace(content) == uc.config.ResetCommand
}

// reset marks the session's history, stores the command and its
// acknowledgement and enqueues the acknowledgement for delivery
func (uc *IntakeUsecase) reset(ctx context.Context, msg *domain.Message) (*IntakeResult, error) {
	if err := uc.messageRepo.MarkCleared(ctx, msg.SessionKey); err != nil {
		return nil, fmt.Errorf("clear session: %w", err)
	}

	msg.Type = domain.MessageTypeFunc
	msg.IsClear = true
	if err := uc.messageRepo.Save(ctx, msg); err != nil {
		return nil, fmt.Errorf("save command: %w", err)
	}

	ack, err := uc.replies.send(ctx, &domain.Message{
		Type:       domain.MessageTypeFunc,
		Content:    uc.prompts.ResetReply,
		From:       msg.To,
		To:         msg.From,
		SessionKey: msg.SessionKey,
		IsGroup:    msg.IsGroup,
		IsClear:    true,
		CreatedAt:  uc.now(),
	})
	if err != nil {
		return nil, err
	}

	uc.logger.Info("session reset", zap.String("session", msg.SessionKey))
	return &IntakeResult{Message: msg, Reply: ack}, nil
}

func (uc *IntakeUsecase) prepare(ctx context.Context, msg *domain.Message, att *Attachment) (*domain.MessageExtra, error) {
	switch msg.Type {
	case domain.MessageTypePic:
		if att == nil || len(att.Data) == 0 {
			return nil, ErrMissingAttachment
		}
		meta := map[string]any{
			"type":         string(msg.Type),
			"content_type": att.ContentType,
			"size":         len(att.Data),
			"file_name":    att.FileName,
		}
		extra, err := uc.attachmentRepo.PrepareImage(ctx, att.Data, meta)
		if err != nil {
			return nil, fmt.Errorf("prepare image: %w", err)
		}
		return extra, nil

	case domain.MessageTypeLink:
		extra, err := uc.attachmentRepo.ScrapeLink(ctx, strings.TrimSpace(msg.Content))
		if err != nil {
			uc.logger.Warn("scrape link failed", zap.String("url", msg.Content), zap.Error(err))
			return nil, nil
		}
		return extra, nil
	}
	return nil, nil
}

func (uc *IntakeUsecase) delay(t domain.MessageType) time.Duration {
	if t == domain.MessageTypePic {
		return uc.config.PicDelay
	}
	return uc.config.TextDelay
}
