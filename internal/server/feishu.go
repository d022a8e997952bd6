package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/domain"
	"github.com/DevRickLin/feishu-chatflow/internal/biz/usecase"
	"github.com/DevRickLin/feishu-chatflow/internal/infra/feishu"
)

// seenTTL is how long a Feishu message id is remembered for deduplication
const seenTTL = 5 * time.Minute

// FeishuClient is the part of the Feishu client the ingress needs
type FeishuClient interface {
	OnMessage(handler feishu.MessageHandler)
	Start(ctx context.Context) error
	Stop()
	DownloadImage(ctx context.Context, messageID, imageKey string) ([]byte, error)
}

// MessageReceiver accepts inbound chat events
type MessageReceiver interface {
	Receive(ctx context.Context, req usecase.IntakeRequest) (*usecase.IntakeResult, error)
}

// FeishuServer feeds Feishu chat events into intake.
// The chat id is the session key, so replies go back to the same chat.
type FeishuServer struct {
	client   FeishuClient
	receiver MessageReceiver
	botName  string
	logger   *zap.Logger
	ctx      context.Context

	// redelivered events carry the same message id
	seenMu sync.Mutex
	seen   map[string]time.Time
	now    func() time.Time
}

// NewFeishuServer creates a new Feishu server
func NewFeishuServer(client FeishuClient, receiver MessageReceiver, botName string, logger *zap.Logger) *FeishuServer {
	return &FeishuServer{
		client:   client,
		receiver: receiver,
		botName:  botName,
		logger:   logger.Named("feishu-server"),
		ctx:      context.Background(),
		seen:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// Start registers the message handler and blocks on the Feishu connection
func (s *FeishuServer) Start(ctx context.Context) error {
	s.ctx = ctx
	s.client.OnMessage(s.handleMessage)
	return s.client.Start(ctx)
}

// Stop stops the server
func (s *FeishuServer) Stop() {
	s.client.Stop()
}

func (s *FeishuServer) handleMessage(msg *feishu.Message) {
	if s.markSeen(msg.MsgID) {
		s.logger.Debug("duplicate message ignored", zap.String("message", msg.MsgID))
		return
	}

	ctx := s.ctx
	for _, req := range s.toRequests(ctx, msg) {
		if _, err := s.receiver.Receive(ctx, req); err != nil {
			s.logger.Error("receive failed",
				zap.String("session", req.SessionKey),
				zap.String("message", msg.MsgID),
				zap.Error(err))
		}
	}
}

// toRequests splits one Feishu message into intake requests:
// its text (if any) first, then one picture request per image.
func (s *FeishuServer) toRequests(ctx context.Context, msg *feishu.Message) []usecase.IntakeRequest {
	base := usecase.IntakeRequest{
		From:       msg.SenderID,
		To:         s.botName,
		SessionKey: msg.ChatID,
		IsGroup:    msg.ChatType == feishu.ChatTypeGroup,
	}

	var reqs []usecase.IntakeRequest
	switch msg.MsgType {
	case feishu.MsgTypeText, feishu.MsgTypePost:
		if msg.Content != "" {
			req := base
			req.Type = domain.MessageTypeText
			req.Content = msg.Content
			reqs = append(reqs, req)
		}
	case feishu.MsgTypeMedia:
		req := base
		req.Type = domain.MessageTypeVideo
		req.Content = msg.Content
		reqs = append(reqs, req)
	}

	for _, key := range msg.ImageKeys {
		data, err := s.client.DownloadImage(ctx, msg.MsgID, key)
		if err != nil {
			s.logger.Warn("image download failed",
				zap.String("session", msg.ChatID),
				zap.String("image", key),
				zap.Error(err))
			continue
		}
		req := base
		req.Type = domain.MessageTypePic
		req.Content = key
		req.Attachment = &usecase.Attachment{FileName: key, Data: data}
		reqs = append(reqs, req)
	}

	return reqs
}

// markSeen records msgID and reports whether it was already seen
func (s *FeishuServer) markSeen(msgID string) bool {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()

	now := s.now()
	cutoff := now.Add(-seenTTL)
	for id, ts := range s.seen {
		if ts.Before(cutoff) {
			delete(s.seen, id)
		}
	}

	if _, ok := s.seen[msgID]; ok {
		return true
	}
	s.seen[msgID] = now
	return false
}
