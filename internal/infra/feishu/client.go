package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
	"go.uber.org/zap"
)

// Feishu message types handled by the ingress
const (
	MsgTypeText  = "text"
	MsgTypeImage = "image"
	MsgTypePost  = "post"
	MsgTypeMedia = "media"
)

// ChatTypeGroup is the chat type of group chats; private chats are "p2p"
const ChatTypeGroup = "group"

// Message represents a received Feishu message
type Message struct {
	ChatID     string
	MsgID      string
	MsgType    string   // text, image, post, media
	ChatType   string   // p2p (private), group
	Content    string   // text extracted from the message
	ImageKeys  []string // image keys for downloading
	SenderID   string   // sender open_id
	CreateTime int64    // milliseconds Unix timestamp from Feishu
}

// MessageHandler is the callback for received messages
type MessageHandler func(msg *Message)

// Client is the Feishu API client
type Client struct {
	appID     string
	appSecret string
	larkCli   *lark.Client
	onMessage MessageHandler
	logger    *zap.Logger
	cancel    context.CancelFunc
}

// NewClient creates a new Feishu client
func NewClient(appID, appSecret string, logger *zap.Logger) *Client {
	return &Client{
		appID:     appID,
		appSecret: appSecret,
		larkCli:   lark.NewClient(appID, appSecret),
		logger:    logger.Named("feishu"),
	}
}

// OnMessage sets the message handler
func (c *Client) OnMessage(handler MessageHandler) {
	c.onMessage = handler
}

// Start connects to Feishu via WebSocket and blocks until ctx is done or Stop is called
func (c *Client) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	// the SDK acks only after the handler returns, so work is handed off
	eventHandler := dispatcher.NewEventDispatcher("", "").
		OnP2MessageReceiveV1(func(_ context.Context, event *larkim.P2MessageReceiveV1) error {
			go c.handleMessage(event)
			return nil
		})

	wsCli := larkws.NewClient(c.appID, c.appSecret,
		larkws.WithEventHandler(eventHandler),
		larkws.WithLogLevel(larkcore.LogLevelInfo),
	)

	c.logger.Info("starting websocket connection")

	// the SDK's Start only returns on a connect error
	errCh := make(chan error, 1)
	go func() {
		errCh <- wsCli.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Stop disconnects from Feishu
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Client) handleMessage(event *larkim.P2MessageReceiveV1) {
	msg := parseEvent(event)
	if msg == nil {
		return
	}

	c.logger.Debug("message received",
		zap.String("chat", msg.ChatID),
		zap.String("type", msg.MsgType),
		zap.String("chat_type", msg.ChatType))

	if c.onMessage != nil {
		c.onMessage(msg)
	}
}

// parseEvent converts a receive event into a Message.
// It returns nil for bot-sent messages and unsupported types.
func parseEvent(event *larkim.P2MessageReceiveV1) *Message {
	if event == nil || event.Event == nil || event.Event.Message == nil {
		return nil
	}
	raw := event.Event.Message
	sender := event.Event.Sender

	// replies sent by the app itself come back as events
	if sender != nil && sender.SenderType != nil && *sender.SenderType == "app" {
		return nil
	}

	msg := &Message{
		ChatID:   deref(raw.ChatId),
		MsgID:    deref(raw.MessageId),
		MsgType:  deref(raw.MessageType),
		ChatType: deref(raw.ChatType),
	}
	if raw.CreateTime != nil {
		if ts, err := strconv.ParseInt(*raw.CreateTime, 10, 64); err == nil {
			msg.CreateTime = ts
		}
	}
	if sender != nil && sender.SenderId != nil {
		msg.SenderID = deref(sender.SenderId.OpenId)
	}

	mentionMap := make(map[string]string)
	for _, mention := range raw.Mentions {
		if mention.Key != nil && mention.Name != nil {
			mentionMap[*mention.Key] = *mention.Name
		}
	}

	content := deref(raw.Content)
	switch msg.MsgType {
	case MsgTypeText:
		msg.Content = parseTextContent(content, mentionMap)
	case MsgTypeImage:
		msg.ImageKeys = parseImageContent(content)
		msg.Content = "[Image]"
	case MsgTypePost:
		msg.Content, msg.ImageKeys = parsePostContent(content, mentionMap)
	case MsgTypeMedia:
		msg.Content = parseMediaContent(content)
	default:
		return nil
	}
	return msg
}

// parseTextContent extracts text from a text message and resolves mention placeholders
func parseTextContent(content string, mentionMap map[string]string) string {
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return ""
	}
	return replaceMentions(parsed.Text, mentionMap)
}

// parseImageContent extracts the image key from an image message
func parseImageContent(content string) []string {
	var parsed struct {
		ImageKey string `json:"image_key"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil || parsed.ImageKey == "" {
		return nil
	}
	return []string{parsed.ImageKey}
}

// parseMediaContent returns the file name of a video message
func parseMediaContent(content string) string {
	var parsed struct {
		FileKey  string `json:"file_key"`
		FileName string `json:"file_name"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return ""
	}
	if parsed.FileName != "" {
		return parsed.FileName
	}
	return parsed.FileKey
}

// parsePostContent extracts text and images from a rich text message
func parsePostContent(content string, mentionMap map[string]string) (string, []string) {
	var parsed struct {
		Title   string `json:"title"`
		Content [][]struct {
			Tag      string `json:"tag"`
			Text     string `json:"text,omitempty"`
			Href     string `json:"href,omitempty"`
			ImageKey string `json:"image_key,omitempty"`
			UserID   string `json:"user_id,omitempty"`
		} `json:"content"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return "", nil
	}

	var lines, imageKeys []string
	if parsed.Title != "" {
		lines = append(lines, parsed.Title)
	}
	for _, row := range parsed.Content {
		var b strings.Builder
		for _, elem := range row {
			switch elem.Tag {
			case "text":
				b.WriteString(elem.Text)
			case "a":
				if elem.Href != "" {
					b.WriteString(elem.Href)
				} else {
					b.WriteString(elem.Text)
				}
			case "at":
				if name, ok := mentionMap[elem.UserID]; ok {
					b.WriteString("@" + name)
				} else if elem.UserID != "" {
					b.WriteString("@" + elem.UserID)
				}
			case "img":
				if elem.ImageKey != "" {
					imageKeys = append(imageKeys, elem.ImageKey)
				}
			}
		}
		if b.Len() > 0 {
			lines = append(lines, b.String())
		}
	}

	return replaceMentions(strings.Join(lines, "\n"), mentionMap), imageKeys
}

// replaceMentions replaces placeholders such as @_user_1 with @RealName
func replaceMentions(text string, mentionMap map[string]string) string {
	for key, name := range mentionMap {
		text = strings.ReplaceAll(text, key, "@"+name)
	}
	return text
}

// DownloadImage fetches an image resource attached to a message
func (c *Client) DownloadImage(ctx context.Context, messageID, imageKey string) ([]byte, error) {
	req := larkim.NewGetMessageResourceReqBuilder().
		MessageId(messageID).
		FileKey(imageKey).
		Type("image").
		Build()

	resp, err := c.larkCli.Im.MessageResource.Get(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}
	if !resp.Success() {
		return nil, fmt.Errorf("get image error: %s", resp.Msg)
	}

	data, err := io.ReadAll(resp.File)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return data, nil
}

// SendText sends a text message to a chat
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	contentJSON, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(larkim.MsgTypeText).
			Content(string(contentJSON)).
			Build()).
		Build()

	resp, err := c.larkCli.Im.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("send message error: %s", resp.Msg)
	}

	c.logger.Debug("message sent", zap.String("chat", chatID))
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
