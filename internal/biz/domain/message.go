package domain

import (
	"strings"
	"time"
)

// MessageType is the kind of an inbound or reply message
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypePic   MessageType = "pic"
	MessageTypeLink  MessageType = "link"
	MessageTypeVideo MessageType = "video"
	MessageTypeFunc  MessageType = "func" // command messages such as the history reset
)

// Message represents a stored chat message.
// A message is immutable once saved, except IsClear which the reset command sets in bulk.
type Message struct {
	ID         string
	Type       MessageType
	Content    string
	From       string
	To         string
	SessionKey string
	IsGroup    bool
	IsClear    bool
	CreatedAt  time.Time
	Extra      *MessageExtra
}

// MessageExtra carries prepared attachment data (resized image bytes, scraped link text)
type MessageExtra struct {
	Meta  map[string]any
	Bytes []byte
}

// IsText checks if the message is plain text
func (m *Message) IsText() bool {
	return m.Type == MessageTypeText
}

// IsAfter checks if the message is after the specified time
func (m *Message) IsAfter(t time.Time) bool {
	return m.CreatedAt.After(t)
}

// ExtraText returns the attachment bytes as text (scraped link content)
func (m *Message) ExtraText() string {
	if m.Extra == nil {
		return ""
	}
	return string(m.Extra.Bytes)
}

// HasExtraBytes reports whether the message carries a prepared attachment payload
func (m *Message) HasExtraBytes() bool {
	return m.Extra != nil && len(m.Extra.Bytes) > 0
}

// HistoryTimeLayout is the timestamp layout of history lines
const HistoryTimeLayout = "2006-01-02 15:04:05"

// HistoryLine renders the message as "#<time> #<from> #<content>"
func (m *Message) HistoryLine() string {
	return "#" + m.CreatedAt.Format(HistoryTimeLayout) + " #" + m.From + " #" + m.Content
}

// LooksLikeURL reports whether text content should be treated as a link
func LooksLikeURL(content string) bool {
	return strings.HasPrefix(content, "http://") || strings.HasPrefix(content, "https://")
}

// Batch is the set of messages drained for one session
type Batch []*Message

// SessionKey returns the session shared by every message of the batch
func (b Batch) SessionKey() string {
	if len(b) == 0 {
		return ""
	}
	return b[0].SessionKey
}

// AllText reports whether every message of the batch is plain text
func (b Batch) AllText() bool {
	for _, m := range b {
		if !m.IsText() {
			return false
		}
	}
	return true
}

// OfType returns the messages of the given type, in batch order
func (b Batch) OfType(t MessageType) []*Message {
	var result []*Message
	for _, m := range b {
		if m.Type == t {
			result = append(result, m)
		}
	}
	return result
}

// IDs returns the message ids, in batch order
func (b Batch) IDs() []string {
	ids := make([]string, len(b))
	for i, m := range b {
		ids[i] = m.ID
	}
	return ids
}

// JoinContent joins the content of the given messages with newlines
func JoinContent(msgs []*Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Content
	}
	return strings.Join(parts, "\n")
}
