package domain

import (
	"encoding/json"
	"time"
)

// Role is a chat message role understood by the model provider
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType is the kind of a multi-part content element
type PartType string

const (
	PartTypeText     PartType = "text"
	PartTypeImageURL PartType = "image_url"
)

// ContentPart is one element of a multi-modal user message
type ContentPart struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
}

// ChatMessage is one model input message.
// Either Content or Parts is set; Parts wins when non-empty.
type ChatMessage struct {
	Role    Role          `json:"role"`
	Content string        `json:"content,omitempty"`
	Parts   []ContentPart `json:"parts,omitempty"`
}

// IsMultiPart reports whether the message carries multi-modal parts
func (m ChatMessage) IsMultiPart() bool {
	return len(m.Parts) > 0
}

// ModelOptions holds per-call model parameters
type ModelOptions struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// Usage is token accounting for one model call
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// ModelResult is the outcome of one model call
type ModelResult struct {
	Text  string
	Usage Usage
	Raw   json.RawMessage // full provider response
}

// Completion records one pipeline model invocation. Created once, never updated.
type Completion struct {
	ID               string
	Request          []ChatMessage
	Result           string
	Response         json.RawMessage
	PromptTokens     int
	CompletionTokens int
	BeginAt          time.Time
	EndAt            time.Time
	CreatedBy        string
}

// NewCompletion builds a completion record from a model call
func NewCompletion(request []ChatMessage, result *ModelResult, beginAt, endAt time.Time, requester string) *Completion {
	return &Completion{
		Request:          request,
		Result:           result.Text,
		Response:         result.Raw,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		BeginAt:          beginAt,
		EndAt:            endAt,
		CreatedBy:        requester,
	}
}

// Duration returns how long the model call took
func (c *Completion) Duration() time.Duration {
	return c.EndAt.Sub(c.BeginAt)
}
