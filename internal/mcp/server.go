package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/repo"
)

const (
	defaultHistoryMinutes  = 30
	defaultCompletionLimit = 20
)

// Server exposes chatflow administration tools over MCP
type Server struct {
	server      *mcp.Server
	messages    repo.MessageRepo
	completions repo.CompletionRepo
	delivery    repo.DeliveryRepo
	now         func() time.Time
	logger      *zap.Logger
}

// NewServer creates a new MCP server and registers its tools.
// delivery may be nil, in which case the send tool reports an error.
func NewServer(messages repo.MessageRepo, completions repo.CompletionRepo, delivery repo.DeliveryRepo, version string, logger *zap.Logger) *Server {
	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "chatflow-admin",
			Version: version,
		}, nil),
		messages:    messages,
		completions: completions,
		delivery:    delivery,
		now:         time.Now,
		logger:      logger.Named("mcp"),
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "chatflow_session_history",
		Description: "List the messages of a session that the pipeline would recall as history.",
	}, s.handleSessionHistory)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "chatflow_reset_session",
		Description: "Apply the reset command to a session, the same as a user sending it.",
	}, s.handleResetSession)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "chatflow_list_completions",
		Description: "List the most recent model completions made on behalf of a user.",
	}, s.handleListCompletions)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "chatflow_send_message",
		Description: "Deliver a text message to a session immediately, bypassing the reply queue.",
	}, s.handleSendMessage)
}

// Run serves the tools over stdio until ctx is done
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("serving MCP over stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}

// SessionHistoryInput is the input for chatflow_session_history
type SessionHistoryInput struct {
	SessionID string `json:"session_id" jsonschema:"the session key"`
	Minutes   int    `json:"minutes,omitempty" jsonschema:"how far back to look, default 30"`
}

// HistoryEntry is one recalled message
type HistoryEntry struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	From      string `json:"from"`
	To        string `json:"to"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// SessionHistoryOutput is the output for chatflow_session_history
type SessionHistoryOutput struct {
	Messages []HistoryEntry `json:"messages"`
	Error    string         `json:"error,omitempty"`
}

func (s *Server) handleSessionHistory(ctx context.Context, req *mcp.CallToolRequest, input SessionHistoryInput) (*mcp.CallToolResult, SessionHistoryOutput, error) {
	if input.SessionID == "" {
		return nil, SessionHistoryOutput{Error: "session_id is required"}, nil
	}
	minutes := input.Minutes
	if minutes <= 0 {
		minutes = defaultHistoryMinutes
	}

	msgs, err := s.messages.ListRecent(ctx, input.SessionID, s.now().Add(-time.Duration(minutes)*time.Minute))
	if err != nil {
		return nil, SessionHistoryOutput{Error: err.Error()}, nil
	}

	out := SessionHistoryOutput{Messages: make([]HistoryEntry, 0, len(msgs))}
	for _, m := range msgs {
		out.Messages = append(out.Messages, HistoryEntry{
			ID:        m.ID,
			Type:      string(m.Type),
			From:      m.From,
			To:        m.To,
			Content:   m.Content,
			CreatedAt: m.CreatedAt.Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

// ResetSessionInput is the input for chatflow_reset_session
type ResetSessionInput struct {
	SessionID string `json:"session_id" jsonschema:"the session key"`
}

// ResultOutput reports success of a mutating tool
type ResultOutput struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleResetSession(ctx context.Context, req *mcp.CallToolRequest, input ResetSessionInput) (*mcp.CallToolResult, ResultOutput, error) {
	if input.SessionID == "" {
		return nil, ResultOutput{Error: "session_id is required"}, nil
	}
	if err := s.messages.MarkCleared(ctx, input.SessionID); err != nil {
		return nil, ResultOutput{Error: err.Error()}, nil
	}
	s.logger.Info("session reset", zap.String("session", input.SessionID))
	return nil, ResultOutput{Success: true}, nil
}

// ListCompletionsInput is the input for chatflow_list_completions
type ListCompletionsInput struct {
	Requester string `json:"requester" jsonschema:"the user the completions were made for"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of completions, default 20"`
}

// CompletionEntry summarizes one completion
type CompletionEntry struct {
	ID               string `json:"id"`
	Result           string `json:"result"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	BeginAt          string `json:"begin_at"`
	DurationMS       int64  `json:"duration_ms"`
}

// ListCompletionsOutput is the output for chatflow_list_completions
type ListCompletionsOutput struct {
	Completions []CompletionEntry `json:"completions"`
	Error       string            `json:"error,omitempty"`
}

func (s *Server) handleListCompletions(ctx context.Context, req *mcp.CallToolRequest, input ListCompletionsInput) (*mcp.CallToolResult, ListCompletionsOutput, error) {
	if input.Requester == "" {
		return nil, ListCompletionsOutput{Error: "requester is required"}, nil
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultCompletionLimit
	}

	completions, err := s.completions.ListByRequester(ctx, input.Requester, limit)
	if err != nil {
		return nil, ListCompletionsOutput{Error: err.Error()}, nil
	}

	out := ListCompletionsOutput{Completions: make([]CompletionEntry, 0, len(completions))}
	for _, c := range completions {
		out.Completions = append(out.Completions, CompletionEntry{
			ID:               c.ID,
			Result:           c.Result,
			PromptTokens:     c.PromptTokens,
			CompletionTokens: c.CompletionTokens,
			BeginAt:          c.BeginAt.Format(time.RFC3339),
			DurationMS:       c.Duration().Milliseconds(),
		})
	}
	return nil, out, nil
}

// SendMessageInput is the input for chatflow_send_message
type SendMessageInput struct {
	SessionID string `json:"session_id" jsonschema:"the session key"`
	Content   string `json:"content" jsonschema:"the message text"`
}

func (s *Server) handleSendMessage(ctx context.Context, req *mcp.CallToolRequest, input SendMessageInput) (*mcp.CallToolResult, ResultOutput, error) {
	if s.delivery == nil {
		return nil, ResultOutput{Error: "delivery not configured"}, nil
	}
	if input.SessionID == "" || input.Content == "" {
		return nil, ResultOutput{Error: "session_id and content are required"}, nil
	}
	if err := s.delivery.Deliver(ctx, input.SessionID, input.Content); err != nil {
		return nil, ResultOutput{Error: fmt.Sprintf("deliver: %v", err)}, nil
	}
	return nil, ResultOutput{Success: true}, nil
}
