package mcp

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/domain"
)

type fakeMessages struct {
	recent  []*domain.Message
	since   time.Time
	cleared []string
}

func (f *fakeMessages) Save(ctx context.Context, msg *domain.Message) error { return nil }
func (f *fakeMessages) Get(ctx context.Context, id string) (*domain.Message, error) {
	return nil, nil
}
func (f *fakeMessages) ListByIDs(ctx context.Context, ids []string) ([]*domain.Message, error) {
	return nil, nil
}

func (f *fakeMessages) ListRecent(ctx context.Context, sessionKey string, since time.Time) ([]*domain.Message, error) {
	f.since = since
	return f.recent, nil
}

func (f *fakeMessages) MarkCleared(ctx context.Context, sessionKey string) error {
	f.cleared = append(f.cleared, sessionKey)
	return nil
}

type fakeCompletions struct {
	items []*domain.Completion
	limit int
}

func (f *fakeCompletions) Save(ctx context.Context, c *domain.Completion) error { return nil }

func (f *fakeCompletions) ListByRequester(ctx context.Context, requester string, limit int) ([]*domain.Completion, error) {
	f.limit = limit
	return f.items, nil
}

type fakeDelivery struct {
	sent []string
	err  error
}

func (f *fakeDelivery) Deliver(ctx context.Context, sessionKey, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sessionKey+": "+text)
	return nil
}

func newTestServer() (*Server, *fakeMessages, *fakeCompletions, *fakeDelivery) {
	msgs := &fakeMessages{}
	comps := &fakeCompletions{}
	del := &fakeDelivery{}
	return NewServer(msgs, comps, del, "test", zap.NewNop()), msgs, comps, del
}

func TestSessionHistory(t *testing.T) {
	s, msgs, _, _ := newTestServer()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	msgs.recent = []*domain.Message{
		{ID: "m1", Type: domain.MessageTypeText, From: "alice", To: "bot", Content: "hi", CreatedAt: now.Add(-time.Minute)},
	}

	_, out, err := s.handleSessionHistory(context.Background(), nil, SessionHistoryInput{SessionID: "s1"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.Error != "" || len(out.Messages) != 1 {
		t.Fatalf("unexpected output %+v", out)
	}
	if out.Messages[0].Content != "hi" || out.Messages[0].CreatedAt != "2024-05-01T09:59:00Z" {
		t.Errorf("unexpected entry %+v", out.Messages[0])
	}
	if !msgs.since.Equal(now.Add(-30 * time.Minute)) {
		t.Errorf("Expected default 30 minute window, got since %v", msgs.since)
	}

	_, out, _ = s.handleSessionHistory(context.Background(), nil, SessionHistoryInput{})
	if out.Error == "" {
		t.Error("Expected error without session_id")
	}
}

func TestResetSession(t *testing.T) {
	s, msgs, _, _ := newTestServer()

	_, out, _ := s.handleResetSession(context.Background(), nil, ResetSessionInput{SessionID: "s1"})
	if !out.Success {
		t.Fatalf("Expected success, got %+v", out)
	}
	if len(msgs.cleared) != 1 || msgs.cleared[0] != "s1" {
		t.Errorf("Expected s1 cleared, got %v", msgs.cleared)
	}
}

func TestListCompletions(t *testing.T) {
	s, _, comps, _ := newTestServer()
	begin := time.Now()
	comps.items = []*domain.Completion{
		{ID: "c1", Result: "answer", PromptTokens: 10, CompletionTokens: 5, BeginAt: begin, EndAt: begin.Add(1500 * time.Millisecond)},
	}

	_, out, _ := s.handleListCompletions(context.Background(), nil, ListCompletionsInput{Requester: "alice"})
	if len(out.Completions) != 1 {
		t.Fatalf("Expected 1 completion, got %+v", out)
	}
	if out.Completions[0].DurationMS != 1500 {
		t.Errorf("Expected 1500ms, got %d", out.Completions[0].DurationMS)
	}
	if comps.limit != defaultCompletionLimit {
		t.Errorf("Expected default limit, got %d", comps.limit)
	}
}

func TestSendMessage(t *testing.T) {
	s, _, _, del := newTestServer()

	_, out, _ := s.handleSendMessage(context.Background(), nil, SendMessageInput{SessionID: "s1", Content: "hello"})
	if !out.Success || len(del.sent) != 1 || del.sent[0] != "s1: hello" {
		t.Errorf("unexpected send result %+v %v", out, del.sent)
	}

	del.err = errors.New("down")
	_, out, _ = s.handleSendMessage(context.Background(), nil, SendMessageInput{SessionID: "s1", Content: "again"})
	if out.Success || out.Error == "" {
		t.Errorf("Expected failure, got %+v", out)
	}
}

func TestToolsAreListed(t *testing.T) {
	s, _, _, _ := newTestServer()
	ctx := context.Background()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := s.MCPServer().Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	defer ss.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer cs.Close()

	res, err := cs.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	want := []string{"chatflow_list_completions", "chatflow_reset_session", "chatflow_send_message", "chatflow_session_history"}
	if len(names) != len(want) {
		t.Fatalf("Expected tools %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Expected tool %s, got %s", want[i], names[i])
		}
	}
}
