package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/domain"
)

// Mock implementations

type mockMessageRepo struct {
	mu       sync.Mutex
	messages map[string]*domain.Message
	seq      int
	cleared  []string
}

func newMockMessageRepo() *mockMessageRepo {
	return &mockMessageRepo{messages: make(map[string]*domain.Message)}
}

func (m *mockMessageRepo) Save(ctx context.Context, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		m.seq++
		msg.ID = fmt.Sprintf("msg-%d", m.seq)
	}
	copied := *msg
	m.messages[msg.ID] = &copied
	return nil
}

func (m *mockMessageRepo) Get(ctx context.Context, id string) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages[id], nil
}

func (m *mockMessageRepo) ListByIDs(ctx context.Context, ids []string) ([]*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*domain.Message
	for _, id := range ids {
		if msg, ok := m.messages[id]; ok {
			result = append(result, msg)
		}
	}
	return result, nil
}

func (m *mockMessageRepo) ListRecent(ctx context.Context, sessionKey string, since time.Time) ([]*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*domain.Message
	for _, msg := range m.messages {
		if msg.SessionKey == sessionKey && msg.IsClear && !msg.CreatedAt.Before(since) {
			result = append(result, msg)
		}
	}
	sortByCreation(result)
	return result, nil
}

func (m *mockMessageRepo) MarkCleared(ctx context.Context, sessionKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, sessionKey)
	for _, msg := range m.messages {
		if msg.SessionKey == sessionKey {
			msg.IsClear = true
		}
	}
	return nil
}

func (m *mockMessageRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func sortByCreation(msgs []*domain.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

type mockCompletionRepo struct {
	saved []*domain.Completion
}

func (m *mockCompletionRepo) Save(ctx context.Context, c *domain.Completion) error {
	c.ID = fmt.Sprintf("completion-%d", len(m.saved)+1)
	m.saved = append(m.saved, c)
	return nil
}

func (m *mockCompletionRepo) ListByRequester(ctx context.Context, requester string, limit int) ([]*domain.Completion, error) {
	var result []*domain.Completion
	for _, c := range m.saved {
		if c.CreatedBy == requester {
			result = append(result, c)
		}
	}
	return result, nil
}

type modelCall struct {
	messages []domain.ChatMessage
	opts     domain.ModelOptions
}

// mockModelRepo answers by prompt prefix, matching testPrompts
type mockModelRepo struct {
	mu       sync.Mutex
	calls    []modelCall
	decision string
	final    string
	err      error
}

func (m *mockModelRepo) Complete(ctx context.Context, messages []domain.ChatMessage, opts domain.ModelOptions) (*domain.ModelResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, modelCall{messages: messages, opts: opts})
	if m.err != nil {
		return nil, m.err
	}

	text := m.final
	if text == "" {
		text = "final answer"
	}
	if len(messages) == 1 && !messages[0].IsMultiPart() {
		prompt := messages[0].Content
		switch {
		case strings.HasPrefix(prompt, "COMPRESS"):
			text = "summary of earlier chat"
		case strings.HasPrefix(prompt, "REWRITE"):
			text = "rewritten question"
		case strings.HasPrefix(prompt, "DECIDE"):
			text = m.decision
		}
	}
	return &domain.ModelResult{
		Text:  text,
		Usage: domain.Usage{PromptTokens: 20, CompletionTokens: 5},
		Raw:   []byte(`{"id":"chatcmpl"}`),
	}, nil
}

// callsFor returns the calls made with the given model name
func (m *mockModelRepo) callsFor(model string) []modelCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []modelCall
	for _, c := range m.calls {
		if c.opts.Model == model {
			result = append(result, c)
		}
	}
	return result
}

type mockSearchRepo struct {
	questions []string
	result    *domain.SearchResult
}

func (m *mockSearchRepo) Search(ctx context.Context, question string) (*domain.SearchResult, error) {
	m.questions = append(m.questions, question)
	return m.result, nil
}

type mockDeliveryRepo struct {
	delivered []string
	err       error
}

func (m *mockDeliveryRepo) Deliver(ctx context.Context, sessionKey, text string) error {
	if m.err != nil {
		return m.err
	}
	m.delivered = append(m.delivered, sessionKey+": "+text)
	return nil
}

type enqueued struct {
	sessionKey string
	id         string
	delay      time.Duration
}

type mockBatchQueue struct {
	items []enqueued
}

func (m *mockBatchQueue) Enqueue(sessionKey, itemID string, delay time.Duration) {
	m.items = append(m.items, enqueued{sessionKey: sessionKey, id: itemID, delay: delay})
}

type mockReplyQueue struct {
	mu    sync.Mutex
	items []enqueued
}

func (m *mockReplyQueue) Enqueue(sessionKey, replyID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, enqueued{sessionKey: sessionKey, id: replyID})
}

type mockAttachmentRepo struct {
	images int
	links  []string
}

func (m *mockAttachmentRepo) PrepareImage(ctx context.Context, data []byte, meta map[string]any) (*domain.MessageExtra, error) {
	m.images++
	meta["resize_pixels"] = "512*512"
	return &domain.MessageExtra{Meta: meta, Bytes: []byte("jpeg:" + string(data))}, nil
}

func (m *mockAttachmentRepo) ScrapeLink(ctx context.Context, url string) (*domain.MessageExtra, error) {
	m.links = append(m.links, url)
	return &domain.MessageExtra{Meta: map[string]any{"link": url}, Bytes: []byte("page text of " + url)}, nil
}

var testPrompts = PromptConfig{
	SystemPrompt:         "SYS {{histories}}",
	CompressPrompt:       "COMPRESS {{user}}\n{{histories}}",
	RewritePrompt:        "REWRITE {{histories}} || {{content}}",
	SearchDecisionPrompt: "DECIDE {{content}}",
	SearchPositiveAnswer: "YES",
	SearchContextPrompt:  "CONTEXT {{net_content}} Q: {{question}}",
	LinksIntro:           "Links:",
	PicDefaultPrompt:     "PIC?",
	LinkDefaultPrompt:    "LINK?",
	ResetReply:           "done",
}

// fixture wires every usecase against mocks
type fixture struct {
	messages    *mockMessageRepo
	completions *mockCompletionRepo
	model       *mockModelRepo
	search      *mockSearchRepo
	delivery    *mockDeliveryRepo
	batches     *mockBatchQueue
	replyQueue  *mockReplyQueue
	attachments *mockAttachmentRepo
	config      ChatflowConfig

	replies  *ReplyUsecase
	history  *HistoryUsecase
	searchUC *SearchUsecase
	chatflow *ChatflowUsecase
	intake   *IntakeUsecase
}

func newFixture() *fixture {
	f := &fixture{
		messages:    newMockMessageRepo(),
		completions: &mockCompletionRepo{},
		model:       &mockModelRepo{decision: "NO"},
		search:      &mockSearchRepo{result: &domain.SearchResult{}},
		delivery:    &mockDeliveryRepo{},
		batches:     &mockBatchQueue{},
		replyQueue:  &mockReplyQueue{},
		attachments: &mockAttachmentRepo{},
		config:      DefaultChatflowConfig(),
	}
	logger := zap.NewNop()

	f.replies = NewReplyUsecase(f.messages, f.delivery, f.replyQueue, logger)
	f.history = NewHistoryUsecase(f.messages, f.model, testPrompts, f.config, logger)
	f.searchUC = NewSearchUsecase(f.model, f.search, testPrompts, f.config, logger)
	f.chatflow = NewChatflowUsecase(f.messages, f.completions, f.model, f.history, f.searchUC, f.replies, testPrompts, f.config, logger)
	f.intake = NewIntakeUsecase(f.messages, f.attachments, f.batches, f.replies, testPrompts, DefaultIntakeConfig(), logger)
	return f
}

// save stores a message directly and returns its id
func (f *fixture) save(msg *domain.Message) string {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	_ = f.messages.Save(context.Background(), msg)
	return msg.ID
}

// replyContents returns the content of every enqueued reply, in order
func (f *fixture) replyContents() []string {
	f.replyQueue.mu.Lock()
	defer f.replyQueue.mu.Unlock()
	var out []string
	for _, item := range f.replyQueue.items {
		msg, _ := f.messages.Get(context.Background(), item.id)
		out = append(out, msg.Content)
	}
	return out
}
