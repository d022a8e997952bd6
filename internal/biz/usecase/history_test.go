package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/domain"
)

func TestHistory_ShortHistoryIsKeptVerbatim(t *testing.T) {
	f := newFixture()
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.Local)
	f.history.now = func() time.Time { return at.Add(time.Minute) }

	old := textMsg("s1", "alice", "hi there", at)
	old.IsClear = true
	f.save(old)

	current := textMsg("s1", "alice", "next", at.Add(time.Minute))
	f.save(current)

	got, err := f.history.Recall(context.Background(), domain.Batch{current})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if got != "#2024-05-01 09:30:00 #alice #hi there" {
		t.Errorf("unexpected history %q", got)
	}
	if len(f.model.calls) != 0 {
		t.Error("Expected no compression for short history")
	}
}

func TestHistory_LongHistoryIsCompressed(t *testing.T) {
	f := newFixture()
	now := time.Now()

	for i := 0; i < 10; i++ {
		m := textMsg("s1", "alice", strings.Repeat("word ", 10), now.Add(-time.Duration(10-i)*time.Minute))
		m.IsClear = true
		f.save(m)
	}
	current := textMsg("s1", "alice", "so?", now)

	got, err := f.history.Recall(context.Background(), domain.Batch{current})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if got != "summary of earlier chat" {
		t.Errorf("Expected compressed history, got %q", got)
	}

	calls := f.model.callsFor(f.config.ConsiderModel)
	if len(calls) != 1 {
		t.Fatalf("Expected one helper call, got %d", len(calls))
	}
	prompt := calls[0].messages[0].Content
	if !strings.HasPrefix(prompt, "COMPRESS alice\n#") {
		t.Errorf("unexpected compress prompt %q", prompt)
	}
}

func TestHistory_CountsCharactersNotBytes(t *testing.T) {
	f := newFixture()
	now := time.Now()

	// 100 three-byte runes: under the threshold in characters, over it in bytes
	m := textMsg("s1", "bob", strings.Repeat("字", 100), now.Add(-time.Minute))
	m.IsClear = true
	f.save(m)

	got, err := f.history.Recall(context.Background(), domain.Batch{textMsg("s1", "bob", "?", now)})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if !strings.HasSuffix(got, strings.Repeat("字", 100)) {
		t.Errorf("Expected verbatim history, got %q", got)
	}
}

func TestSearch_NeedsSearchMatchesPositiveAnswer(t *testing.T) {
	cases := []struct {
		answer string
		want   bool
	}{
		{"YES", true},
		{"yes.", true},
		{"NO", false},
		{"", false},
		{"Maybe", false},
	}
	for _, tc := range cases {
		f := newFixture()
		f.model.decision = tc.answer
		got, err := f.searchUC.NeedsSearch(context.Background(), "q")
		if err != nil {
			t.Fatalf("NeedsSearch: %v", err)
		}
		if got != tc.want {
			t.Errorf("answer %q: got %v, want %v", tc.answer, got, tc.want)
		}
	}
}

func TestSearch_NoSearchBackendNeverSearches(t *testing.T) {
	f := newFixture()
	f.model.decision = "YES"
	uc := NewSearchUsecase(f.model, nil, testPrompts, f.config, f.history.logger)

	got, err := uc.NeedsSearch(context.Background(), "q")
	if err != nil || got {
		t.Errorf("Expected false without a search backend, got %v %v", got, err)
	}
	if len(f.model.calls) != 0 {
		t.Error("Expected no decision call without a search backend")
	}
}

func TestReply_Deliver(t *testing.T) {
	f := newFixture()

	reply, err := f.replies.Send(context.Background(), "s1", "bot", "alice", "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := f.replies.Deliver(context.Background(), reply.ID); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(f.delivery.delivered) != 1 || f.delivery.delivered[0] != "s1: hello" {
		t.Errorf("unexpected deliveries %v", f.delivery.delivered)
	}

	if err := f.replies.Deliver(context.Background(), "missing"); err == nil {
		t.Error("Expected error for unknown reply")
	}
}
