package data

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/domain"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "chatflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMessageRepo_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	r := NewMessageRepo(openTestDB(t))

	created := time.Now().Truncate(time.Millisecond)
	msg := &domain.Message{
		Type:       domain.MessageTypePic,
		Content:    "photo.png",
		From:       "alice",
		To:         "bot",
		SessionKey: "s1",
		IsGroup:    true,
		CreatedAt:  created,
		Extra: &domain.MessageExtra{
			Meta:  map[string]any{"real_pixels": "800*600"},
			Bytes: []byte{0xff, 0xd8, 0xff},
		},
	}
	require.NoError(t, r.Save(ctx, msg))
	require.NotEmpty(t, msg.ID, "store assigns an id")

	got, err := r.Get(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, domain.MessageTypePic, got.Type)
	assert.Equal(t, "alice", got.From)
	assert.Equal(t, "bot", got.To)
	assert.True(t, got.IsGroup)
	assert.False(t, got.IsClear)
	assert.True(t, created.Equal(got.CreatedAt))
	require.NotNil(t, got.Extra)
	assert.Equal(t, "800*600", got.Extra.Meta["real_pixels"])
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, got.Extra.Bytes)
}

func TestMessageRepo_GetMissing(t *testing.T) {
	r := NewMessageRepo(openTestDB(t))
	got, err := r.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMessageRepo_ListByIDsFollowsIDOrder(t *testing.T) {
	ctx := context.Background()
	r := NewMessageRepo(openTestDB(t))

	base := time.Now()
	second := &domain.Message{Type: domain.MessageTypeText, Content: "second", SessionKey: "s1", CreatedAt: base.Add(time.Second)}
	first := &domain.Message{Type: domain.MessageTypeText, Content: "first", SessionKey: "s1", CreatedAt: base}
	other := &domain.Message{Type: domain.MessageTypeText, Content: "other", SessionKey: "s1", CreatedAt: base}
	require.NoError(t, r.Save(ctx, second))
	require.NoError(t, r.Save(ctx, first))
	require.NoError(t, r.Save(ctx, other))

	got, err := r.ListByIDs(ctx, []string{first.ID, "missing", second.ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Content)
	assert.Equal(t, "second", got[1].Content)
	assert.Nil(t, got[0].Extra)

	empty, err := r.ListByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMessageRepo_ListByIDsSameMillisecond(t *testing.T) {
	ctx := context.Background()
	r := NewMessageRepo(openTestDB(t))

	base := time.Now().Truncate(time.Millisecond)
	var ids, want []string
	for i := 0; i < 8; i++ {
		content := string(rune('a' + i))
		msg := &domain.Message{
			Type:       domain.MessageTypeText,
			Content:    content,
			SessionKey: "s1",
			CreatedAt:  base.Add(time.Duration(i) * 100 * time.Microsecond),
		}
		require.NoError(t, r.Save(ctx, msg))
		ids = append(ids, msg.ID)
		want = append(want, content)
	}

	got, err := r.ListByIDs(ctx, ids)
	require.NoError(t, err)
	var contents []string
	for _, m := range got {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, want, contents)
}

func TestMessageRepo_ListRecentAndMarkCleared(t *testing.T) {
	ctx := context.Background()
	r := NewMessageRepo(openTestDB(t))

	now := time.Now()
	old := &domain.Message{Type: domain.MessageTypeText, Content: "old", SessionKey: "s1", CreatedAt: now.Add(-time.Hour)}
	recent := &domain.Message{Type: domain.MessageTypeText, Content: "recent", SessionKey: "s1", CreatedAt: now.Add(-time.Minute)}
	elsewhere := &domain.Message{Type: domain.MessageTypeText, Content: "elsewhere", SessionKey: "s2", CreatedAt: now}
	for _, m := range []*domain.Message{old, recent, elsewhere} {
		require.NoError(t, r.Save(ctx, m))
	}

	got, err := r.ListRecent(ctx, "s1", now.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, got, "messages without the clear marker are not history")

	require.NoError(t, r.MarkCleared(ctx, "s1"))

	got, err = r.ListRecent(ctx, "s1", now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "recent", got[0].Content)
	assert.True(t, got[0].IsClear)

	other, err := r.Get(ctx, elsewhere.ID)
	require.NoError(t, err)
	assert.False(t, other.IsClear, "other sessions are untouched")
}

func TestCompletionRepo_SaveAndList(t *testing.T) {
	ctx := context.Background()
	r := NewCompletionRepo(openTestDB(t))

	begin := time.Now().Add(-2 * time.Second).Truncate(time.Millisecond)
	for i, text := range []string{"first", "second"} {
		c := domain.NewCompletion(
			[]domain.ChatMessage{{Role: domain.RoleUser, Content: "q"}},
			&domain.ModelResult{
				Text:  text,
				Usage: domain.Usage{PromptTokens: 10, CompletionTokens: 2},
				Raw:   json.RawMessage(`{"id":"x"}`),
			},
			begin.Add(time.Duration(i)*time.Second), begin.Add(time.Duration(i)*time.Second+500*time.Millisecond), "alice")
		require.NoError(t, r.Save(ctx, c))
		require.NotEmpty(t, c.ID)
	}

	got, err := r.ListByRequester(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[0].Result, "newest first")
	assert.Equal(t, 10, got[0].PromptTokens)
	assert.Equal(t, domain.RoleUser, got[0].Request[0].Role)
	assert.JSONEq(t, `{"id":"x"}`, string(got[0].Response))
	assert.Equal(t, 500*time.Millisecond, got[0].Duration())

	none, err := r.ListByRequester(ctx, "bob", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRebind(t *testing.T) {
	pg := &DB{postgres: true}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)", pg.rebind("SELECT * FROM t WHERE a = ? AND b IN ("+placeholders(2)+")"))

	lite := &DB{}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}
