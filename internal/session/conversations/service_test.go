package conversations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	errx "github.com/ragops-session/server/internal/core/error"
	"github.com/ragops-session/server/internal/metrics"
	"github.com/ragops-session/server/internal/session/model"
	"github.com/ragops-session/server/internal/session/repo"
	"github.com/ragops-session/server/internal/session/window"
	pkgsqlite "github.com/ragops-session/server/pkg/sqlite"
)

type fixture struct {
	svc   *Service
	store model.ConversationStore
	cache *repo.RedisHistoryCache
	mr    *miniredis.Miniredis
}

func newFixture(t *testing.T, policy window.Policy) *fixture {
	t.Helper()

	cfg := pkgsqlite.Config{Path: filepath.Join(t.TempDir(), "sessions.db"), BusyTimeout: time.Second}
	db, err := cfg.Open()
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sqlStore, err := repo.NewSQLiteConversationStore(context.Background(), db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	cache := repo.NewRedisHistoryCache(rdb, 0)

	store := repo.NewCachedConversationStore(sqlStore, cache)
	return &fixture{
		svc:   NewService(store, cache, policy, metrics.New()),
		store: store,
		cache: cache,
		mr:    mr,
	}
}

func sameJSON(t *testing.T, a, b any) bool {
	t.Helper()
	ja, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	jb, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.Equal(ja, jb)
}

func TestCreateEmpty(t *testing.T) {
	f := newFixture(t, window.Policy{})
	ctx := context.Background()

	sum, err := f.svc.Create(ctx, "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sum.ConversationID == "" || sum.OwnerID != model.DefaultOwner || sum.MessageCount != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	h, err := f.svc.History(ctx, sum.ConversationID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if h.TotalMessages != 0 || len(h.Messages) != 0 || h.TotalTokens != 0 {
		t.Fatalf("unexpected history: %+v", h)
	}
}

func TestAppendThenHistory(t *testing.T) {
	f := newFixture(t, window.Policy{})
	ctx := context.Background()
	sum, _ := f.svc.Create(ctx, "", "")

	msg, err := f.svc.Append(ctx, sum.ConversationID, "user", "hello", "")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if msg.Role != "USER" {
		t.Fatalf("role = %q, want USER", msg.Role)
	}

	h, err := f.svc.History(ctx, sum.ConversationID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if h.TotalMessages != 1 {
		t.Fatalf("totalMessages = %d, want 1", h.TotalMessages)
	}
	got := h.Messages[0]
	if got.ID != msg.ID || got.Role != "USER" || got.Content != "hello" || !got.Timestamp.Equal(msg.Timestamp) {
		t.Fatalf("history message = %+v, appended %+v", got, msg)
	}
}

func TestAppendValidation(t *testing.T) {
	f := newFixture(t, window.Policy{})
	ctx := context.Background()
	sum, _ := f.svc.Create(ctx, "", "")

	tests := []struct {
		name    string
		id      string
		role    string
		content string
		want    errx.Code
	}{
		{"bad role", sum.ConversationID, "system", "hi", errx.CodeValidationFailed},
		{"blank content", sum.ConversationID, "USER", "   ", errx.CodeValidationFailed},
		{"unknown conversation", "missing", "USER", "hi", errx.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Append(ctx, tt.id, tt.role, tt.content, "")
			if got := errx.From(err); got == nil || got.Code != tt.want {
				t.Fatalf("err = %v, want code %s", err, tt.want)
			}
		})
	}
}

func TestSlidingWindowOverManyPairs(t *testing.T) {
	f := newFixture(t, window.Policy{Window: 10, MaxTokens: 4000})
	ctx := context.Background()
	sum, _ := f.svc.Create(ctx, "", "")
	id := sum.ConversationID

	for i := 1; i <= 25; i++ {
		if _, err := f.svc.Append(ctx, id, "USER", "question "+strings.Repeat("x", i), ""); err != nil {
			t.Fatalf("append user %d: %v", i, err)
		}
		if _, err := f.svc.Append(ctx, id, "ASSISTANT", "answer", ""); err != nil {
			t.Fatalf("append assistant %d: %v", i, err)
		}

		h, err := f.svc.History(ctx, id)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		want := 2 * i
		if i >= 11 {
			want = 20
		}
		if h.TotalMessages != want {
			t.Fatalf("after pair %d: %d messages, want %d", i, h.TotalMessages, want)
		}
	}

	h, _ := f.svc.History(ctx, id)
	if h.Messages[0].Content != "question "+strings.Repeat("x", 16) {
		t.Fatalf("oldest retained = %q", h.Messages[0].Content)
	}
}

func TestTokenLimitLeavesStoreUntouched(t *testing.T) {
	f := newFixture(t, window.Policy{Window: 10, MaxTokens: 5})
	ctx := context.Background()
	sum, _ := f.svc.Create(ctx, "", "")
	id := sum.ConversationID

	if _, err := f.svc.Append(ctx, id, "USER", "one two three", ""); err != nil {
		t.Fatalf("append: %v", err)
	}
	before, _ := f.svc.History(ctx, id)

	_, err := f.svc.Append(ctx, id, "ASSISTANT", "four five six", "")
	if !errors.Is(err, errx.ErrTokenLimitExceeded) {
		t.Fatalf("expected token limit error, got %v", err)
	}

	after, err := f.svc.History(ctx, id)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !sameJSON(t, before, after) {
		t.Fatalf("history changed after rejected append")
	}

	conv, _ := f.store.GetWithTurns(ctx, id)
	if len(conv.Turns) != 1 {
		t.Fatalf("store holds %d turns, want 1", len(conv.Turns))
	}
}

func TestHistoryReadThroughAndInvalidation(t *testing.T) {
	f := newFixture(t, window.Policy{})
	ctx := context.Background()
	sum, _ := f.svc.Create(ctx, "", "")
	id := sum.ConversationID
	key := "conversation:" + id + ":history"

	first, err := f.svc.History(ctx, id)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !f.mr.Exists(key) {
		t.Fatalf("history was not cached")
	}
	second, _ := f.svc.History(ctx, id)
	if !sameJSON(t, first, second) {
		t.Fatalf("repeated reads differ")
	}

	if _, err := f.svc.Append(ctx, id, "USER", "hello", ""); err != nil {
		t.Fatalf("append: %v", err)
	}
	if f.mr.Exists(key) {
		t.Fatalf("append did not invalidate the cache")
	}
	h, _ := f.svc.History(ctx, id)
	if h.TotalMessages != 1 {
		t.Fatalf("stale history after append")
	}
}

func TestHistoryDegradesWhenCacheFails(t *testing.T) {
	f := newFixture(t, window.Policy{})
	ctx := context.Background()
	sum, _ := f.svc.Create(ctx, "", "")

	f.mr.SetError("cache unavailable")
	h, err := f.svc.History(ctx, sum.ConversationID)
	if err != nil {
		t.Fatalf("history with failing cache: %v", err)
	}
	if h.ConversationID != sum.ConversationID {
		t.Fatalf("unexpected history: %+v", h)
	}
}

func TestDeleteAndList(t *testing.T) {
	f := newFixture(t, window.Policy{})
	ctx := context.Background()

	a, _ := f.svc.Create(ctx, "dana", "")
	b, _ := f.svc.Create(ctx, "dana", "")

	list, err := f.svc.List(ctx, "dana")
	if err != nil || len(list) != 2 {
		t.Fatalf("list = %v, %v", list, err)
	}

	if err := f.svc.Delete(ctx, a.ConversationID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.svc.History(ctx, a.ConversationID); !errx.IsNotFound(err) {
		t.Fatalf("history after delete = %v", err)
	}
	if err := f.svc.Delete(ctx, a.ConversationID); !errx.IsNotFound(err) {
		t.Fatalf("second delete = %v", err)
	}

	list, _ = f.svc.List(ctx, "dana")
	if len(list) != 1 || list[0].ConversationID != b.ConversationID {
		t.Fatalf("list after delete = %+v", list)
	}
}

// racingStore commits a write right after every load, as a concurrent
// request finishing between the load and the cache write would.
type racingStore struct {
	model.ConversationStore
	writes int
}

func (r *racingStore) GetWithTurns(ctx context.Context, id string) (*model.Conversation, error) {
	loaded, err := r.ConversationStore.GetWithTurns(ctx, id)
	if err != nil || r.writes > 0 {
		return loaded, err
	}
	r.writes++

	conv, err := r.ConversationStore.GetWithTurns(ctx, id)
	if err != nil {
		return nil, err
	}
	r.ConversationStore.AppendTurn(conv, model.RoleUser, "concurrent", "")
	if err := r.ConversationStore.Save(ctx, conv); err != nil {
		return nil, err
	}
	return loaded, nil
}

func TestHistoryDoesNotCacheStaleRead(t *testing.T) {
	f := newFixture(t, window.Policy{})
	ctx := context.Background()
	sum, _ := f.svc.Create(ctx, "", "")
	id := sum.ConversationID

	svc := NewService(&racingStore{ConversationStore: f.store}, f.cache, window.Policy{}, metrics.New())

	stale, err := svc.History(ctx, id)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if stale.TotalMessages != 0 {
		t.Fatalf("first read saw %d messages", stale.TotalMessages)
	}
	if f.mr.Exists("conversation:" + id + ":history") {
		t.Fatalf("stale history left in the cache")
	}

	fresh, err := svc.History(ctx, id)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if fresh.TotalMessages != 1 {
		t.Fatalf("second read saw %d messages, want 1", fresh.TotalMessages)
	}
}
