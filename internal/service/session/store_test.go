package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/practiva/assistant-backend/internal/model/chat"
	"github.com/practiva/assistant-backend/internal/storage"
)

// fakeKV implements storage.KV in memory with switchable failure modes.
type fakeKV struct {
	mu     sync.Mutex
	data   map[string]string
	failed bool
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]string)}
}

func (f *fakeKV) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed {
		return "", errors.New("kv unavailable")
	}
	val, ok := f.data[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return val, nil
}

func (f *fakeKV) SetEx(_ context.Context, key, value string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed {
		return errors.New("kv unavailable")
	}
	f.data[key] = value
	return nil
}

func (f *fakeKV) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed {
		return errors.New("kv unavailable")
	}
	delete(f.data, key)
	return nil
}

func (f *fakeKV) Keys(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed {
		return nil, errors.New("kv unavailable")
	}
	keys := make([]string, 0, len(f.data))
	for k := range f.data {
		if strings.HasPrefix(k, strings.TrimSuffix(prefix, "*")) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *fakeKV) Close() error { return nil }

func (f *fakeKV) fail(v bool) {
	f.mu.Lock()
	f.failed = v
	f.mu.Unlock()
}

func newTestStore(kv storage.KV) *Store {
	return NewStore(kv, time.Hour, time.Minute)
}

func TestCreateGetRoundtrip(t *testing.T) {
	store := newTestStore(newFakeKV())
	ctx := context.Background()

	id, err := store.Create(ctx, "web_assistant", map[string]any{"page_url": "/clients"}, "tok-1", "prof-1", "")
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}
	if id == "" {
		t.Fatal("Create returned empty id")
	}

	sess, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	if sess.Persona != "web_assistant" {
		t.Fatalf("unexpected persona: %s", sess.Persona)
	}
	if sess.Context["page_url"] != "/clients" {
		t.Fatalf("unexpected context: %v", sess.Context)
	}
	if sess.AuthToken != "tok-1" || sess.ProfileID != "prof-1" {
		t.Fatalf("auth/profile not persisted: %q %q", sess.AuthToken, sess.ProfileID)
	}
}

func TestCreateWithSuppliedID(t *testing.T) {
	store := newTestStore(newFakeKV())
	ctx := context.Background()

	id, err := store.Create(ctx, "web_assistant", nil, "", "", "client-known-id")
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}
	if id != "client-known-id" {
		t.Fatalf("expected supplied id back, got %s", id)
	}

	if _, err := store.Get(ctx, "client-known-id"); err != nil {
		t.Fatalf("Get err: %v", err)
	}
}

func TestCreateRequiresPersona(t *testing.T) {
	store := newTestStore(nil)

	if _, err := store.Create(context.Background(), "", nil, "", "", ""); !errors.Is(err, ErrPersonaRequired) {
		t.Fatalf("expected ErrPersonaRequired, got %v", err)
	}
}

func TestAddMessageAppendOnly(t *testing.T) {
	store := newTestStore(newFakeKV())
	ctx := context.Background()

	id, _ := store.Create(ctx, "web_assistant", nil, "", "", "")

	contents := []string{"hi", "hello there", "how can I help?"}
	roles := []chat.Role{chat.RoleUser, chat.RoleAssistant, chat.RoleUser}
	for i := range contents {
		msg, err := store.AddMessage(ctx, id, roles[i], contents[i])
		if err != nil {
			t.Fatalf("AddMessage err: %v", err)
		}
		if msg.ID == "" {
			t.Fatal("message missing id")
		}

		msgs, err := store.Messages(ctx, id, 0)
		if err != nil {
			t.Fatalf("Messages err: %v", err)
		}
		if len(msgs) != i+1 {
			t.Fatalf("expected %d messages, got %d", i+1, len(msgs))
		}
	}

	msgs, _ := store.Messages(ctx, id, 0)
	for i := range contents {
		if msgs[i].Content != contents[i] || msgs[i].Role != roles[i] {
			t.Fatalf("message %d out of order: %+v", i, msgs[i])
		}
	}
}

func TestMessagesLimit(t *testing.T) {
	store := newTestStore(newFakeKV())
	ctx := context.Background()

	id, _ := store.Create(ctx, "web_assistant", nil, "", "", "")
	for _, content := range []string{"a", "b", "c", "d"} {
		if _, err := store.AddMessage(ctx, id, chat.RoleUser, content); err != nil {
			t.Fatalf("AddMessage err: %v", err)
		}
	}

	msgs, err := store.Messages(ctx, id, 2)
	if err != nil {
		t.Fatalf("Messages err: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "c" || msgs[1].Content != "d" {
		t.Fatalf("expected most-recent window [c d], got %+v", msgs)
	}
}

func TestAddMessageMissingSession(t *testing.T) {
	store := newTestStore(newFakeKV())

	if _, err := store.AddMessage(context.Background(), "nope", chat.RoleUser, "hi"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestDurableFailureDegradesToCache(t *testing.T) {
	kv := newFakeKV()
	store := newTestStore(kv)
	ctx := context.Background()

	id, _ := store.Create(ctx, "web_assistant", nil, "", "", "")

	kv.fail(true)

	msg, err := store.AddMessage(ctx, id, chat.RoleUser, "still works")
	if err != nil {
		t.Fatalf("AddMessage should not surface durable-store errors: %v", err)
	}
	if msg == nil || msg.Content != "still works" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	sess, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get should fall back to cache: %v", err)
	}
	if len(sess.Messages) != 1 || sess.Messages[0].Content != "still works" {
		t.Fatalf("cache missing degraded write: %+v", sess.Messages)
	}
}

func TestGetPrefersDurableStore(t *testing.T) {
	kv := newFakeKV()
	store := newTestStore(kv)
	ctx := context.Background()

	id, _ := store.Create(ctx, "web_assistant", nil, "", "", "")

	// Simulate another instance having advanced the durable copy.
	sess, _ := store.Get(ctx, id)
	sess.Messages = append(sess.Messages, chat.Message{ID: "x", Role: chat.RoleUser, Content: "from elsewhere", Timestamp: time.Now().UTC()})
	data, _ := json.Marshal(sess)
	if err := kv.SetEx(ctx, keyPrefix+id, string(data), time.Hour); err != nil {
		t.Fatalf("seed kv: %v", err)
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "from elsewhere" {
		t.Fatalf("expected durable copy to win, got %+v", got.Messages)
	}
}

func TestUpdateContextMergesPatch(t *testing.T) {
	store := newTestStore(newFakeKV())
	ctx := context.Background()

	id, _ := store.Create(ctx, "web_assistant", map[string]any{"a": "1"}, "", "", "")
	if err := store.UpdateContext(ctx, id, map[string]any{"b": "2"}); err != nil {
		t.Fatalf("UpdateContext err: %v", err)
	}

	sess, _ := store.Get(ctx, id)
	if sess.Context["a"] != "1" || sess.Context["b"] != "2" {
		t.Fatalf("patch not merged: %v", sess.Context)
	}
}

func TestUpdateAuthToken(t *testing.T) {
	store := newTestStore(newFakeKV())
	ctx := context.Background()

	id, _ := store.Create(ctx, "web_assistant", nil, "old", "", "")
	if err := store.UpdateAuthToken(ctx, id, "new"); err != nil {
		t.Fatalf("UpdateAuthToken err: %v", err)
	}

	sess, _ := store.Get(ctx, id)
	if sess.AuthToken != "new" {
		t.Fatalf("token not updated: %q", sess.AuthToken)
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(newFakeKV())
	ctx := context.Background()

	id, _ := store.Create(ctx, "web_assistant", nil, "", "", "")
	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("Delete err: %v", err)
	}
	if _, err := store.Get(ctx, id); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, id); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on double delete, got %v", err)
	}
}

func TestCountActiveAndSweep(t *testing.T) {
	// Cache-only store: CountActive and expiry both run against the local map.
	store := NewStore(nil, 50*time.Millisecond, time.Minute)
	ctx := context.Background()

	fresh, _ := store.Create(ctx, "web_assistant", nil, "", "", "")
	stale, _ := store.Create(ctx, "web_assistant", nil, "", "", "")

	if got := store.CountActive(ctx); got != 2 {
		t.Fatalf("expected 2 active, got %d", got)
	}

	// Age the stale session past the timeout, keep the fresh one warm.
	time.Sleep(60 * time.Millisecond)
	if err := store.UpdateActivity(ctx, fresh); err != nil {
		t.Fatalf("UpdateActivity err: %v", err)
	}

	store.sweepExpired()

	if got := store.CountActive(ctx); got != 1 {
		t.Fatalf("expected 1 active after sweep, got %d", got)
	}
	if _, err := store.Get(ctx, stale); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("stale session should be gone, got %v", err)
	}
}

func TestCountActivePrefersDurableKeys(t *testing.T) {
	kv := newFakeKV()
	store := newTestStore(kv)
	ctx := context.Background()

	store.Create(ctx, "web_assistant", nil, "", "", "")
	store.Create(ctx, "web_assistant", nil, "", "", "")

	if got := store.CountActive(ctx); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}

	kv.fail(true)
	if got := store.CountActive(ctx); got != 2 {
		t.Fatalf("expected local fallback count 2, got %d", got)
	}
}
