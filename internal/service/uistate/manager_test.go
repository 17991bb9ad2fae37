package uistate

import (
	"context"
	"testing"
	"time"

	"github.com/practiva/assistant-backend/internal/storage"
)

type fakeKV struct {
	data map[string]string
	fail bool
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]string)}
}

func (f *fakeKV) Get(_ context.Context, key string) (string, error) {
	if f.fail {
		return "", errFailed
	}
	v, ok := f.data[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (f *fakeKV) SetEx(_ context.Context, key, value string, _ time.Duration) error {
	if f.fail {
		return errFailed
	}
	f.data[key] = value
	return nil
}

func (f *fakeKV) Del(_ context.Context, key string) error {
	if f.fail {
		return errFailed
	}
	delete(f.data, key)
	return nil
}

func (f *fakeKV) Keys(_ context.Context, _ string) ([]string, error) {
	if f.fail {
		return nil, errFailed
	}
	keys := make([]string, 0, len(f.data))
	for k := range f.data {
		keys = append(keys, k)
	}
	return keys, nil
}

func (f *fakeKV) Close() error { return nil }

var errFailed = &kvError{"kv unavailable"}

type kvError struct{ msg string }

func (e *kvError) Error() string { return e.msg }

func TestUpdateAndState(t *testing.T) {
	m := NewManager(newFakeKV())
	ctx := context.Background()

	m.Update(ctx, "s1", map[string]any{"currentClient": map[string]any{"clientId": "c-1"}}, "")

	state := m.State(ctx, "s1")
	if _, ok := state["currentClient"]; !ok {
		t.Fatal("snapshot lost currentClient")
	}
	if state["session_id"] != "s1" {
		t.Fatalf("snapshot missing session id: %v", state)
	}
	if _, ok := state["last_updated"]; !ok {
		t.Fatal("snapshot missing last_updated")
	}
}

func TestAuthTokenCaptured(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	m.Update(ctx, "s1", map[string]any{}, "token-1")
	if got := m.AuthToken("s1"); got != "token-1" {
		t.Fatalf("auth token not captured: %q", got)
	}

	// An update without a token keeps the previous one.
	m.Update(ctx, "s1", map[string]any{}, "")
	if got := m.AuthToken("s1"); got != "token-1" {
		t.Fatalf("auth token lost on tokenless update: %q", got)
	}
}

func TestStateSurvivesStorageOutage(t *testing.T) {
	kv := newFakeKV()
	m := NewManager(kv)
	ctx := context.Background()

	kv.fail = true
	m.Update(ctx, "s1", map[string]any{"activeTab": map[string]any{"activeTabId": "notes"}}, "")

	state := m.State(ctx, "s1")
	if state["session_id"] != "s1" {
		t.Fatalf("local fallback missing snapshot: %v", state)
	}
}

func TestCleanupRemovesEverything(t *testing.T) {
	kv := newFakeKV()
	m := NewManager(kv)
	ctx := context.Background()

	m.Update(ctx, "s1", map[string]any{"x": 1}, "token-1")
	m.Cleanup(ctx, "s1")

	if got := m.AuthToken("s1"); got != "" {
		t.Fatalf("token survived cleanup: %q", got)
	}
	if state := m.State(ctx, "s1"); len(state) != 0 {
		t.Fatalf("state survived cleanup: %v", state)
	}
	if len(kv.data) != 0 {
		t.Fatalf("durable entry survived cleanup: %v", kv.data)
	}
}

func TestPageContextFromTranscribeURL(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	m.Update(ctx, "s1", map[string]any{
		"page_url":      "https://app.example.com/live-transcribe",
		"currentClient": map[string]any{"clientId": "c-7"},
	}, "")

	pc := m.PageContext(ctx, "s1")
	if pc.Type != "transcribe_page" {
		t.Fatalf("expected transcribe_page, got %q", pc.Type)
	}
	if pc.ClientID != "c-7" {
		t.Fatalf("client id not derived: %q", pc.ClientID)
	}
	for _, want := range []string{"set_client_selection", "load_session_direct"} {
		if !containsString(pc.Capabilities, want) {
			t.Fatalf("missing capability %q in %v", want, pc.Capabilities)
		}
	}
}

func TestPageContextFromExplicitType(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	m.Update(ctx, "s1", map[string]any{"pageType": "live-transcribe"}, "")

	pc := m.PageContext(ctx, "s1")
	if !containsString(pc.Capabilities, "set_client_selection") {
		t.Fatalf("sessions page capabilities missing: %v", pc.Capabilities)
	}
}

func TestPageContextCapabilitiesFromSnapshotContents(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	m.Update(ctx, "s1", map[string]any{
		"page_url":         "https://app.example.com/dashboard",
		"loadedSessions":   []any{map[string]any{"sessionId": "t-1"}},
		"selectedTemplate": map[string]any{"templateId": "tpl-1"},
	}, "")

	pc := m.PageContext(ctx, "s1")
	if !containsString(pc.Capabilities, "get_loaded_sessions") {
		t.Fatalf("loaded sessions capability missing: %v", pc.Capabilities)
	}
	if !containsString(pc.Capabilities, "set_selected_template") {
		t.Fatalf("template capability missing: %v", pc.Capabilities)
	}
	if containsString(pc.Capabilities, "set_client_selection") {
		t.Fatalf("dashboard should not allow client selection: %v", pc.Capabilities)
	}
}

func TestPageContextUnknownForEmptyState(t *testing.T) {
	m := NewManager(nil)
	pc := m.PageContext(context.Background(), "nobody")
	if pc.Type != "" || len(pc.Capabilities) != 0 {
		t.Fatalf("expected zero context for unknown session, got %+v", pc)
	}
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
