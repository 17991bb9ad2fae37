package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func allowAllPage() PageContext {
	return PageContext{
		Type:         "transcribe_page",
		Capabilities: []string{"set_client_selection", "load_session_direct", "set_selected_template"},
	}
}

func newBuiltinRegistry() *Registry {
	r := NewRegistry()
	for _, c := range Builtins() {
		r.Register(c)
	}
	return r
}

func TestExecuteUnknownCapability(t *testing.T) {
	r := newBuiltinRegistry()

	res := r.Execute(context.Background(), "s1", "no_such_tool", nil)
	if res.Status != StatusError {
		t.Fatalf("expected error result, got %+v", res)
	}
	if !strings.Contains(res.Err, "no_such_tool") {
		t.Fatalf("error should name the tool: %q", res.Err)
	}
}

func TestClientSelectionEmitsUIAction(t *testing.T) {
	r := newBuiltinRegistry()
	r.SetPageContext(allowAllPage())

	res := r.Execute(context.Background(), "s1", "set_client_selection", map[string]any{
		"client_id":   "11111111-2222-3333-4444-555555555555",
		"client_name": "Jane Doe",
	})
	if res.Status != StatusOK {
		t.Fatalf("unexpected status: %+v", res)
	}

	action, ok := res.Data["ui_action"].(map[string]any)
	if !ok {
		t.Fatalf("missing ui_action: %v", res.Data)
	}
	if action["type"] != "set_client_selection" {
		t.Fatalf("unexpected action type: %v", action["type"])
	}
	payload := action["payload"].(map[string]any)
	if payload["clientName"] != "Jane Doe" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestBlockedOnWrongPage(t *testing.T) {
	r := newBuiltinRegistry()
	r.SetPageContext(PageContext{Type: "clients_list"}) // no capabilities

	res := r.Execute(context.Background(), "s1", "load_session_direct", map[string]any{
		"session_id":  "sess-1",
		"client_id":   "client-1",
		"client_name": "Jane Doe",
	})
	if res.Status != StatusOK {
		t.Fatalf("navigation hint should not be an error: %+v", res)
	}
	if res.Data["status"] != "navigation_required" {
		t.Fatalf("expected navigation_required, got %v", res.Data["status"])
	}
	if _, hasAction := res.Data["ui_action"]; hasAction {
		t.Fatal("blocked call must not emit a ui_action")
	}
}

func TestUnknownPageBlocksNothing(t *testing.T) {
	r := newBuiltinRegistry()
	// No page context installed at all.

	res := r.Execute(context.Background(), "s1", "set_selected_template", map[string]any{
		"template_id":   "tpl-1",
		"template_name": "Progress Note",
	})
	if res.Data["status"] != "ui_action_requested" {
		t.Fatalf("expected ui_action_requested, got %v", res.Data["status"])
	}
}

func TestMissingArgsAreErrorResults(t *testing.T) {
	r := newBuiltinRegistry()
	r.SetPageContext(allowAllPage())

	res := r.Execute(context.Background(), "s1", "set_client_selection", map[string]any{})
	if res.Status != StatusError {
		t.Fatalf("expected error result, got %+v", res)
	}
}

func TestResultSerialize(t *testing.T) {
	data := DataResult(map[string]any{"count": 2}).Serialize()
	var decoded map[string]any
	if err := json.Unmarshal([]byte(data), &decoded); err != nil {
		t.Fatalf("data result should serialize as JSON: %v", err)
	}

	if got := TextResult("plain").Serialize(); got != "plain" {
		t.Fatalf("text result should pass through, got %q", got)
	}

	errOut := ErrorResult("boom").Serialize()
	if err := json.Unmarshal([]byte(errOut), &decoded); err != nil || decoded["error"] != "boom" {
		t.Fatalf("error result should serialize as {error}: %q", errOut)
	}
}

func TestSchemasFilterAndOrder(t *testing.T) {
	r := newBuiltinRegistry()

	all := r.Schemas(nil)
	if len(all) != 3 {
		t.Fatalf("expected 3 builtin schemas, got %d", len(all))
	}

	subset := r.Schemas([]string{"set_selected_template", "set_client_selection"})
	if len(subset) != 2 {
		t.Fatalf("expected 2 schemas, got %d", len(subset))
	}
	if subset[0].Name != "set_selected_template" || subset[1].Name != "set_client_selection" {
		t.Fatalf("schema order should follow the requested names: %s, %s", subset[0].Name, subset[1].Name)
	}
}
