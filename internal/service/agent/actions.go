package agent

import "sync"

// UIAction is one frontend directive extracted from a tool result: a type tag
// plus arbitrary parameters, forwarded verbatim to connected clients.
type UIAction map[string]any

// Type returns the action's type tag, empty when absent.
func (a UIAction) Type() string {
	v, _ := a["type"].(string)
	return v
}

// Queue buffers the UI actions of a single turn. Tool execution adds, the
// transport layer drains once after the turn completes.
type Queue struct {
	mu      sync.Mutex
	actions []UIAction
}

// NewQueue returns an empty per-turn queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Add appends actions in order.
func (q *Queue) Add(actions ...UIAction) {
	if len(actions) == 0 {
		return
	}
	q.mu.Lock()
	q.actions = append(q.actions, actions...)
	q.mu.Unlock()
}

// PopAll returns every queued action and clears the queue.
func (q *Queue) PopAll() []UIAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	actions := q.actions
	q.actions = nil
	return actions
}

// Len reports the number of queued actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// ExtractUIActions pulls zero or more UI actions out of a structured tool
// result. The ui_action field is looked up at the top level first, then under
// the conventional "result" key. A single object yields one action, an array
// yields each object element. Anything missing or malformed yields none;
// extraction never fails the tool call.
func ExtractUIActions(data map[string]any) []UIAction {
	if data == nil {
		return nil
	}

	raw, ok := data["ui_action"]
	if !ok {
		nested, isMap := data["result"].(map[string]any)
		if !isMap {
			return nil
		}
		raw = nested["ui_action"]
	}

	switch v := raw.(type) {
	case map[string]any:
		return []UIAction{UIAction(v)}
	case []any:
		actions := make([]UIAction, 0, len(v))
		for _, elem := range v {
			if m, isMap := elem.(map[string]any); isMap {
				actions = append(actions, UIAction(m))
			}
		}
		return actions
	default:
		return nil
	}
}
