// Package uistate stores frontend UI snapshots so capabilities can see what
// the user currently has on screen: loaded sessions, selected client, active
// tab, selected template.
package uistate

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/practiva/assistant-backend/internal/service/tools"
	"github.com/practiva/assistant-backend/internal/storage"
)

const (
	keyPrefix = "ui_state:"
	stateTTL  = 24 * time.Hour
)

// Manager keeps one UI snapshot per session. Snapshots go to durable storage
// when it is available and always to the local map, so a storage outage never
// blinds the capabilities.
type Manager struct {
	kv storage.KV

	mu     sync.RWMutex
	states map[string]map[string]any
	tokens map[string]string
}

// NewManager creates a Manager; kv may be nil for cache-only operation.
func NewManager(kv storage.KV) *Manager {
	return &Manager{
		kv:     kv,
		states: make(map[string]map[string]any),
		tokens: make(map[string]string),
	}
}

// Update replaces the stored snapshot for a session. The auth token, when
// present, is captured for tool authentication.
func (m *Manager) Update(ctx context.Context, sessionID string, state map[string]any, authToken string) {
	if state == nil {
		state = map[string]any{}
	}

	snapshot := make(map[string]any, len(state)+2)
	for k, v := range state {
		snapshot[k] = v
	}
	snapshot["session_id"] = sessionID
	snapshot["last_updated"] = time.Now().UTC().Format(time.RFC3339)

	m.mu.Lock()
	m.states[sessionID] = snapshot
	if authToken != "" {
		m.tokens[sessionID] = authToken
	}
	m.mu.Unlock()

	if m.kv != nil {
		data, err := json.Marshal(snapshot)
		if err != nil {
			log.Printf("[uistate] failed to encode state for %s: %v", sessionID, err)
			return
		}
		if err := m.kv.SetEx(ctx, keyPrefix+sessionID, string(data), stateTTL); err != nil {
			log.Printf("[uistate] durable write failed for %s: %v", sessionID, err)
		}
	}
}

// State returns the latest snapshot for a session, or an empty map.
func (m *Manager) State(ctx context.Context, sessionID string) map[string]any {
	if m.kv != nil {
		data, err := m.kv.Get(ctx, keyPrefix+sessionID)
		if err == nil {
			var state map[string]any
			if jsonErr := json.Unmarshal([]byte(data), &state); jsonErr == nil {
				return state
			}
		} else if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("[uistate] durable read failed for %s: %v", sessionID, err)
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if state, ok := m.states[sessionID]; ok {
		return state
	}
	return map[string]any{}
}

// AuthToken returns the most recent auth token captured for a session.
func (m *Manager) AuthToken(sessionID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens[sessionID]
}

// Cleanup drops the snapshot and token for a disconnected session.
func (m *Manager) Cleanup(ctx context.Context, sessionID string) {
	m.mu.Lock()
	delete(m.states, sessionID)
	delete(m.tokens, sessionID)
	m.mu.Unlock()

	if m.kv != nil {
		if err := m.kv.Del(ctx, keyPrefix+sessionID); err != nil {
			log.Printf("[uistate] durable delete failed for %s: %v", sessionID, err)
		}
	}
}

// PageContext derives the capability context from the session's snapshot.
// The page type and URL tell us whether the user sits on a transcription
// page; the snapshot's contents tell us which operations make sense there.
func (m *Manager) PageContext(ctx context.Context, sessionID string) tools.PageContext {
	state := m.State(ctx, sessionID)
	if len(state) == 0 {
		return tools.PageContext{}
	}

	pageURL := firstString(state, "page_url", "pageUrl", "route")
	pageType := firstString(state, "page_type", "pageType")

	sessionsPage := false
	switch pageType {
	case "transcribe_page", "sessions_page", "live_transcribe", "live-transcribe":
		sessionsPage = true
	}
	if !sessionsPage && pageURL != "" {
		sessionsPage = strings.Contains(pageURL, "/live-transcribe") || strings.Contains(pageURL, "/sessions")
	}

	var capabilities []string
	if loaded, ok := state["loadedSessions"].([]any); ok && len(loaded) > 0 {
		capabilities = append(capabilities,
			"get_loaded_sessions", "get_session_content",
			"analyze_loaded_session", "generate_document_from_loaded")
	}
	if _, ok := state["selectedTemplate"].(map[string]any); ok {
		capabilities = append(capabilities, "set_selected_template")
	}
	if sessionsPage {
		capabilities = append(capabilities,
			"set_client_selection", "load_session_direct", "load_multiple_sessions")
	}

	if pageType == "" {
		pageType = "unknown"
		if sessionsPage {
			pageType = "transcribe_page"
		}
	}

	pc := tools.PageContext{
		Type:         pageType,
		URL:          pageURL,
		ActiveTab:    activeTabID(state),
		Capabilities: capabilities,
	}
	if client, ok := state["currentClient"].(map[string]any); ok {
		pc.ClientID = firstString(client, "clientId", "client_id", "id")
	}
	return pc
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func activeTabID(state map[string]any) string {
	tab, ok := state["activeTab"].(map[string]any)
	if !ok {
		return ""
	}
	return firstString(tab, "activeTabId", "id")
}
