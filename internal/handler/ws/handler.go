// Package ws serves the streaming chat endpoint. One connection per upgrade;
// multiple connections may share a session, and responses fan out to all of
// them through the registry.
package ws

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/practiva/assistant-backend/internal/service/agent"
	"github.com/practiva/assistant-backend/internal/service/registry"
	"github.com/practiva/assistant-backend/internal/service/session"
	"github.com/practiva/assistant-backend/internal/service/tools"
	"github.com/practiva/assistant-backend/internal/service/uistate"
)

// Handler upgrades chat connections and drives turns against the agent loop.
type Handler struct {
	store    *session.Store
	registry *registry.Registry
	loop     *agent.Loop
	uiState  *uistate.Manager
	tools    PageContextSink
	upgrader websocket.Upgrader
}

// PageContextSink receives the page context derived before each turn.
type PageContextSink interface {
	SetPageContext(page tools.PageContext)
}

// New creates the WebSocket handler.
func New(store *session.Store, reg *registry.Registry, loop *agent.Loop, uiState *uistate.Manager, sink PageContextSink) *Handler {
	return &Handler{
		store:    store,
		registry: reg,
		loop:     loop,
		uiState:  uiState,
		tools:    sink,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes registers the WebSocket route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type        string         `json:"type"`
	Message     string         `json:"message,omitempty"`
	PersonaType string         `json:"persona_type,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	AuthToken   string         `json:"auth_token,omitempty"`
	ProfileID   string         `json:"profile_id,omitempty"`
	State       map[string]any `json:"state,omitempty"`
	// Timestamp is echoed back verbatim in heartbeat_ack; clients send it as
	// either a string or a number.
	Timestamp any `json:"timestamp,omitempty"`
}

// wsChannel adapts a websocket connection to the registry's Channel contract.
// gorilla connections allow one concurrent writer, so writes serialize here.
type wsChannel struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsChannel) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// send is for direct replies on this connection, where a write failure only
// needs a log line; the read loop will notice the dead socket on its own.
func send(ch *wsChannel, v any) {
	if err := ch.Send(v); err != nil {
		log.Printf("[ws] write failed: %v", err)
	}
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "sessionID is required", http.StatusBadRequest)
		return
	}

	queryToken := r.URL.Query().Get("token")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	connectionID := fmt.Sprintf("%s_%d", sessionID, time.Now().UnixNano())
	channel := &wsChannel{conn: conn}
	h.registry.Connect(sessionID, connectionID, channel)
	defer h.registry.Disconnect(sessionID, connectionID)

	log.Printf("[ws] new connection %s for session %s", connectionID, sessionID)

	send(channel, map[string]any{
		"type":          "connection_established",
		"session_id":    sessionID,
		"connection_id": connectionID,
	})

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.pingLoop(ctx, channel, conn)

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[ws] read error on %s: %v", connectionID, err)
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		switch msg.Type {
		case "chat_message":
			h.handleChatMessage(ctx, sessionID, queryToken, &msg)
		case "ui_state_update":
			h.uiState.Update(ctx, sessionID, msg.State, msg.AuthToken)
		case "heartbeat":
			h.handleHeartbeat(ctx, sessionID, channel, msg.Timestamp)
		case "ping":
			send(channel, map[string]any{"type": "pong"})
		default:
			send(channel, map[string]any{
				"type":  "error",
				"error": "unsupported message type: " + msg.Type,
			})
		}
	}
}

// handleChatMessage runs one turn. The turn is detached from the connection
// context so a mid-stream disconnect does not abandon the response for the
// session's other connections.
func (h *Handler) handleChatMessage(ctx context.Context, sessionID, queryToken string, msg *inboundMessage) {
	token, profileID := h.resolveAuth(ctx, sessionID, msg, queryToken)

	h.tools.SetPageContext(h.uiState.PageContext(ctx, sessionID))

	queue := agent.NewQueue()
	req := agent.TurnRequest{
		SessionID:   sessionID,
		PersonaID:   msg.PersonaType,
		UserMessage: msg.Message,
		Context:     msg.Context,
		AuthToken:   token,
		ProfileID:   profileID,
		Queue:       queue,
	}

	turnCtx := context.WithoutCancel(ctx)

	go func() {
		h.registry.Broadcast(sessionID, map[string]any{
			"type":   "typing",
			"typing": true,
		})

		full := ""
		for fragment := range h.loop.Run(turnCtx, req) {
			full += fragment
			h.registry.Broadcast(sessionID, map[string]any{
				"type":         "message_chunk",
				"content":      fragment,
				"full_content": full,
			})
		}

		variant := msg.PersonaType
		if variant == "" {
			variant = "web_assistant"
		}
		for _, action := range queue.PopAll() {
			h.registry.Broadcast(sessionID, map[string]any{
				"type":    "ui_action",
				"action":  map[string]any(action),
				"variant": variant,
			})
		}

		h.registry.Broadcast(sessionID, map[string]any{
			"type":         "message_complete",
			"full_content": full,
			"typing":       false,
		})
	}()
}

// resolveAuth picks the credential for this turn: the session's stored token
// wins, else the message payload, else the connection's query parameter. A
// newly seen token is written back to the session.
func (h *Handler) resolveAuth(ctx context.Context, sessionID string, msg *inboundMessage, queryToken string) (string, string) {
	profileID := msg.ProfileID

	sess, err := h.store.Get(ctx, sessionID)
	if err == nil && sess.AuthToken != "" {
		return sess.AuthToken, profileID
	}

	token := msg.AuthToken
	if token == "" {
		token = queryToken
	}
	if token == "" {
		token = h.uiState.AuthToken(sessionID)
	}

	if token != "" {
		if err := h.store.UpdateAuthToken(ctx, sessionID, token); err != nil {
			log.Printf("[ws] failed to store auth token for %s: %v", sessionID, err)
		}
	} else {
		log.Printf("[ws] no auth token available for session %s", sessionID)
	}
	return token, profileID
}

func (h *Handler) handleHeartbeat(ctx context.Context, sessionID string, channel *wsChannel, timestamp any) {
	if err := h.store.UpdateActivity(ctx, sessionID); err != nil {
		log.Printf("[ws] heartbeat activity refresh failed for %s: %v", sessionID, err)
	}
	send(channel, map[string]any{
		"type":        "heartbeat_ack",
		"timestamp":   timestamp,
		"server_time": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) pingLoop(ctx context.Context, channel *wsChannel, conn *websocket.Conn) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			channel.mu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			channel.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
