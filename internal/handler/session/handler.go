// Package session serves the REST session surface: lifecycle endpoints, the
// non-streaming chat endpoint, and the health probe.
package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/practiva/assistant-backend/internal/model/persona"
	"github.com/practiva/assistant-backend/internal/service/agent"
	"github.com/practiva/assistant-backend/internal/service/registry"
	sessionService "github.com/practiva/assistant-backend/internal/service/session"
	"github.com/practiva/assistant-backend/pkg/utils"
)

// Handler exposes session management over HTTP.
type Handler struct {
	store    *sessionService.Store
	personas persona.Store
	loop     *agent.Loop
	registry *registry.Registry
}

// New creates the session handler.
func New(store *sessionService.Store, personas persona.Store, loop *agent.Loop, reg *registry.Registry) *Handler {
	return &Handler{
		store:    store,
		personas: personas,
		loop:     loop,
		registry: reg,
	}
}

// RegisterRoutes registers session routes under the API group.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions/{sessionID}/messages", h.handleGetMessages)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
	r.Post("/chat", h.handleChat)
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PersonaType string         `json:"persona_type"`
		Context     map[string]any `json:"context"`
		ProfileID   string         `json:"profile_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if payload.PersonaType == "" {
		utils.RespondError(w, http.StatusBadRequest, "persona_type is required")
		return
	}
	if _, ok := h.personas.FindByID(payload.PersonaType); !ok {
		utils.RespondError(w, http.StatusBadRequest, "persona not found")
		return
	}

	authToken := bearerToken(r)

	id, err := h.store.Create(r.Context(), payload.PersonaType, payload.Context, authToken, payload.ProfileID, "")
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sess, err := h.store.Get(r.Context(), id)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, map[string]any{
		"session_id":   sess.ID,
		"persona_type": sess.Persona,
		"created_at":   sess.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			utils.RespondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	messages, err := h.store.Messages(r.Context(), sessionID, limit)
	if err != nil {
		if errors.Is(err, sessionService.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   messages,
	})
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.store.Delete(r.Context(), sessionID); err != nil {
		if errors.Is(err, sessionService.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "session deleted"})
}

// handleChat runs one full turn and returns the complete response: the
// streaming loop drives it, this endpoint just drains the fragments.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID   string         `json:"session_id"`
		Message     string         `json:"message"`
		PersonaType string         `json:"persona_type"`
		Context     map[string]any `json:"context"`
		ProfileID   string         `json:"profile_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}

	authToken := bearerToken(r)

	sessionID := payload.SessionID
	if sessionID == "" {
		personaType := payload.PersonaType
		if personaType == "" {
			personaType = persona.Seed()[0].ID
		}
		id, err := h.store.Create(r.Context(), personaType, payload.Context, authToken, payload.ProfileID, "")
		if err != nil {
			utils.RespondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		sessionID = id
	}

	queue := agent.NewQueue()
	var full strings.Builder
	for fragment := range h.loop.Run(r.Context(), agent.TurnRequest{
		SessionID:   sessionID,
		PersonaID:   payload.PersonaType,
		UserMessage: payload.Message,
		Context:     payload.Context,
		AuthToken:   authToken,
		ProfileID:   payload.ProfileID,
		Queue:       queue,
	}) {
		full.WriteString(fragment)
	}

	messageID := ""
	if messages, err := h.store.Messages(r.Context(), sessionID, 1); err == nil && len(messages) > 0 {
		messageID = messages[len(messages)-1].ID
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"response":   full.String(),
		"session_id": sessionID,
		"message_id": messageID,
		"ui_actions": queue.PopAll(),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleHealth reports service liveness plus basic load figures.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service_info": map[string]any{
			"active_sessions":              h.store.CountActive(r.Context()),
			"active_websocket_connections": h.registry.ConnectionCount(),
		},
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
