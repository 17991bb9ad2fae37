// Package handler wires HTTP routes to the core services.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	personaHandler "github.com/practiva/assistant-backend/internal/handler/persona"
	sessionHandler "github.com/practiva/assistant-backend/internal/handler/session"
	"github.com/practiva/assistant-backend/internal/handler/ws"
	middlewarePkg "github.com/practiva/assistant-backend/internal/middleware"
	personaModel "github.com/practiva/assistant-backend/internal/model/persona"
	"github.com/practiva/assistant-backend/internal/service/agent"
	"github.com/practiva/assistant-backend/internal/service/registry"
	sessionService "github.com/practiva/assistant-backend/internal/service/session"
	"github.com/practiva/assistant-backend/internal/service/uistate"
)

// NewRouter assembles the HTTP surface: the REST API under /api, the health
// probe, and the streaming WebSocket endpoint.
func NewRouter(
	personas personaModel.Store,
	store *sessionService.Store,
	reg *registry.Registry,
	loop *agent.Loop,
	uiStates *uistate.Manager,
	sink ws.PageContextSink,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	sessions := sessionHandler.New(store, personas, loop, reg)
	wsHandler := ws.New(store, reg, loop, uiStates, sink)

	r.Get("/health", sessions.HandleHealth)

	r.Route("/api", func(api chi.Router) {
		personaHandler.New(personas).RegisterRoutes(api)
		sessions.RegisterRoutes(api)
	})

	wsHandler.RegisterRoutes(r)

	return r
}
