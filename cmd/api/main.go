package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/practiva/assistant-backend/internal/config"
	"github.com/practiva/assistant-backend/internal/handler"
	"github.com/practiva/assistant-backend/internal/model/persona"
	"github.com/practiva/assistant-backend/internal/service/agent"
	"github.com/practiva/assistant-backend/internal/service/ai"
	"github.com/practiva/assistant-backend/internal/service/registry"
	"github.com/practiva/assistant-backend/internal/service/session"
	"github.com/practiva/assistant-backend/internal/service/tools"
	"github.com/practiva/assistant-backend/internal/service/uistate"
	"github.com/practiva/assistant-backend/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Durable store is optional: without it the service runs on the local
	// cache and loses sessions on restart.
	var kv storage.KV
	if cfg.Redis.URL != "" {
		redisKV, err := storage.NewRedisKV(ctx, cfg.Redis.URL)
		if err != nil {
			log.Printf("warning: redis unavailable, continuing with in-memory sessions only: %v", err)
		} else {
			kv = redisKV
			defer redisKV.Close()
			log.Println("redis session backend connected")
		}
	}

	personaStore := persona.NewMemoryStore(persona.Seed())

	sessionStore := session.NewStore(kv, cfg.Session.Timeout, cfg.Session.SweepInterval)
	sessionStore.Start()
	defer sessionStore.Close()

	toolRegistry := tools.NewRegistry()
	for _, capability := range tools.Builtins() {
		toolRegistry.Register(capability)
	}

	var backend agent.Backend
	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			backend = ai.Unavailable{}
		} else {
			backend = aiService
			log.Println("AI service initialized successfully")
		}
	} else {
		log.Println("model credentials not configured, chat turns will fail until they are provided")
		backend = ai.Unavailable{}
	}

	loop := agent.NewLoop(sessionStore, personaStore, backend, toolRegistry, agent.Config{
		MaxIterations:  cfg.Agent.MaxIterations,
		HistoryLimit:   cfg.Agent.HistoryLimit,
		RequestTimeout: cfg.Agent.RequestTimeout,
	})

	connectionRegistry := registry.New()
	uiStates := uistate.NewManager(kv)

	router := handler.NewRouter(personaStore, sessionStore, connectionRegistry, loop, uiStates, toolRegistry)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("assistant backend listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
