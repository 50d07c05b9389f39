// Package server exposes the chat backend HTTP surface: the streaming
// chat endpoint, conversation listing, and the settings toggles.
package server

import (
	"log/slog"
	"net/http"
	"sync"

	"llmhub/internal/chat"
	"llmhub/internal/config"
	"llmhub/internal/history"
	"llmhub/internal/skills"
)

// Server wires the orchestration core to HTTP.
type Server struct {
	cfg        *config.Config
	settings   *config.Settings
	store      history.Store
	orch       *chat.Orchestrator
	client     *chat.Client
	dispatcher *skills.Dispatcher
	backends   *BackendResolver
	log        *slog.Logger

	// Background title tasks, awaitable at shutdown.
	titleMu    sync.Mutex
	titleTasks []*chat.TitleTask
}

func New(cfg *config.Config, settings *config.Settings, store history.Store, orch *chat.Orchestrator, client *chat.Client, dispatcher *skills.Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:        cfg,
		settings:   settings,
		store:      store,
		orch:       orch,
		client:     client,
		dispatcher: dispatcher,
		backends:   NewBackendResolver(cfg),
		log:        logger,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /chat/conversations", s.handleListConversations)
	mux.HandleFunc("GET /chat/conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("DELETE /chat/conversations/{id}", s.handleDeleteConversation)
	mux.HandleFunc("GET /settings/network-mode", s.handleGetNetworkMode)
	mux.HandleFunc("PUT /settings/network-mode", s.handleSetNetworkMode)
	mux.HandleFunc("PUT /settings/provider", s.handleSetProvider)
	mux.Handle("GET /data/", http.StripPrefix("/data/", http.FileServer(http.Dir(s.cfg.Server.DataDir))))
	mux.HandleFunc("GET /", s.handleHealth)
	return mux
}

// Shutdown waits for in-flight background title tasks.
func (s *Server) Shutdown() {
	s.titleMu.Lock()
	tasks := s.titleTasks
	s.titleTasks = nil
	s.titleMu.Unlock()
	for _, t := range tasks {
		t.Wait()
	}
}

func (s *Server) trackTitleTask(t *chat.TitleTask) {
	s.titleMu.Lock()
	s.titleTasks = append(s.titleTasks, t)
	s.titleMu.Unlock()
}
