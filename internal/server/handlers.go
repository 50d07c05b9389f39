package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"llmhub/internal/chat"
)

// writeJSON encodes one JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "LLM Hub is running",
		"provider": s.settings.Provider(),
	})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.List(r.Context(), 50, 0)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	type entry struct {
		ID        string    `json:"id"`
		Title     string    `json:"title"`
		CreatedAt time.Time `json:"created_at"`
	}
	out := make([]entry, 0, len(summaries))
	for _, c := range summaries {
		out = append(out, entry{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if conv == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"id":       id,
			"title":    "New Chat",
			"messages": []chat.Message{},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       conv.ID,
		"title":    conv.Title,
		"messages": conv.Messages,
	})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleGetNetworkMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.settings.NetworkEnabled()})
}

func (s *Server) handleSetNetworkMode(w http.ResponseWriter, r *http.Request) {
	var toggle struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&toggle); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	s.settings.SetNetworkEnabled(toggle.Enabled)
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "enabled": toggle.Enabled})
}

func (s *Server) handleSetProvider(w http.ResponseWriter, r *http.Request) {
	var toggle struct {
		Provider string `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&toggle); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	switch toggle.Provider {
	case ProviderOpenRouter, ProviderEmulator:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown provider: " + toggle.Provider})
		return
	}
	s.settings.SetProvider(toggle.Provider)
	s.backends.Invalidate()
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "provider": toggle.Provider})
}

// truncateTitle derives the initial conversation title from the first
// user text.
func truncateTitle(text string) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if text == "" {
		return "New Chat"
	}
	runes := []rune(text)
	if len(runes) > 35 {
		return string(runes[:35]) + "..."
	}
	return text
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chat.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "messages must not be empty"})
		return
	}

	ctx := r.Context()
	offline := !s.settings.NetworkEnabled()
	provider := s.settings.Provider()

	backend, model, err := s.backends.Resolve(ctx, provider, req.Model)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	req.Model = model

	convID := s.prepareConversation(ctx, &req, backend, offline)

	sse := newSSEWriter(w)
	if convID != "" {
		w.Header().Set("x-conversation-id", convID)
	}
	sse.begin()

	// Skill interception happens before any upstream call.
	if skill, ok := s.dispatcher.Intercept(req.LastUserText()); ok {
		text := skill(ctx)
		s.persistAssistantText(convID, text)
		sse.content(text)
		sse.done()
		return
	}

	opts := chat.TurnOptions{
		Backend:          backend,
		Offline:          offline,
		MaxSearchResults: s.cfg.Search.MaxResults,
		OnComplete: func(finalText string) {
			s.persistAssistantText(convID, finalText)
		},
	}

	stream := s.orch.Stream(ctx, req, opts)
	defer stream.Close()

	for {
		event, err := stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			sse.error("stream read failed")
			return
		}
		switch event.Type {
		case chat.EventContent:
			sse.content(event.Text)
		case chat.EventDone:
			sse.done()
			return
		case chat.EventError:
			s.log.Error("chat turn failed", "conversation", convID, "error", event.Err)
			sse.error(userFacingError(event.Err))
			return
		}
	}
}

// prepareConversation creates or extends the stored conversation and
// kicks off background title generation for new ones. Returns the
// conversation id, empty when persistence is disabled.
func (s *Server) prepareConversation(ctx context.Context, req *chat.ChatRequest, backend chat.Backend, offline bool) string {
	if s.store == nil {
		return ""
	}

	if req.ConversationID == "" {
		firstText := ""
		if len(req.Messages) > 0 {
			firstText = req.Messages[0].Content.Text()
		}
		conv, err := s.store.Create(ctx, truncateTitle(firstText), req.Messages)
		if err != nil {
			s.log.Error("create conversation failed", "error", err)
			return ""
		}
		if !offline && firstText != "" {
			convID := conv.ID
			sink := func(ctx context.Context, title string) error {
				return s.store.UpdateTitle(ctx, convID, title)
			}
			task := chat.GenerateTitle(s.client, backend, s.titleModel(req.Model), firstText, sink, s.log)
			s.trackTitleTask(task)
		}
		return conv.ID
	}

	last := req.Messages[len(req.Messages)-1]
	if err := s.store.AppendMessage(ctx, req.ConversationID, last); err != nil {
		s.log.Warn("append user message failed", "conversation", req.ConversationID, "error", err)
	}
	return req.ConversationID
}

func (s *Server) titleModel(requestModel string) string {
	if s.cfg.OpenRouter.TitleModel != "" {
		return s.cfg.OpenRouter.TitleModel
	}
	return requestModel
}

// persistAssistantText appends the assembled assistant message. A
// persistence failure must not corrupt the stream already delivered, so
// it is only logged.
func (s *Server) persistAssistantText(convID, text string) {
	if s.store == nil || convID == "" || text == "" {
		return
	}
	msg := chat.Message{Role: chat.RoleAssistant, Content: chat.TextContent(text)}
	if err := s.store.AppendMessage(context.Background(), convID, msg); err != nil {
		s.log.Error("persist assistant message failed", "conversation", convID, "error", err)
	}
}

// userFacingError renders a failure as plain descriptive text, never a
// raw protocol object.
func userFacingError(err error) string {
	if err == nil {
		return "The model request failed. Please try again."
	}
	var upstream *chat.UpstreamError
	if errors.As(err, &upstream) {
		return fmt.Sprintf("Upstream API Error: %s", upstream.Body)
	}
	return fmt.Sprintf("Failed to reach the model backend. (%v)", err)
}
