// Package emulator presents a local OpenAI-compatible inference server
// under the cloud aggregator's API envelope, so one backend code path
// can serve both.
package emulator

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	upstreamTimeout = 120 * time.Second
	discoverTimeout = 10 * time.Second
)

// forwardableParams is the fixed whitelist of request parameters passed
// through to the local server; anything else is silently dropped.
var forwardableParams = []string{
	"temperature", "top_p", "max_tokens", "stop", "frequency_penalty",
	"presence_penalty", "seed", "tools", "tool_choice",
	"response_format", "logprobs", "top_logprobs", "n",
}

// Server is the emulator HTTP adapter.
type Server struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

func NewServer(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: upstreamTimeout},
		log:        logger,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/models", s.handleModels)
	mux.HandleFunc("GET /api/v1/auth/key", s.handleAuthKey)
	mux.HandleFunc("POST /api/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /", s.handleRoot)
	return mux
}

func (s *Server) localURL(path string) string {
	return strings.TrimSuffix(s.cfg.LocalBaseURL, "/") + path
}

// newGenerationID mints an aggregator-style generation id. One id is
// minted per request and shared by every chunk of that response.
func newGenerationID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "gen-" + hex[:16]
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":        "emulator is running",
		"local_backend": s.cfg.LocalBaseURL,
	})
}

// handleAuthKey is a stateless stub: in an air-gapped deployment there
// is no real credential check, but the response shape matches the
// aggregator's.
func (s *Server) handleAuthKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"label":        "internal-emulator",
			"usage":        0,
			"limit":        nil,
			"is_free_tier": false,
			"rate_limit": map[string]any{
				"requests": 1000,
				"interval": "10s",
			},
		},
	})
}

type localModel struct {
	ID          string `json:"id"`
	MaxModelLen int    `json:"max_model_len"`
}

// handleModels maps the local server's native model list onto the
// aggregator's listing shape with zeroed pricing. On local-server
// failure the upstream status code is forwarded with an empty data
// array.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, s.localURL("/models"), nil)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"data": []any{}, "error": err.Error()})
		return
	}
	client := &http.Client{Timeout: discoverTimeout}
	resp, err := client.Do(req)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"data": []any{}, "error": err.Error()})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		writeJSON(w, resp.StatusCode, map[string]any{"data": []any{}})
		return
	}

	var local struct {
		Data []localModel `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&local); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"data": []any{}, "error": "invalid model list from local server"})
		return
	}

	models := make([]map[string]any, 0, len(local.Data))
	for _, m := range local.Data {
		contextLength := m.MaxModelLen
		if contextLength == 0 {
			contextLength = 128000
		}
		models = append(models, map[string]any{
			"id":             m.ID,
			"name":           m.ID,
			"description":    "Locally served model",
			"context_length": contextLength,
			"pricing": map[string]string{
				"prompt":     "0",
				"completion": "0",
			},
			"architecture": map[string]any{
				"modality":      "text+image->text",
				"tokenizer":     "Other",
				"instruct_type": "none",
			},
			"top_provider": map[string]any{
				"max_completion_tokens": contextLength,
				"is_moderated":          false,
			},
			"per_request_limits": nil,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": models})
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body", http.StatusBadRequest))
		return
	}

	payload := map[string]any{
		"model":    body["model"],
		"messages": body["messages"],
		"stream":   body["stream"] == true,
	}
	for _, key := range forwardableParams {
		if v, ok := body[key]; ok {
			payload[key] = v
		}
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error(), http.StatusInternalServerError))
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, s.localURL("/chat/completions"), bytes.NewReader(encoded))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error(), http.StatusInternalServerError))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// Connection failure is reported before any envelope wrapping
		// is attempted, with a fixed message and distinct code.
		if isConnectionError(err) {
			writeJSON(w, http.StatusBadGateway, errorBody(
				"Local model server is not available. Ensure the inference server is running.",
				http.StatusBadGateway))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error(), http.StatusInternalServerError))
		return
	}
	defer resp.Body.Close()

	model, _ := body["model"].(string)
	if payload["stream"] == true {
		s.proxyStreaming(w, resp, model)
		return
	}
	s.proxyNonStreaming(w, resp, model)
}

// proxyStreaming rewraps each local SSE chunk with the canonical
// envelope. Every chunk of one response shares the same generation id,
// model, and created timestamp. Unparseable lines pass through verbatim
// rather than being dropped, which keeps diagnostics visible.
func (s *Server) proxyStreaming(w http.ResponseWriter, resp *http.Response, model string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Request-Id", newGenerationID())

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	if resp.StatusCode != http.StatusOK {
		// One SSE error line and the stream ends; no DONE after an
		// error.
		errText, _ := io.ReadAll(resp.Body)
		w.WriteHeader(http.StatusOK)
		payload, _ := json.Marshal(errorBody(string(errText), resp.StatusCode))
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flush()
		return
	}

	w.WriteHeader(http.StatusOK)
	generationID := newGenerationID()
	created := time.Now().Unix()

	scanner := bufio.NewScanner(resp.Body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if strings.TrimSpace(line) == "data: [DONE]" {
			fmt.Fprint(w, "data: [DONE]\n\n")
			flush()
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var chunk map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
			fmt.Fprintf(w, "%s\n\n", line)
			flush()
			continue
		}
		wrapped := wrapStreamingChunk(chunk, generationID, created, model)
		payload, err := json.Marshal(wrapped)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flush()
	}
	if err := scanner.Err(); err != nil {
		s.log.Warn("local stream read failed", "error", err)
	}
}

// wrapStreamingChunk rewrites one local chunk into the aggregator
// shape: prefixed id, model and created present on every chunk, choices
// copied as-is (the delta format is identical), usage forwarded when
// the last chunk carries it.
func wrapStreamingChunk(chunk map[string]any, generationID string, created int64, model string) map[string]any {
	wrapped := map[string]any{
		"id":      generationID,
		"model":   model,
		"created": created,
		"object":  "chat.completion.chunk",
	}
	if choices, ok := chunk["choices"]; ok {
		wrapped["choices"] = choices
	}
	if usage, ok := chunk["usage"]; ok && usage != nil {
		wrapped["usage"] = usage
	}
	return wrapped
}

func (s *Server) proxyNonStreaming(w http.ResponseWriter, resp *http.Response, model string) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorBody(err.Error(), http.StatusBadGateway))
		return
	}
	if resp.StatusCode != http.StatusOK {
		writeJSON(w, resp.StatusCode, errorBody(string(body), resp.StatusCode))
		return
	}

	var local struct {
		Choices json.RawMessage `json:"choices"`
		Usage   json.RawMessage `json:"usage"`
	}
	if err := json.Unmarshal(body, &local); err != nil {
		writeJSON(w, http.StatusBadGateway, errorBody("invalid response from local server", http.StatusBadGateway))
		return
	}
	if local.Choices == nil {
		local.Choices = json.RawMessage("[]")
	}
	if local.Usage == nil {
		local.Usage = json.RawMessage("{}")
	}

	wrapped := map[string]any{
		"id":      newGenerationID(),
		"model":   model,
		"created": time.Now().Unix(),
		"object":  "chat.completion",
		"choices": local.Choices,
		"usage":   local.Usage,
	}
	writeJSON(w, http.StatusOK, wrapped)
}

func errorBody(message string, code int) map[string]any {
	return map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}
}

func isConnectionError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return strings.Contains(err.Error(), "connection refused")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
