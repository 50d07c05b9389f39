package emulator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServer(localURL string) *Server {
	return NewServer(Config{ListenAddr: ":0", LocalBaseURL: localURL}, nil)
}

// sseDataLines extracts the payloads of every data: line in an SSE body.
func sseDataLines(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			out = append(out, strings.TrimPrefix(line, "data: "))
		}
	}
	return out
}

func postChat(t *testing.T, srv *Server, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/completions", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func streamingPayload() map[string]any {
	return map[string]any{
		"model":    "local-llama",
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
		"stream":   true,
	}
}

func TestModelsMapping(t *testing.T) {
	local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"data":[{"id":"llama-3-8b","max_model_len":8192},{"id":"qwen-7b"}]}`)
	}))
	defer local.Close()

	srv := newTestServer(local.URL + "/v1")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/models", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp struct {
		Data []struct {
			ID            string `json:"id"`
			ContextLength int    `json:"context_length"`
			Pricing       struct {
				Prompt     string `json:"prompt"`
				Completion string `json:"completion"`
			} `json:"pricing"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("got %d models", len(resp.Data))
	}
	if resp.Data[0].ID != "llama-3-8b" || resp.Data[0].ContextLength != 8192 {
		t.Fatalf("first model: %+v", resp.Data[0])
	}
	// Missing max_model_len falls back to the default window.
	if resp.Data[1].ContextLength != 128000 {
		t.Fatalf("default context length: %d", resp.Data[1].ContextLength)
	}
	if resp.Data[0].Pricing.Prompt != "0" || resp.Data[0].Pricing.Completion != "0" {
		t.Fatalf("pricing must be zero: %+v", resp.Data[0].Pricing)
	}
}

func TestModelsLocalFailureForwardsStatus(t *testing.T) {
	local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer local.Close()

	srv := newTestServer(local.URL)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/models", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d", rec.Code)
	}
	var resp struct {
		Data []any `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 0 {
		t.Fatalf("expected empty data, got %v", resp.Data)
	}
}

func TestAuthKeyStub(t *testing.T) {
	srv := newTestServer("http://localhost:1")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/auth/key", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp struct {
		Data struct {
			Label      string `json:"label"`
			Limit      any    `json:"limit"`
			IsFreeTier bool   `json:"is_free_tier"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data.Label == "" || resp.Data.Limit != nil {
		t.Fatalf("stub shape: %+v", resp.Data)
	}
}

func TestStreamingEnvelopeStableAcrossChunks(t *testing.T) {
	local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}],\"usage\":{\"total_tokens\":7}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer local.Close()

	srv := newTestServer(local.URL)
	rec := postChat(t, srv, streamingPayload())

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	lines := sseDataLines(rec.Body.String())
	if len(lines) != 3 || lines[2] != "[DONE]" {
		t.Fatalf("lines: %v", lines)
	}

	type chunk struct {
		ID      string          `json:"id"`
		Model   string          `json:"model"`
		Created int64           `json:"created"`
		Object  string          `json:"object"`
		Usage   json.RawMessage `json:"usage"`
	}
	var first, second chunk
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(first.ID, "gen-") || len(first.ID) != len("gen-")+16 {
		t.Fatalf("id shape: %q", first.ID)
	}
	if first.ID != second.ID || first.Created != second.Created {
		t.Fatal("id and created must be stable across one response")
	}
	if first.Model != "local-llama" || second.Model != "local-llama" {
		t.Fatalf("model: %q / %q", first.Model, second.Model)
	}
	if first.Object != "chat.completion.chunk" {
		t.Fatalf("object: %q", first.Object)
	}
	if first.Usage != nil {
		t.Fatal("usage must only appear on the chunk that carries it")
	}
	if second.Usage == nil {
		t.Fatal("usage dropped from the final chunk")
	}
}

func TestStreamingDistinctIDsPerRequest(t *testing.T) {
	local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer local.Close()

	srv := newTestServer(local.URL)
	idOf := func() string {
		rec := postChat(t, srv, streamingPayload())
		var c struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal([]byte(sseDataLines(rec.Body.String())[0]), &c); err != nil {
			t.Fatal(err)
		}
		return c.ID
	}
	if a, b := idOf(), idOf(); a == b {
		t.Fatalf("two requests shared id %q", a)
	}
}

func TestStreamingUpstreamErrorNoDone(t *testing.T) {
	local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"detail":"context length exceeded"}`)
	}))
	defer local.Close()

	srv := newTestServer(local.URL)
	rec := postChat(t, srv, streamingPayload())

	// Streaming errors ride the stream, not the HTTP status.
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	lines := sseDataLines(rec.Body.String())
	if len(lines) != 1 {
		t.Fatalf("lines: %v", lines)
	}
	var e struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(e.Error.Message, "context length exceeded") || e.Error.Code != http.StatusBadRequest {
		t.Fatalf("error line: %+v", e)
	}
	if strings.Contains(rec.Body.String(), "[DONE]") {
		t.Fatal("no DONE after an error")
	}
}

func TestStreamingUnparseableLinePassesThrough(t *testing.T) {
	local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: this is not json\n\ndata: [DONE]\n\n")
	}))
	defer local.Close()

	srv := newTestServer(local.URL)
	rec := postChat(t, srv, streamingPayload())

	lines := sseDataLines(rec.Body.String())
	if len(lines) != 2 || lines[0] != "this is not json" {
		t.Fatalf("lines: %v", lines)
	}
}

func TestParamWhitelist(t *testing.T) {
	var forwarded map[string]any
	local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&forwarded); err != nil {
			t.Errorf("decode forwarded payload: %v", err)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer local.Close()

	srv := newTestServer(local.URL)
	payload := streamingPayload()
	payload["temperature"] = 0.3
	payload["max_tokens"] = 256
	payload["mode"] = "thinking"
	payload["conversation_id"] = "abc"
	payload["transforms"] = []string{"middle-out"}
	postChat(t, srv, payload)

	if forwarded["temperature"] != 0.3 {
		t.Fatalf("temperature dropped: %v", forwarded["temperature"])
	}
	if forwarded["max_tokens"] != float64(256) {
		t.Fatalf("max_tokens dropped: %v", forwarded["max_tokens"])
	}
	for _, key := range []string{"mode", "conversation_id", "transforms"} {
		if _, ok := forwarded[key]; ok {
			t.Errorf("non-whitelisted %q forwarded", key)
		}
	}
}

func TestConnectionFailureFixedMessage(t *testing.T) {
	// Port 1 is reliably refused.
	srv := newTestServer("http://127.0.0.1:1/v1")
	rec := postChat(t, srv, streamingPayload())

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status %d", rec.Code)
	}
	var e struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatal(err)
	}
	if e.Error.Message != "Local model server is not available. Ensure the inference server is running." {
		t.Fatalf("message: %q", e.Error.Message)
	}
	if e.Error.Code != http.StatusBadGateway {
		t.Fatalf("code: %d", e.Error.Code)
	}
}

func TestNonStreamingWrap(t *testing.T) {
	local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"total_tokens":3}}`)
	}))
	defer local.Close()

	srv := newTestServer(local.URL)
	payload := streamingPayload()
	payload["stream"] = false
	rec := postChat(t, srv, payload)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp.ID, "gen-") || resp.Object != "chat.completion" || resp.Model != "local-llama" {
		t.Fatalf("envelope: %+v", resp)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "hi" {
		t.Fatalf("choices: %+v", resp.Choices)
	}
}
