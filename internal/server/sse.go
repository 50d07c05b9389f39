package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter emits the outward SSE envelope:
//
//	data: {"choices":[{"delta":{"content": ...}}]}
//	data: [DONE]
//	data: {"error": "..."}   (no DONE follows an error)
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	flusher, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: flusher}
}

func (s *sseWriter) begin() {
	s.w.Header().Set("Content-Type", "text/event-stream")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.Header().Set("Connection", "keep-alive")
	s.w.WriteHeader(http.StatusOK)
	s.flush()
}

type ssePayload struct {
	Choices []sseChoice `json:"choices"`
}

type sseChoice struct {
	Delta sseDelta `json:"delta"`
}

type sseDelta struct {
	Content string `json:"content"`
}

func (s *sseWriter) content(text string) {
	if text == "" {
		return
	}
	payload, err := json.Marshal(ssePayload{Choices: []sseChoice{{Delta: sseDelta{Content: text}}}})
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "data: %s\n\n", payload)
	s.flush()
}

func (s *sseWriter) done() {
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flush()
}

func (s *sseWriter) error(message string) {
	payload, _ := json.Marshal(map[string]string{"error": message})
	fmt.Fprintf(s.w, "data: %s\n\n", payload)
	s.flush()
}

func (s *sseWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
