package chat

import (
	"encoding/json"
	"fmt"
	"strings"
)

// doneSentinel is the literal SSE payload signalling end of stream.
const doneSentinel = "[DONE]"

// maxErrorBody caps upstream error text surfaced to callers so a
// misbehaving upstream cannot flood the client. The outbound request
// headers (including Authorization) are never part of this text.
const maxErrorBody = 2048

type streamDelta struct {
	Content          string          `json:"content"`
	Reasoning        string          `json:"reasoning"`
	ReasoningContent string          `json:"reasoning_content"`
	ToolCalls        []toolCallDelta `json:"tool_calls"`
}

type toolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type streamChunk struct {
	Choices []struct {
		Index        int         `json:"index"`
		Delta        streamDelta `json:"delta"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *upstreamAPIError `json:"error"`
}

type upstreamAPIError struct {
	Message string `json:"message"`
	Code    any    `json:"code"`
}

// NormalizeLine converts one raw upstream SSE line into at most one
// canonical event. It is a pure function of the line: lines that are
// not data payloads or fail to parse report ok=false and are skipped,
// never terminating the stream.
//
// Both aggregator and local-server dialects arrive in the same
// chat.completion.chunk envelope; the dialects differ only in which
// reasoning key they use, so both keys are checked and the first
// non-empty wins.
func NormalizeLine(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data: ") {
		return Event{}, false
	}
	payload := strings.TrimPrefix(line, "data: ")
	if payload == doneSentinel {
		return Event{Type: EventDone}, true
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return Event{}, false
	}
	return normalizeChunk(chunk)
}

func normalizeChunk(chunk streamChunk) (Event, bool) {
	if chunk.Error != nil {
		return Event{Type: EventError, Err: fmt.Errorf("upstream error: %s", capText(chunk.Error.Message))}, true
	}
	if len(chunk.Choices) == 0 {
		return Event{}, false
	}
	delta := chunk.Choices[0].Delta

	// Tool fragments are never shown to the end user; they suppress any
	// content that rides along in the same delta.
	if len(delta.ToolCalls) > 0 {
		tc := delta.ToolCalls[0]
		return Event{Type: EventToolCall, Fragment: &ToolCallFragment{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}}, true
	}

	if reasoning := firstNonEmpty(delta.Reasoning, delta.ReasoningContent); reasoning != "" {
		return Event{Type: EventReasoning, Text: reasoning}, true
	}

	// Only forward non-empty content deltas.
	if delta.Content != "" {
		return Event{Type: EventContent, Text: delta.Content}, true
	}
	return Event{}, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func capText(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}

// UpstreamError is a non-200 upstream response, terminal for the turn.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream API error (status %d): %s", e.Status, e.Body)
}

// RetryWithoutToolsError signals that the model rejected the tool
// schema. The turn is retried exactly once with tools stripped; the
// condition is never surfaced to the user.
type RetryWithoutToolsError struct {
	Status int
}

func (e *RetryWithoutToolsError) Error() string {
	return fmt.Sprintf("upstream rejected tool schema (status %d)", e.Status)
}

// ClassifyStatusError decides how a non-200 upstream status is handled.
// If the error body carries a tool-capability signature and the
// outbound payload included a tool schema, the typed retry condition is
// returned instead of a terminal error.
func ClassifyStatusError(status int, body []byte, sentTools bool) error {
	text := string(body)
	if sentTools && strings.Contains(strings.ToLower(text), "tool") {
		return &RetryWithoutToolsError{Status: status}
	}
	return &UpstreamError{Status: status, Body: capText(text)}
}
