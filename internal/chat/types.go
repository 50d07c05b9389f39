package chat

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Role values used on the chat wire format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Content is a message body that is either a plain string or an ordered
// list of typed parts (text, image_url). The raw wire form is kept so
// multimodal payloads pass through to the upstream untouched.
type Content struct {
	raw json.RawMessage
}

func TextContent(s string) Content {
	b, _ := json.Marshal(s)
	return Content{raw: b}
}

func (c Content) MarshalJSON() ([]byte, error) {
	if len(c.raw) == 0 {
		return []byte("null"), nil
	}
	return c.raw, nil
}

func (c *Content) UnmarshalJSON(data []byte) error {
	c.raw = append(c.raw[:0], data...)
	return nil
}

// Text extracts the displayable text: the string itself, or the first
// text part of a multimodal list.
func (c Content) Text() string {
	if len(c.raw) == 0 || bytes.Equal(c.raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(c.raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(c.raw, &parts); err == nil {
		for _, p := range parts {
			if p.Type == "text" {
				return p.Text
			}
		}
	}
	return ""
}

func (c Content) IsEmpty() bool {
	return c.Text() == ""
}

// Message is one role-tagged entry in a conversation. Immutable once
// appended except for the in-progress assistant message during a stream.
type Message struct {
	Role       string     `json:"role"`
	Content    Content    `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a completed model-requested tool invocation in wire form.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction carries the tool name and its JSON-encoded arguments.
// Arguments are only valid JSON once the final fragment has arrived.
type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Mode selects the interaction style for a turn.
type Mode string

const (
	ModeFast     Mode = "fast"
	ModeThinking Mode = "thinking"
	ModeAuto     Mode = "auto"
	ModePro      Mode = "pro"
)

// ParseMode returns the mode for a request value, defaulting to auto.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeFast:
		return ModeFast
	case ModeThinking:
		return ModeThinking
	case ModePro:
		return ModePro
	default:
		return ModeAuto
	}
}

// ChatRequest is the inbound request for one turn.
type ChatRequest struct {
	Model          string    `json:"model"`
	Messages       []Message `json:"messages"`
	Mode           string    `json:"mode"`
	ConversationID string    `json:"conversation_id,omitempty"`
}

// LastUserText returns the text of the final message, used for skill
// prefix routing.
func (r ChatRequest) LastUserText() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[len(r.Messages)-1].Content.Text()
}

// BackendKind is the closed set of upstream variants. It is resolved
// once at the request boundary and passed explicitly from there on.
type BackendKind int

const (
	// BackendExternal is the cloud aggregator API.
	BackendExternal BackendKind = iota
	// BackendInternal is the locally hosted inference server, reached
	// through the emulator adapter.
	BackendInternal
)

// Backend identifies one configured upstream chat-completion endpoint.
type Backend struct {
	Kind    BackendKind
	BaseURL string
	APIKey  string

	// Aggregator attribution headers, sent only for the external kind.
	AppURL   string
	AppTitle string

	// NativeReasoning marks models whose API exposes a reasoning field
	// directly instead of needing a tag instruction.
	NativeReasoning bool
}

// EventType discriminates normalized stream events.
type EventType string

const (
	EventContent   EventType = "content"
	EventReasoning EventType = "reasoning"
	EventToolCall  EventType = "tool_call"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// Event is the canonical internal token event produced by the
// normalizer. It exists only for the duration of one streaming turn.
type Event struct {
	Type     EventType
	Text     string
	Fragment *ToolCallFragment
	Err      error
}

// ToolCallFragment is one partial tool-call delta. Name and arguments
// accumulate across fragments in arrival order.
type ToolCallFragment struct {
	ID        string
	Name      string
	Arguments string
}

// toolCallBuilder accumulates tool-call fragments for a single turn.
// It is owned by one turn's goroutine and never reused across turns.
type toolCallBuilder struct {
	id     string
	name   strings.Builder
	args   strings.Builder
	active bool
}

func (b *toolCallBuilder) add(f *ToolCallFragment) {
	if f == nil {
		return
	}
	b.active = true
	if f.ID != "" {
		b.id = f.ID
	}
	if f.Name != "" {
		b.name.WriteString(f.Name)
	}
	if f.Arguments != "" {
		b.args.WriteString(f.Arguments)
	}
}

func (b *toolCallBuilder) call() ToolCall {
	return ToolCall{
		ID:   b.id,
		Type: "function",
		Function: ToolFunction{
			Name:      b.name.String(),
			Arguments: b.args.String(),
		},
	}
}
