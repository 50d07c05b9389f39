package chat

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeLineContent(t *testing.T) {
	event, ok := NormalizeLine(`data: {"choices":[{"delta":{"content":"Hello"}}]}`)
	if !ok {
		t.Fatal("expected a content event")
	}
	if event.Type != EventContent || event.Text != "Hello" {
		t.Fatalf("got %+v", event)
	}
}

func TestNormalizeLineDone(t *testing.T) {
	event, ok := NormalizeLine("data: [DONE]")
	if !ok || event.Type != EventDone {
		t.Fatalf("got ok=%v event=%+v", ok, event)
	}
}

func TestNormalizeLineSkipsNonData(t *testing.T) {
	for _, line := range []string{
		"",
		": keep-alive",
		"event: ping",
		"data: {not json",
		`data: {"choices":[]}`,
		`data: {"choices":[{"delta":{"content":""}}]}`,
	} {
		if _, ok := NormalizeLine(line); ok {
			t.Errorf("line %q should be skipped", line)
		}
	}
}

func TestNormalizeLineReasoningKeys(t *testing.T) {
	cases := []struct {
		name string
		line string
		want string
	}{
		{"aggregator key", `data: {"choices":[{"delta":{"reasoning":"step 1"}}]}`, "step 1"},
		{"local key", `data: {"choices":[{"delta":{"reasoning_content":"step 2"}}]}`, "step 2"},
		{"first non-empty wins", `data: {"choices":[{"delta":{"reasoning":"a","reasoning_content":"b"}}]}`, "a"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event, ok := NormalizeLine(tc.line)
			if !ok || event.Type != EventReasoning {
				t.Fatalf("got ok=%v event=%+v", ok, event)
			}
			if event.Text != tc.want {
				t.Fatalf("got %q, want %q", event.Text, tc.want)
			}
		})
	}
}

func TestNormalizeLineToolCallSuppressesContent(t *testing.T) {
	line := `data: {"choices":[{"delta":{"content":"leak","tool_calls":[{"index":0,"id":"call_1","function":{"name":"web_search","arguments":"{\"qu"}}]}}]}`
	event, ok := NormalizeLine(line)
	if !ok || event.Type != EventToolCall {
		t.Fatalf("got ok=%v event=%+v", ok, event)
	}
	if event.Fragment.ID != "call_1" || event.Fragment.Name != "web_search" {
		t.Fatalf("got fragment %+v", event.Fragment)
	}
	if event.Fragment.Arguments != `{"qu` {
		t.Fatalf("got arguments %q", event.Fragment.Arguments)
	}
}

func TestNormalizeLineErrorPayload(t *testing.T) {
	event, ok := NormalizeLine(`data: {"error":{"message":"model overloaded","code":429}}`)
	if !ok || event.Type != EventError {
		t.Fatalf("got ok=%v event=%+v", ok, event)
	}
	if event.Err == nil || !strings.Contains(event.Err.Error(), "model overloaded") {
		t.Fatalf("got err %v", event.Err)
	}
}

func TestToolCallBuilderAccumulates(t *testing.T) {
	var b toolCallBuilder
	b.add(&ToolCallFragment{ID: "call_9", Name: "web_"})
	b.add(&ToolCallFragment{Name: "search", Arguments: `{"query":`})
	b.add(&ToolCallFragment{Arguments: `"go slices"}`})

	call := b.call()
	if call.ID != "call_9" {
		t.Fatalf("got id %q", call.ID)
	}
	if call.Function.Name != "web_search" {
		t.Fatalf("got name %q", call.Function.Name)
	}
	if call.Function.Arguments != `{"query":"go slices"}` {
		t.Fatalf("got arguments %q", call.Function.Arguments)
	}
}

func TestClassifyStatusError(t *testing.T) {
	err := ClassifyStatusError(404, []byte(`{"error":"No endpoint found that supports tool use"}`), true)
	var retry *RetryWithoutToolsError
	if !errors.As(err, &retry) {
		t.Fatalf("expected retry condition, got %v", err)
	}
	if retry.Status != 404 {
		t.Fatalf("got status %d", retry.Status)
	}

	// Same body without tools sent is terminal.
	err = ClassifyStatusError(404, []byte(`{"error":"No endpoint found that supports tool use"}`), false)
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}

	// Unrelated body with tools sent is terminal too.
	err = ClassifyStatusError(500, []byte("internal error"), true)
	if !errors.As(err, &upstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestClassifyStatusErrorCapsBody(t *testing.T) {
	big := strings.Repeat("x", maxErrorBody*2)
	err := ClassifyStatusError(500, []byte(big), false)
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if len(upstream.Body) != maxErrorBody {
		t.Fatalf("body not capped: %d", len(upstream.Body))
	}
}
