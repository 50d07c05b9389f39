package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"llmhub/internal/search"
)

// turnPhase tracks the orchestrator state machine:
// Idle -> Streaming -> (ToolRequested | Completed | Errored);
// ToolRequested -> Executing -> Resubmitting -> Completed.
type turnPhase int

const (
	phaseIdle turnPhase = iota
	phaseStreaming
	phaseToolRequested
	phaseExecuting
	phaseResubmitting
	phaseCompleted
	phaseErrored
)

const defaultSearchResults = 5

// TurnOptions configures one streaming turn.
type TurnOptions struct {
	Backend          Backend
	Offline          bool
	MaxSearchResults int

	// OnComplete receives the final assembled assistant text, called
	// exactly once per turn when any non-empty text was produced, on
	// both success and error paths. Persistence failures inside the
	// callback must not be propagated back into the stream.
	OnComplete func(finalText string)
}

// Orchestrator drives one chat turn: it streams the upstream response,
// watches for an in-progress tool call, executes it out of band,
// resubmits the context, and streams the final answer into the same
// outward stream. At most two upstream calls happen per turn, by
// construction.
type Orchestrator struct {
	client   *Client
	searcher search.Searcher
	log      *slog.Logger
}

func NewOrchestrator(client *Client, searcher search.Searcher, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{client: client, searcher: searcher, log: logger}
}

// Stream runs one turn. The returned stream yields content deltas, then
// done; transport and protocol failures surface as a single error
// event.
func (o *Orchestrator) Stream(ctx context.Context, req ChatRequest, opts TurnOptions) Stream {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		return o.run(ctx, req, opts, events)
	})
}

// turnState is the per-turn working set. Owned by a single goroutine,
// reset by construction each turn.
type turnState struct {
	phase     turnPhase
	assembled strings.Builder
	encoder   thinkEncoder
	toolBuf   toolCallBuilder
	completed bool
}

func (o *Orchestrator) run(ctx context.Context, req ChatRequest, opts TurnOptions, events chan<- Event) error {
	mode := ParseMode(req.Mode)
	instr := Instruction(mode, opts.Offline, opts.Backend.NativeReasoning)
	messages := ApplyInstruction(req.Messages, instr)

	payload := CompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: &instr.Temperature,
	}
	if instr.MaxTokens > 0 {
		maxTokens := instr.MaxTokens
		payload.MaxTokens = &maxTokens
	}
	if !opts.Offline {
		payload.Tools = DefaultTools()
	}

	state := &turnState{phase: phaseIdle}
	finish := func(text string) {
		if state.completed {
			return
		}
		state.completed = true
		if opts.OnComplete != nil && text != "" {
			opts.OnComplete(text)
		}
	}

	// First pass, with exactly one automatic retry when the model
	// rejects the tool schema outright.
	state.phase = phaseStreaming
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := o.client.StreamCompletion(ctx, opts.Backend, payload)
		if err != nil {
			state.phase = phaseErrored
			finish(state.assembled.String())
			return err
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			cerr := ClassifyStatusError(resp.StatusCode, body, len(payload.Tools) > 0)
			var retry *RetryWithoutToolsError
			if errors.As(cerr, &retry) && attempt == 0 {
				o.log.Debug("model lacks tool support, retrying without tools", "status", retry.Status)
				payload.Tools = nil
				continue
			}
			state.phase = phaseErrored
			finish(state.assembled.String())
			return cerr
		}

		err = o.consumeStream(ctx, resp.Body, state, events)
		resp.Body.Close()
		if err != nil {
			state.phase = phaseErrored
			finish(state.assembled.String())
			return err
		}
		break
	}

	toolExecuted := false
	// Offline turns never sent a tool schema; any stray fragments are
	// ignored rather than acted upon.
	if state.toolBuf.active && !opts.Offline {
		state.phase = phaseToolRequested
		call := state.toolBuf.call()
		// Only a single well-known tool is acted upon; anything else
		// completes the turn with whatever content streamed so far.
		if call.Function.Name == WebSearchToolName {
			toolExecuted = true
			if err := o.runToolRoundTrip(ctx, &payload, call, state, events, opts); err != nil {
				state.phase = phaseErrored
				finish(state.assembled.String())
				return err
			}
		}
	}

	if tail := state.encoder.Finish(); tail != "" {
		state.assembled.WriteString(tail)
		if err := sendEvent(ctx, events, Event{Type: EventContent, Text: tail}); err != nil {
			finish(state.assembled.String())
			return err
		}
	}

	final := state.assembled.String()
	if mode == ModeThinking && !toolExecuted && final != "" {
		corrected, changed := EnforceThinking(final)
		if changed {
			// One corrective chunk carrying the full rewritten text;
			// the client replaces the turn's text with it.
			if err := sendEvent(ctx, events, Event{Type: EventContent, Text: corrected}); err != nil {
				finish(final)
				return err
			}
			final = corrected
		}
	}

	state.phase = phaseCompleted
	finish(final)
	return sendEvent(ctx, events, Event{Type: EventDone})
}

// consumeStream reads one upstream SSE body to completion, forwarding
// normalized events outward. Malformed lines are skipped; a single bad
// chunk never terminates a healthy stream.
func (o *Orchestrator) consumeStream(ctx context.Context, body io.Reader, state *turnState, events chan<- Event) error {
	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		event, ok := NormalizeLine(scanner.Text())
		if !ok {
			continue
		}
		switch event.Type {
		case EventDone:
			return nil
		case EventError:
			return event.Err
		case EventToolCall:
			state.toolBuf.add(event.Fragment)
		case EventReasoning:
			// Once a tool call is in progress nothing is shown until
			// the tool turn resolves.
			if state.toolBuf.active {
				continue
			}
			if err := o.emit(ctx, state, events, state.encoder.Reasoning(event.Text)); err != nil {
				return err
			}
		case EventContent:
			if state.toolBuf.active {
				continue
			}
			if err := o.emit(ctx, state, events, state.encoder.Content(event.Text)); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("upstream streaming error: %w", err)
	}
	return nil
}

// emit forwards one outward content chunk and records it in the
// assembled text used for persistence and resubmission.
func (o *Orchestrator) emit(ctx context.Context, state *turnState, events chan<- Event, text string) error {
	if text == "" {
		return nil
	}
	state.assembled.WriteString(text)
	return sendEvent(ctx, events, Event{Type: EventContent, Text: text})
}

// runToolRoundTrip executes the buffered web_search call and issues the
// second upstream request whose output joins the same outward stream.
func (o *Orchestrator) runToolRoundTrip(ctx context.Context, payload *CompletionRequest, call ToolCall, state *turnState, events chan<- Event, opts TurnOptions) error {
	state.phase = phaseExecuting

	// Tolerate argument parse failure by treating the query as empty.
	var args struct {
		Query string `json:"query"`
	}
	_ = json.Unmarshal([]byte(call.Function.Arguments), &args)

	// The progress marker goes out before the skill runs so the user
	// sees activity during search latency. It is outward-only: the
	// pre-tool assistant content is preserved verbatim without it.
	marker := fmt.Sprintf("\n\n> 🔍 **Searching the Web**: `%s`...\n\n", args.Query)
	if err := sendEvent(ctx, events, Event{Type: EventContent, Text: marker}); err != nil {
		return err
	}

	result := o.executeSearch(ctx, args.Query, opts.MaxSearchResults)

	state.phase = phaseResubmitting
	assistant := Message{Role: RoleAssistant, ToolCalls: []ToolCall{call}}
	if pre := state.assembled.String(); pre != "" {
		assistant.Content = TextContent(pre)
	}
	toolMsg := Message{
		Role:       RoleTool,
		Name:       call.Function.Name,
		ToolCallID: call.ID,
		Content:    TextContent(result),
	}
	payload.Messages = append(payload.Messages, assistant, toolMsg)
	// Strip the tool schema on the second call to force a final answer
	// and prevent recursive tool loops.
	payload.Tools = nil

	resp, err := o.client.StreamCompletion(ctx, opts.Backend, *payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &UpstreamError{Status: resp.StatusCode, Body: capText(string(body))}
	}

	// Fresh builder for the follow-up pass: with the schema stripped no
	// further tool call is honored.
	followup := &turnState{phase: phaseStreaming, encoder: state.encoder}
	err = o.consumeStream(ctx, resp.Body, followup, events)
	state.encoder = followup.encoder
	state.assembled.WriteString(followup.assembled.String())
	return err
}

// executeSearch always produces a string result; skill failures are
// converted to benign text rather than raised to the caller.
func (o *Orchestrator) executeSearch(ctx context.Context, query string, maxResults int) string {
	if query == "" || o.searcher == nil {
		return "No results found."
	}
	if maxResults <= 0 {
		maxResults = defaultSearchResults
	}
	results, err := o.searcher.Search(ctx, query, maxResults)
	if err != nil {
		o.log.Warn("web search failed", "query", query, "error", err)
		return fmt.Sprintf("Search failed with error: %v", err)
	}
	if len(results) == 0 {
		return "No results found."
	}
	encoded, err := json.Marshal(struct {
		WebResults []search.Result `json:"web_results"`
	}{results})
	if err != nil {
		return search.Markdown(results)
	}
	return string(encoded)
}

func sendEvent(ctx context.Context, events chan<- Event, ev Event) error {
	select {
	case events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
