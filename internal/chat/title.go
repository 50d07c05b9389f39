package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

const (
	titleSystemText = "You are a title generator. Generate a highly concise title (maximum 4 words) for the following conversation prompt. Respond with the title only, use spaces normally, and avoid quotes or conversational filler."
	titleTimeout    = 10 * time.Second
	titleMaxTokens  = 10
)

// TitleSink receives the generated title. It is the store's
// UpdateTitle bound to a conversation id.
type TitleSink func(ctx context.Context, title string) error

// TitleTask is the handle for one background title generation. The
// task races benignly with the turn's own message write: the two touch
// different fields and updates are last-write-wins per field.
type TitleTask struct {
	done chan struct{}
}

// Wait blocks until the task finishes. Callers may use it at shutdown;
// the task is otherwise fire-and-forget.
func (t *TitleTask) Wait() {
	<-t.done
}

// GenerateTitle asynchronously summarizes the first user prompt into a
// short conversation title. Best-effort: failures are logged and
// dropped.
func GenerateTitle(client *Client, backend Backend, model, prompt string, sink TitleSink, logger *slog.Logger) *TitleTask {
	if logger == nil {
		logger = slog.Default()
	}
	task := &TitleTask{done: make(chan struct{})}
	go func() {
		defer close(task.done)

		ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
		defer cancel()

		temperature := 0.3
		maxTokens := titleMaxTokens
		resp, err := client.Complete(ctx, backend, CompletionRequest{
			Model: model,
			Messages: []Message{
				{Role: RoleSystem, Content: TextContent(titleSystemText)},
				{Role: RoleUser, Content: TextContent(prompt)},
			},
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
		})
		if err != nil {
			logger.Debug("title generation failed", "error", err)
			return
		}
		if len(resp.Choices) == 0 {
			return
		}
		title := strings.TrimSpace(resp.Choices[0].Message.Content)
		title = strings.Trim(title, `"'`)
		if title == "" {
			return
		}
		if err := sink(ctx, title); err != nil {
			logger.Debug("title update failed", "error", err)
		}
	}()
	return task
}
