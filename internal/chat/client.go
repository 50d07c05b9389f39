package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultUpstreamTimeout bounds each upstream HTTP call. Exceeding it
// is a transport error, terminal for the turn.
const DefaultUpstreamTimeout = 60 * time.Second

// CompletionRequest is the outbound chat-completion payload.
type CompletionRequest struct {
	Model       string       `json:"model"`
	Messages    []Message    `json:"messages"`
	Stream      bool         `json:"stream,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	MaxTokens   *int         `json:"max_tokens,omitempty"`
	Tools       []ToolSchema `json:"tools,omitempty"`
}

// CompletionResponse is the non-streaming response shape, used by the
// background title call.
type CompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *upstreamAPIError `json:"error,omitempty"`
}

// Client issues chat-completion requests to one configured backend.
type Client struct {
	httpClient *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultUpstreamTimeout
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

func (c *Client) do(ctx context.Context, backend Backend, req CompletionRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	url := strings.TrimSuffix(backend.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if backend.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+backend.APIKey)
	}
	if backend.Kind == BackendExternal {
		if backend.AppURL != "" {
			httpReq.Header.Set("HTTP-Referer", backend.AppURL)
		}
		if backend.AppTitle != "" {
			httpReq.Header.Set("X-Title", backend.AppTitle)
		}
	}
	return c.httpClient.Do(httpReq)
}

// StreamCompletion issues a streaming request. The caller owns the
// response body and must close it.
func (c *Client) StreamCompletion(ctx context.Context, backend Backend, req CompletionRequest) (*http.Response, error) {
	req.Stream = true
	resp, err := c.do(ctx, backend, req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	return resp, nil
}

// Complete issues a non-streaming request and decodes the single JSON
// document.
func (c *Client) Complete(ctx context.Context, backend Backend, req CompletionRequest) (*CompletionResponse, error) {
	req.Stream = false
	resp, err := c.do(ctx, backend, req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ClassifyStatusError(resp.StatusCode, body, len(req.Tools) > 0)
	}

	var decoded CompletionResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("parse upstream response: %w", err)
	}
	return &decoded, nil
}
