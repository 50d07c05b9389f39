package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"llmhub/internal/chat"
	"llmhub/internal/config"
)

// ProviderEmulator and ProviderOpenRouter are the two provider values
// accepted by the settings surface.
const (
	ProviderOpenRouter = "openrouter"
	ProviderEmulator   = "emulator"
)

// BackendResolver maps the active provider setting onto a concrete
// backend, once per request boundary. The emulator's detected model is
// cached process-wide behind a mutex so concurrent first requests do
// not issue duplicate discovery calls; the cache is invalidated on
// provider switch.
type BackendResolver struct {
	cfg        *config.Config
	httpClient *http.Client

	mu            sync.Mutex
	detectedModel string
}

func NewBackendResolver(cfg *config.Config) *BackendResolver {
	return &BackendResolver{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Resolve returns the backend for the active provider and the model to
// request. An empty request model against the emulator triggers model
// auto-detection.
func (r *BackendResolver) Resolve(ctx context.Context, provider, requestModel string) (chat.Backend, string, error) {
	if provider == ProviderEmulator {
		backend := chat.Backend{
			Kind:            chat.BackendInternal,
			BaseURL:         r.cfg.Emulator.BaseURL,
			NativeReasoning: chat.IsNativeReasoningModel(requestModel),
		}
		model := requestModel
		if model == "" {
			model = r.cfg.Emulator.Model
		}
		if model == "" {
			detected, err := r.detectModel(ctx)
			if err != nil {
				return chat.Backend{}, "", err
			}
			model = detected
		}
		return backend, model, nil
	}

	backend := chat.Backend{
		Kind:            chat.BackendExternal,
		BaseURL:         r.cfg.OpenRouter.BaseURL,
		APIKey:          r.cfg.OpenRouter.APIKey,
		AppURL:          r.cfg.OpenRouter.AppURL,
		AppTitle:        r.cfg.OpenRouter.AppTitle,
		NativeReasoning: chat.IsNativeReasoningModel(requestModel),
	}
	return backend, requestModel, nil
}

// Invalidate drops the cached detected model. Called on provider
// switch.
func (r *BackendResolver) Invalidate() {
	r.mu.Lock()
	r.detectedModel = ""
	r.mu.Unlock()
}

func (r *BackendResolver) detectModel(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.detectedModel != "" {
		return r.detectedModel, nil
	}

	url := strings.TrimSuffix(r.cfg.Emulator.BaseURL, "/") + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("model discovery failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model discovery failed (status %d)", resp.StatusCode)
	}

	var decoded struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("parse model list: %w", err)
	}
	if len(decoded.Data) == 0 {
		return "", fmt.Errorf("no models available from local server")
	}
	r.detectedModel = decoded.Data[0].ID
	return r.detectedModel, nil
}
