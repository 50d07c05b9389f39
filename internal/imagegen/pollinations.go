// Package imagegen is the image-generation leaf skill, backed by the
// Pollinations image API.
package imagegen

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultBaseURL = "https://image.pollinations.ai/prompt"
	maxAttempts    = 3
	retryDelay     = 2 * time.Second
	requestTimeout = 35 * time.Second
)

// Generator fetches generated images with a bounded retry contract and
// saves them under a local data directory.
type Generator struct {
	baseURL    string
	outputDir  string
	publicBase string // URL prefix under which outputDir is served
	httpClient *http.Client
	log        *slog.Logger
	sleep      func(time.Duration) // test seam
}

func NewGenerator(outputDir, publicBase string, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		baseURL:    defaultBaseURL,
		outputDir:  outputDir,
		publicBase: strings.TrimSuffix(publicBase, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		log:        logger,
		sleep:      time.Sleep,
	}
}

// NewGeneratorWithBaseURL is used by tests to point at a stub server.
func NewGeneratorWithBaseURL(baseURL, outputDir, publicBase string, logger *slog.Logger) *Generator {
	g := NewGenerator(outputDir, publicBase, logger)
	g.baseURL = strings.TrimSuffix(baseURL, "/")
	g.sleep = func(time.Duration) {}
	return g
}

func (g *Generator) imageURL(query string, seed int) string {
	return fmt.Sprintf("%s/%s?nologo=true&seed=%d&width=768&height=768&model=flux",
		g.baseURL, url.PathEscape(query), seed)
}

// Generate produces the markdown for one generated image. The skill
// never raises: failures become user-visible warning text.
func (g *Generator) Generate(ctx context.Context, query string) string {
	data, err := g.fetchWithRetry(ctx, query)
	if err != nil {
		g.log.Warn("image generation failed", "query", query, "error", err)
		return fmt.Sprintf("⚠️ **Image generation failed**: %v. Please try again later.", err)
	}

	publicURL, err := g.save(data)
	if err != nil {
		g.log.Warn("image save failed", "error", err)
		return fmt.Sprintf("⚠️ **Image generation failed**: %v. Please try again later.", err)
	}
	return fmt.Sprintf("![Generated Image](%s)\n\n*Image generated for: %s*", publicURL, query)
}

// fetchWithRetry tries up to maxAttempts times with a fresh random seed
// per attempt, failing only after the final one.
func (g *Generator) fetchWithRetry(ctx context.Context, query string) ([]byte, error) {
	var lastStatus string
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			g.sleep(retryDelay)
		}
		seed := rand.Intn(100_000)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.imageURL(query, seed), nil)
		if err != nil {
			return nil, err
		}
		resp, err := g.httpClient.Do(req)
		if err != nil {
			lastStatus = "timeout"
			continue
		}
		if resp.StatusCode == http.StatusOK && strings.HasPrefix(resp.Header.Get("Content-Type"), "image/") {
			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err == nil {
				return data, nil
			}
			lastStatus = err.Error()
			continue
		}
		lastStatus = fmt.Sprintf("%d", resp.StatusCode)
		resp.Body.Close()
	}
	return nil, fmt.Errorf("image service unavailable after %d attempts (last status: %s)", maxAttempts, lastStatus)
}

func (g *Generator) save(data []byte) (string, error) {
	if err := os.MkdirAll(g.outputDir, 0755); err != nil {
		return "", err
	}
	filename := fmt.Sprintf("gen_%s.jpg", uuid.NewString()[:10])
	if err := os.WriteFile(filepath.Join(g.outputDir, filename), data, 0644); err != nil {
		return "", err
	}
	return g.publicBase + "/" + filename, nil
}
