package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBraveEndpoint = "https://api.search.brave.com/res/v1/web/search"
	braveMaxBodyBytes    = 2 << 20 // 2 MiB
	braveMaxResults      = 10
)

// BraveSearcher implements Searcher against the Brave Search API.
type BraveSearcher struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

func NewBraveSearcher(apiKey string) *BraveSearcher {
	return &BraveSearcher{
		apiKey:     strings.TrimSpace(apiKey),
		endpoint:   defaultBraveEndpoint,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// NewBraveSearcherWithEndpoint is used by tests to point at a stub.
func NewBraveSearcherWithEndpoint(apiKey, endpoint string) *BraveSearcher {
	s := NewBraveSearcher(apiKey)
	s.endpoint = endpoint
	return s
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (s *BraveSearcher) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("missing query")
	}
	if maxResults <= 0 || maxResults > braveMaxResults {
		maxResults = braveMaxResults
	}

	endpoint, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid search endpoint: %w", err)
	}
	q := endpoint.Query()
	q.Set("q", query)
	q.Set("count", strconv.Itoa(maxResults))
	endpoint.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Subscription-Token", s.apiKey)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, braveMaxBodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("web search failed (status %d)", resp.StatusCode)
		}
		return nil, errors.New(msg)
	}

	var decoded braveResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, errors.New("invalid web search response")
	}

	results := make([]Result, 0, len(decoded.Web.Results))
	for _, item := range decoded.Web.Results {
		u := strings.TrimSpace(item.URL)
		if u == "" {
			continue
		}
		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = u
		}
		results = append(results, Result{
			Title:   title,
			URL:     u,
			Snippet: strings.TrimSpace(item.Description),
		})
	}
	return results, nil
}
