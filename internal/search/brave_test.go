package search

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBraveSearch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Subscription-Token"); got != "test-key" {
			t.Errorf("token header %q", got)
		}
		if got := r.URL.Query().Get("q"); got != "go generics" {
			t.Errorf("query %q", got)
		}
		if got := r.URL.Query().Get("count"); got != "3" {
			t.Errorf("count %q", got)
		}
		fmt.Fprint(w, `{"web":{"results":[
			{"title":"Go Blog","url":"https://go.dev/blog","description":"intro"},
			{"title":"","url":"https://example.com","description":"untitled"},
			{"title":"No URL","url":"","description":"dropped"}
		]}}`)
	}))
	defer ts.Close()

	s := NewBraveSearcherWithEndpoint("test-key", ts.URL)
	results, err := s.Search(context.Background(), "go generics", 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Title != "Go Blog" || results[0].URL != "https://go.dev/blog" {
		t.Fatalf("first result: %+v", results[0])
	}
	// A missing title falls back to the URL.
	if results[1].Title != "https://example.com" {
		t.Fatalf("title fallback: %+v", results[1])
	}
}

func TestBraveSearchEmptyQuery(t *testing.T) {
	s := NewBraveSearcher("key")
	if _, err := s.Search(context.Background(), "   ", 5); err == nil {
		t.Fatal("expected an error for an empty query")
	}
}

func TestBraveSearchErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, "rate limited")
	}))
	defer ts.Close()

	s := NewBraveSearcherWithEndpoint("key", ts.URL)
	_, err := s.Search(context.Background(), "q", 5)
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("got %v", err)
	}
}

func TestMarkdown(t *testing.T) {
	got := Markdown([]Result{
		{Title: "Go Blog", URL: "https://go.dev/blog", Snippet: "news"},
	})
	if !strings.Contains(got, "[Go Blog](https://go.dev/blog)") || !strings.Contains(got, "news") {
		t.Fatalf("got %q", got)
	}
}
