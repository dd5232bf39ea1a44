package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/clarahq/clara/internal/memory"
)

func TestDatetimeTool(t *testing.T) {
	def := NewDatetimeTool()

	out, err := def.Handler(context.Background(), Invocation{Params: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !strings.Contains(out, "unix") {
		t.Errorf("output = %q", out)
	}

	_, err = def.Handler(context.Background(), Invocation{Params: json.RawMessage(`{"timezone":"Not/AZone"}`)})
	if err == nil {
		t.Error("bad timezone should fail")
	}
}

func TestWebSearchToolSearXNG(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "golang" {
			t.Errorf("q = %q", r.URL.Query().Get("q"))
		}
		json.NewEncoder(w).Encode(searxngResponse{Results: []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		}{
			{Title: "The Go Programming Language", URL: "https://go.dev", Content: "Go is fast"},
		}})
	}))
	defer srv.Close()

	def := NewWebSearchTool(WebSearchConfig{SearXNGURL: srv.URL})
	out, err := def.Handler(context.Background(), Invocation{Params: json.RawMessage(`{"query":"golang"}`)})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !strings.Contains(out, "go.dev") || !strings.Contains(out, "Go is fast") {
		t.Errorf("output = %q", out)
	}
}

func TestWebSearchToolRequiresQuery(t *testing.T) {
	def := NewWebSearchTool(WebSearchConfig{})
	if _, err := def.Handler(context.Background(), Invocation{Params: json.RawMessage(`{"query":" "}`)}); err == nil {
		t.Error("blank query should fail")
	}
}

func TestFetchURLTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><style>.x{color:red}</style><script>var x=1;</script></head>` +
			`<body><h1>Title</h1><p>Body text here</p></body></html>`))
	}))
	defer srv.Close()

	def := NewFetchURLTool(FetchURLConfig{})
	out, err := def.Handler(context.Background(), Invocation{
		Params: json.RawMessage(`{"url":"` + srv.URL + `"}`),
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !strings.Contains(out, "Title") || !strings.Contains(out, "Body text here") {
		t.Errorf("output = %q", out)
	}
	if strings.Contains(out, "var x=1") || strings.Contains(out, "color:red") {
		t.Errorf("script/style leaked: %q", out)
	}
}

func TestFetchURLRejectsNonHTTP(t *testing.T) {
	def := NewFetchURLTool(FetchURLConfig{})
	if _, err := def.Handler(context.Background(), Invocation{
		Params: json.RawMessage(`{"url":"file:///etc/passwd"}`),
	}); err == nil {
		t.Error("non-http scheme should fail")
	}
}

// fakeMemory returns canned search results.
type fakeMemory struct {
	memory.NoopClient
	result *memory.SearchResult
}

func (f *fakeMemory) Search(ctx context.Context, query string, userIDs []string, projectID string) (*memory.SearchResult, error) {
	return f.result, nil
}

func TestMemorySearchTool(t *testing.T) {
	client := &fakeMemory{result: &memory.SearchResult{
		UserMemories: []string{"prefers dark mode"},
		Relations:    []memory.Relation{{Source: "user", Relation: "works_at", Target: "acme"}},
	}}
	def := NewMemorySearchTool(client)

	out, err := def.Handler(context.Background(), Invocation{
		Params:  json.RawMessage(`{"query":"preferences"}`),
		UserIDs: []string{"discord:1"},
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !strings.Contains(out, "dark mode") || !strings.Contains(out, "works_at") {
		t.Errorf("output = %q", out)
	}
}

func TestRegisterBuiltins(t *testing.T) {
	registry := NewRegistry()
	if err := RegisterBuiltins(registry, BuiltinConfig{}, memory.NoopClient{}); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}

	for _, name := range []string{"web_search", "fetch_url", "datetime", "memory_search"} {
		if _, ok := registry.Get(name); !ok {
			t.Errorf("builtin %s not registered", name)
		}
	}
}

func TestStripHTML(t *testing.T) {
	got := stripHTML(`<div>a<script>bad()</script>b <b>c</b></div>`)
	if got != "a b c" {
		t.Errorf("stripHTML = %q", got)
	}
}
