package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clarahq/clara/pkg/models"
)

// WebSearchConfig controls the web_search built-in.
type WebSearchConfig struct {
	// SearXNGURL points at a SearXNG instance; empty falls back to the
	// DuckDuckGo instant-answer API.
	SearXNGURL  string        `yaml:"searxng_url"`
	ResultCount int           `yaml:"result_count"`
	Timeout     time.Duration `yaml:"timeout"`
}

type webSearchParams struct {
	Query string `json:"query" jsonschema:"required,description=Search query"`
	Count int    `json:"count,omitempty" jsonschema:"description=Number of results to return (default 5)"`
}

type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

type duckduckgoResponse struct {
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	Heading       string `json:"Heading"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

// NewWebSearchTool builds the web_search definition.
func NewWebSearchTool(cfg WebSearchConfig) *Definition {
	if cfg.ResultCount <= 0 {
		cfg.ResultCount = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	client := &http.Client{Timeout: cfg.Timeout}

	return &Definition{
		Name:        "web_search",
		Description: "Search the web and return titles, URLs, and snippets.",
		Schema:      schemaFor(&webSearchParams{}),
		Risk:        models.RiskSafe,
		Intent:      models.IntentRead,
		Handler: func(ctx context.Context, inv Invocation) (string, error) {
			var params webSearchParams
			if err := json.Unmarshal(inv.Params, &params); err != nil {
				return "", fmt.Errorf("invalid parameters: %w", err)
			}
			if strings.TrimSpace(params.Query) == "" {
				return "", fmt.Errorf("query is required")
			}
			count := params.Count
			if count <= 0 || count > 20 {
				count = cfg.ResultCount
			}

			if cfg.SearXNGURL != "" {
				return searchSearXNG(ctx, client, cfg.SearXNGURL, params.Query, count)
			}
			return searchDuckDuckGo(ctx, client, params.Query, count)
		},
	}
}

func searchSearXNG(ctx context.Context, client *http.Client, base, query string, count int) (string, error) {
	endpoint := strings.TrimSuffix(base, "/") + "/search?format=json&q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	var parsed searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode search response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return "No results found for: " + query, nil
	}

	var sb strings.Builder
	for i, r := range parsed.Results {
		if i >= count {
			break
		}
		fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Content)
	}
	return sb.String(), nil
}

func searchDuckDuckGo(ctx context.Context, client *http.Client, query string, count int) (string, error) {
	endpoint := "https://api.duckduckgo.com/?format=json&no_html=1&q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	var parsed duckduckgoResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode search response: %w", err)
	}

	var sb strings.Builder
	if parsed.AbstractText != "" {
		fmt.Fprintf(&sb, "%s\n%s\n%s\n", parsed.Heading, parsed.AbstractText, parsed.AbstractURL)
	}
	for i, topic := range parsed.RelatedTopics {
		if i >= count || topic.Text == "" {
			break
		}
		fmt.Fprintf(&sb, "- %s\n  %s\n", topic.Text, topic.FirstURL)
	}
	if sb.Len() == 0 {
		return "No results found for: " + query, nil
	}
	return sb.String(), nil
}

// FetchURLConfig controls the fetch_url built-in.
type FetchURLConfig struct {
	MaxChars int           `yaml:"max_chars"`
	Timeout  time.Duration `yaml:"timeout"`
}

type fetchURLParams struct {
	URL      string `json:"url" jsonschema:"required,description=URL to fetch (http/https only)"`
	MaxChars int    `json:"max_chars,omitempty" jsonschema:"description=Maximum characters to return (default 10000)"`
}

// NewFetchURLTool builds the fetch_url definition: a lightweight fetch
// plus tag-stripping extraction, no browser automation.
func NewFetchURLTool(cfg FetchURLConfig) *Definition {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 10000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	client := &http.Client{Timeout: cfg.Timeout}

	return &Definition{
		Name:        "fetch_url",
		Description: "Fetch a URL and return its readable text content.",
		Schema:      schemaFor(&fetchURLParams{}),
		Risk:        models.RiskSafe,
		Intent:      models.IntentNetwork,
		Handler: func(ctx context.Context, inv Invocation) (string, error) {
			var params fetchURLParams
			if err := json.Unmarshal(inv.Params, &params); err != nil {
				return "", fmt.Errorf("invalid parameters: %w", err)
			}
			if !strings.HasPrefix(params.URL, "http://") && !strings.HasPrefix(params.URL, "https://") {
				return "", fmt.Errorf("url must be http or https")
			}
			maxChars := params.MaxChars
			if maxChars <= 0 || maxChars > cfg.MaxChars {
				maxChars = cfg.MaxChars
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, params.URL, nil)
			if err != nil {
				return "", err
			}
			req.Header.Set("User-Agent", "clara/1.0")

			resp, err := client.Do(req)
			if err != nil {
				return "", fmt.Errorf("fetch: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return "", fmt.Errorf("fetch returned status %d", resp.StatusCode)
			}

			body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
			if err != nil {
				return "", fmt.Errorf("read body: %w", err)
			}

			text := string(body)
			if strings.Contains(resp.Header.Get("Content-Type"), "html") {
				text = stripHTML(text)
			}
			if len(text) > maxChars {
				text = text[:maxChars] + "\n... (content truncated)"
			}
			return text, nil
		},
	}
}

// stripHTML removes tags, scripts, and styles, collapsing whitespace.
func stripHTML(s string) string {
	var sb strings.Builder
	inTag := false
	skipUntil := ""

	lower := strings.ToLower(s)
	for i := 0; i < len(s); i++ {
		if skipUntil != "" {
			if strings.HasPrefix(lower[i:], skipUntil) {
				i += len(skipUntil) - 1
				skipUntil = ""
				inTag = false
			}
			continue
		}
		switch {
		case s[i] == '<':
			inTag = true
			if strings.HasPrefix(lower[i:], "<script") {
				skipUntil = "</script>"
			} else if strings.HasPrefix(lower[i:], "<style") {
				skipUntil = "</style>"
			}
		case s[i] == '>':
			inTag = false
			sb.WriteByte(' ')
		case !inTag:
			sb.WriteByte(s[i])
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}
