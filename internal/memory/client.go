// Package memory talks to the external semantic memory engine.
//
// The engine owns vectors, graphs, and spaced repetition; the gateway only
// sees formatted strings, relation triples, and opaque memory ids. Every
// read is best-effort: the caller treats a failure as an empty result.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Relation is one graph edge, rendered as "A → relation → B" in prompts.
type Relation struct {
	Source   string `json:"source"`
	Relation string `json:"relation"`
	Target   string `json:"target"`
}

// SearchResult is what one semantic query returns.
type SearchResult struct {
	UserMemories    []string   `json:"user_memories"`
	ProjectMemories []string   `json:"project_memories"`
	Relations       []Relation `json:"relations"`

	// MemoryIDs identifies retrieved memories for later reinforcement.
	MemoryIDs []string `json:"memory_ids"`
}

// EmotionalMoment is one non-neutral session summary with hints.
type EmotionalMoment struct {
	Summary string    `json:"summary"`
	Channel string    `json:"channel,omitempty"`
	When    time.Time `json:"when"`
}

// Topic is a recurring entity or theme.
type Topic struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Intention is a prior commitment to surface now.
type Intention struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// Client is the gateway's view of the memory engine.
type Client interface {
	// Add submits a conversation excerpt for fact extraction and insert.
	Add(ctx context.Context, userID, projectID string, turns []Turn) error

	// Search queries user- and project-scoped memories plus relations.
	Search(ctx context.Context, query string, userIDs []string, projectID string) (*SearchResult, error)

	// GetAll lists every formatted memory for a user.
	GetAll(ctx context.Context, userID string) ([]string, error)

	// EmotionalContext returns the last few non-neutral session summaries.
	EmotionalContext(ctx context.Context, userIDs []string) ([]EmotionalMoment, error)

	// RecurringTopics returns themes mentioned repeatedly in recent days.
	RecurringTopics(ctx context.Context, userIDs []string) ([]Topic, error)

	// ActiveIntentions returns commitments due to surface.
	ActiveIntentions(ctx context.Context, userIDs []string) ([]Intention, error)

	// Reinforce promotes memories that were retrieved for a turn.
	Reinforce(ctx context.Context, memoryIDs []string) error
}

// Turn is one message handed to the extractor.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HTTPConfig configures the HTTP client.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
}

// HTTPClient implements Client against the engine's JSON API.
type HTTPClient struct {
	base string
	http *http.Client
}

// NewHTTPClient creates a client for the engine at cfg.BaseURL.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		base: cfg.BaseURL,
		http: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("call %s: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *HTTPClient) Add(ctx context.Context, userID, projectID string, turns []Turn) error {
	return c.post(ctx, "/add", map[string]any{
		"user_id":    userID,
		"project_id": projectID,
		"messages":   turns,
	}, nil)
}

func (c *HTTPClient) Search(ctx context.Context, query string, userIDs []string, projectID string) (*SearchResult, error) {
	var out SearchResult
	err := c.post(ctx, "/search", map[string]any{
		"query":      query,
		"user_ids":   userIDs,
		"project_id": projectID,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetAll(ctx context.Context, userID string) ([]string, error) {
	var out struct {
		Memories []string `json:"memories"`
	}
	if err := c.post(ctx, "/get_all", map[string]any{"user_id": userID}, &out); err != nil {
		return nil, err
	}
	return out.Memories, nil
}

func (c *HTTPClient) EmotionalContext(ctx context.Context, userIDs []string) ([]EmotionalMoment, error) {
	var out struct {
		Moments []EmotionalMoment `json:"moments"`
	}
	if err := c.post(ctx, "/emotional_context", map[string]any{"user_ids": userIDs}, &out); err != nil {
		return nil, err
	}
	return out.Moments, nil
}

func (c *HTTPClient) RecurringTopics(ctx context.Context, userIDs []string) ([]Topic, error) {
	var out struct {
		Topics []Topic `json:"topics"`
	}
	if err := c.post(ctx, "/topics", map[string]any{"user_ids": userIDs}, &out); err != nil {
		return nil, err
	}
	return out.Topics, nil
}

func (c *HTTPClient) ActiveIntentions(ctx context.Context, userIDs []string) ([]Intention, error) {
	var out struct {
		Intentions []Intention `json:"intentions"`
	}
	if err := c.post(ctx, "/intentions", map[string]any{"user_ids": userIDs}, &out); err != nil {
		return nil, err
	}
	return out.Intentions, nil
}

func (c *HTTPClient) Reinforce(ctx context.Context, memoryIDs []string) error {
	if len(memoryIDs) == 0 {
		return nil
	}
	return c.post(ctx, "/reinforce", map[string]any{"memory_ids": memoryIDs}, nil)
}

// NoopClient satisfies Client when no memory engine is configured.
type NoopClient struct{}

func (NoopClient) Add(ctx context.Context, userID, projectID string, turns []Turn) error {
	return nil
}

func (NoopClient) Search(ctx context.Context, query string, userIDs []string, projectID string) (*SearchResult, error) {
	return &SearchResult{}, nil
}

func (NoopClient) GetAll(ctx context.Context, userID string) ([]string, error) {
	return nil, nil
}

func (NoopClient) EmotionalContext(ctx context.Context, userIDs []string) ([]EmotionalMoment, error) {
	return nil, nil
}

func (NoopClient) RecurringTopics(ctx context.Context, userIDs []string) ([]Topic, error) {
	return nil, nil
}

func (NoopClient) ActiveIntentions(ctx context.Context, userIDs []string) ([]Intention, error) {
	return nil, nil
}

func (NoopClient) Reinforce(ctx context.Context, memoryIDs []string) error {
	return nil
}
