package providers

import (
	"encoding/json"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/clarahq/clara/internal/agent"
	"github.com/clarahq/clara/internal/tools"
	"github.com/clarahq/clara/pkg/models"
)

func TestNewOpenAIProviderRequiresKeyOrBaseURL(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil {
		t.Fatal("expected error without key or base url")
	}
	if _, err := NewOpenAIProvider(OpenAIConfig{BaseURL: "http://localhost:11434/v1"}); err != nil {
		t.Fatalf("base url alone should suffice: %v", err)
	}
}

func TestConvertOpenAIMessagesSystemFirst(t *testing.T) {
	out := convertOpenAIMessages([]agent.CompletionMessage{
		{Role: "user", Content: "hi"},
	}, "be brief")

	if len(out) != 2 {
		t.Fatalf("len = %d", len(out))
	}
	if out[0].Role != openai.ChatMessageRoleSystem || out[0].Content != "be brief" {
		t.Errorf("system = %+v", out[0])
	}
	if out[1].Role != openai.ChatMessageRoleUser {
		t.Errorf("user = %+v", out[1])
	}
}

func TestConvertOpenAIMessagesToolTurns(t *testing.T) {
	out := convertOpenAIMessages([]agent.CompletionMessage{
		{
			Role:    "assistant",
			Content: "checking",
			ToolCalls: []models.ToolCall{
				{ID: "c1", Name: "lookup", Input: json.RawMessage(`{"q":"x"}`)},
			},
		},
		{
			Role: "tool",
			ToolResults: []models.ToolResult{
				{ToolCallID: "c1", Content: "found"},
				{ToolCallID: "c2", Content: "also"},
			},
		},
	}, "")

	if len(out) != 3 {
		t.Fatalf("len = %d", len(out))
	}
	assistant := out[0]
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].Function.Name != "lookup" {
		t.Errorf("assistant = %+v", assistant)
	}
	if assistant.ToolCalls[0].Function.Arguments != `{"q":"x"}` {
		t.Errorf("args = %q", assistant.ToolCalls[0].Function.Arguments)
	}

	// Each result becomes its own tool message.
	if out[1].Role != openai.ChatMessageRoleTool || out[1].ToolCallID != "c1" {
		t.Errorf("tool[0] = %+v", out[1])
	}
	if out[2].ToolCallID != "c2" {
		t.Errorf("tool[1] = %+v", out[2])
	}
}

func TestConvertOpenAIMessagesImageParts(t *testing.T) {
	out := convertOpenAIMessages([]agent.CompletionMessage{
		{
			Role:    "user",
			Content: "what is this",
			Attachments: []models.Attachment{
				{Kind: models.AttachmentImage, Filename: "cat.png", MediaType: "image/png", Data: "AAAA"},
				{Kind: models.AttachmentText, Filename: "notes.txt", Content: "skip me"},
			},
		},
	}, "")

	if len(out) != 1 {
		t.Fatalf("len = %d", len(out))
	}
	parts := out[0].MultiContent
	if len(parts) != 2 {
		t.Fatalf("parts = %d", len(parts))
	}
	if parts[0].Type != openai.ChatMessagePartTypeText || parts[0].Text != "what is this" {
		t.Errorf("text part = %+v", parts[0])
	}
	if !strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("image url = %q", parts[1].ImageURL.URL)
	}
}

func TestConvertOpenAITools(t *testing.T) {
	entries := []tools.SchemaEntry{
		{
			Name:        "lookup",
			Description: "Look things up",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`),
		},
	}
	out, err := convertOpenAITools(entries)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(out) != 1 || out[0].Function.Name != "lookup" {
		t.Fatalf("out = %+v", out)
	}

	if _, err := convertOpenAITools([]tools.SchemaEntry{{Name: "bad", InputSchema: json.RawMessage("{")}}); err == nil {
		t.Error("expected error for malformed schema")
	}
}

func TestPoolCachesProviders(t *testing.T) {
	pool := NewPool()
	spec := Spec{Kind: "openai", APIKey: "k"}

	first, err := pool.Get(spec)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := pool.Get(spec)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first != second {
		t.Error("same spec should return the cached provider")
	}

	if _, err := pool.Get(Spec{Kind: "gopher"}); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestOllamaProviderNamedByKind(t *testing.T) {
	pool := NewPool()
	provider, err := pool.Get(Spec{Kind: "ollama", BaseURL: "http://localhost:11434/v1"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if provider.Name() != "ollama" {
		t.Errorf("name = %q", provider.Name())
	}
}
