package providers

import (
	"encoding/json"
	"testing"

	"github.com/clarahq/clara/internal/agent"
	"github.com/clarahq/clara/internal/tools"
	"github.com/clarahq/clara/pkg/models"
)

func TestConvertAnthropicMessagesSkipsSystemAndEmpty(t *testing.T) {
	out, err := convertAnthropicMessages([]agent.CompletionMessage{
		{Role: "system", Content: "persona"},
		{Role: "user", Content: ""},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len = %d", len(out))
	}
	if out[0].Role != "user" || out[1].Role != "assistant" {
		t.Errorf("roles = %s, %s", out[0].Role, out[1].Role)
	}
}

func TestConvertAnthropicMessagesToolTurns(t *testing.T) {
	out, err := convertAnthropicMessages([]agent.CompletionMessage{
		{
			Role:    "assistant",
			Content: "checking",
			ToolCalls: []models.ToolCall{
				{ID: "c1", Name: "lookup", Input: json.RawMessage(`{"q":"x"}`)},
			},
		},
		{
			Role: "user",
			ToolResults: []models.ToolResult{
				{ToolCallID: "c1", Content: "found"},
			},
		},
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len = %d", len(out))
	}
	if len(out[0].Content) != 2 {
		t.Errorf("assistant blocks = %d, want text + tool_use", len(out[0].Content))
	}
	if len(out[1].Content) != 1 {
		t.Errorf("result blocks = %d", len(out[1].Content))
	}
}

func TestConvertAnthropicMessagesRejectsBadToolInput(t *testing.T) {
	_, err := convertAnthropicMessages([]agent.CompletionMessage{
		{
			Role:      "assistant",
			ToolCalls: []models.ToolCall{{ID: "c1", Name: "lookup", Input: json.RawMessage("{")}},
		},
	})
	if err == nil {
		t.Fatal("expected error for malformed tool input")
	}
}

func TestConvertAnthropicTools(t *testing.T) {
	entries := []tools.SchemaEntry{
		{
			Name:        "lookup",
			Description: "Look things up",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`),
		},
	}
	out, err := convertAnthropicTools(entries)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(out) != 1 || out[0].OfTool == nil {
		t.Fatalf("out = %+v", out)
	}
	if out[0].OfTool.Name != "lookup" {
		t.Errorf("name = %q", out[0].OfTool.Name)
	}

	if _, err := convertAnthropicTools([]tools.SchemaEntry{{Name: "bad", InputSchema: json.RawMessage("{")}}); err == nil {
		t.Error("expected error for malformed schema")
	}
}

func TestNewAnthropicProviderRequiresKey(t *testing.T) {
	if _, err := NewAnthropicProvider(AnthropicConfig{}); err == nil {
		t.Fatal("expected error without api key")
	}
}
