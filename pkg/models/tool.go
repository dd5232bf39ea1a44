package models

import (
	"encoding/json"
)

// ToolCall is an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the output of a tool execution, paired to its call by ID.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// RiskLevel classifies how dangerous a tool is to invoke.
type RiskLevel string

const (
	RiskSafe      RiskLevel = "safe"
	RiskModerate  RiskLevel = "moderate"
	RiskDangerous RiskLevel = "dangerous"
)

// Intent declares a tool's side-effect class. Read-intent tools may be
// executed concurrently within one turn; everything else is serialized.
type Intent string

const (
	IntentRead    Intent = "read"
	IntentWrite   Intent = "write"
	IntentExecute Intent = "execute"
	IntentNetwork Intent = "network"
)

// Capability names an adapter feature a tool may require.
type Capability string

const (
	CapReactions   Capability = "reactions"
	CapAttachments Capability = "attachments"
	CapEmbeds      Capability = "embeds"
	CapThreads     Capability = "threads"
	CapEditing     Capability = "editing"
	CapButtons     Capability = "buttons"
)

// FileData is a file produced during a response, sent back to the adapter.
type FileData struct {
	Filename      string `json:"filename"`
	ContentBase64 string `json:"content_base64"`
	MediaType     string `json:"media_type"`
}
