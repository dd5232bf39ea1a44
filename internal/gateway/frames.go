package gateway

import (
	"github.com/clarahq/clara/pkg/models"
)

// Adapter→core frame types.
const (
	frameRegister     = "register"
	framePing         = "ping"
	frameMessage      = "message"
	frameCancel       = "cancel"
	frameStatus       = "status"
	frameMCPList      = "mcp_list"
	frameMCPInstall   = "mcp_install"
	frameMCPUninstall = "mcp_uninstall"
	frameMCPStatus    = "mcp_status"
	frameMCPRestart   = "mcp_restart"
	frameMCPEnable    = "mcp_enable"
)

// Core→adapter frame types.
const (
	frameRegistered    = "registered"
	framePong          = "pong"
	frameResponseStart = "response_start"
	frameToolStart     = "tool_start"
	frameToolResult    = "tool_result"
	frameResponseChunk = "response_chunk"
	frameResponseEnd   = "response_end"
	frameCancelled     = "cancelled"
	frameError         = "error"
	frameStatusReply   = "status"
)

// inboundEnvelope is the minimal shape every adapter frame must have;
// the full frame is re-decoded per type after schema validation.
type inboundEnvelope struct {
	Type string `json:"type"`
}

type registerFrame struct {
	Type         string              `json:"type"`
	NodeID       string              `json:"node_id"`
	Platform     string              `json:"platform"`
	Capabilities []models.Capability `json:"capabilities"`
	Metadata     map[string]string   `json:"metadata,omitempty"`
}

type messageFrame struct {
	Type         string              `json:"type"`
	ID           string              `json:"id"`
	User         models.User         `json:"user"`
	Channel      models.ChannelRef   `json:"channel"`
	Content      string              `json:"content"`
	Attachments  []models.Attachment `json:"attachments,omitempty"`
	ReplyChain   []models.ReplyRef   `json:"reply_chain,omitempty"`
	Metadata     map[string]string   `json:"metadata,omitempty"`
	TierOverride string              `json:"tier_override,omitempty"`
}

type cancelFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
}

type mcpAdminFrame struct {
	Type        string            `json:"type"`
	RequestID   string            `json:"request_id"`
	Source      string            `json:"source,omitempty"`
	Name        string            `json:"name,omitempty"`
	ServerName  string            `json:"server_name,omitempty"`
	RequestedBy string            `json:"requested_by,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
}

type registeredFrame struct {
	Type      string `json:"type"`
	NodeID    string `json:"node_id"`
	SessionID string `json:"session_id"`
	Reconnect bool   `json:"reconnect"`
}

type pongFrame struct {
	Type string `json:"type"`
}

type responseStartFrame struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	RequestID string `json:"request_id"`
}

type toolStartFrame struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	RequestID string `json:"request_id"`
	ToolName  string `json:"tool_name"`
	Step      int    `json:"step"`
	Args      string `json:"args_preview,omitempty"`
}

type toolResultFrame struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	RequestID string `json:"request_id"`
	ToolName  string `json:"tool_name"`
	Step      int    `json:"step"`
	Success   bool   `json:"success"`
	Preview   string `json:"output_preview,omitempty"`
}

type responseChunkFrame struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	RequestID   string `json:"request_id"`
	Chunk       string `json:"chunk"`
	Accumulated string `json:"accumulated"`
}

// fileData carries an outbound file extracted from a response.
type fileData struct {
	Filename      string `json:"filename"`
	ContentBase64 string `json:"content_base64"`
	MediaType     string `json:"media_type,omitempty"`
}

type responseEndFrame struct {
	Type      string     `json:"type"`
	ID        string     `json:"id"`
	RequestID string     `json:"request_id"`
	FullText  string     `json:"full_text"`
	Files     []string   `json:"files,omitempty"`
	FileData  []fileData `json:"file_data,omitempty"`
	ToolCount int        `json:"tool_count"`
}

type cancelledFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
}

type errorFrame struct {
	Type        string `json:"type"`
	RequestID   string `json:"request_id,omitempty"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

type statusFrame struct {
	Type           string `json:"type"`
	ActiveRequests int    `json:"active_requests"`
	QueueLength    int    `json:"queue_length"`
	ConnectedNodes int    `json:"connected_nodes"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
}

type mcpResponseFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}
