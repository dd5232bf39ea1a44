// Package mcp manages plugin tool servers speaking the Model Context
// Protocol over stdio or HTTP JSON-RPC.
package mcp

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// NameSeparator joins a server name and a tool name into the
// namespaced form exposed to the model, e.g. "github__create_issue".
const NameSeparator = "__"

// Namespaced returns the model-facing name for a server's tool.
func Namespaced(server, tool string) string {
	return server + NameSeparator + tool
}

// SplitName splits a namespaced tool name into server and tool parts.
// ok is false when the name carries no namespace.
func SplitName(name string) (server, tool string, ok bool) {
	server, tool, ok = strings.Cut(name, NameSeparator)
	if !ok || server == "" || tool == "" {
		return "", "", false
	}
	return server, tool, true
}

// TransportKind selects the wire transport for a server.
type TransportKind string

const (
	TransportStdio TransportKind = "stdio"
	TransportHTTP  TransportKind = "http"
)

// ServerState is the lifecycle state of one plugin server.
type ServerState string

const (
	StateStopped  ServerState = "stopped"
	StateStarting ServerState = "starting"
	StateRunning  ServerState = "running"
	StateStopping ServerState = "stopping"
	StateError    ServerState = "error"
)

// ServerConfig describes how to reach one plugin server.
type ServerConfig struct {
	Name      string        `yaml:"name" json:"name"`
	Source    string        `yaml:"source" json:"source"`
	Transport TransportKind `yaml:"transport" json:"transport"`

	// stdio transport
	Command string            `yaml:"command" json:"command,omitempty"`
	Args    []string          `yaml:"args" json:"args,omitempty"`
	Env     map[string]string `yaml:"env" json:"env,omitempty"`
	WorkDir string            `yaml:"workdir" json:"workdir,omitempty"`

	// http transport
	URL     string            `yaml:"url" json:"url,omitempty"`
	Headers map[string]string `yaml:"headers" json:"headers,omitempty"`

	Timeout   time.Duration `yaml:"timeout" json:"timeout,omitempty"`
	AutoStart bool          `yaml:"auto_start" json:"auto_start,omitempty"`
}

// Validate rejects configurations that could not work or look unsafe.
func (c *ServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("server name is required")
	}
	if strings.Contains(c.Name, NameSeparator) {
		return fmt.Errorf("server name %q must not contain %q", c.Name, NameSeparator)
	}

	switch c.Transport {
	case TransportHTTP:
		if c.URL == "" {
			return fmt.Errorf("http config for %s: url is required", c.Name)
		}
		if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
			return fmt.Errorf("http config for %s: url must start with http:// or https://", c.Name)
		}
	case TransportStdio, "":
		if c.Command == "" {
			return fmt.Errorf("stdio config for %s: command is required", c.Name)
		}
		if strings.Contains(filepath.Clean(c.Command), "..") {
			return fmt.Errorf("stdio config for %s: command contains path traversal", c.Name)
		}
		for i, arg := range c.Args {
			if containsShellMetachars(arg) {
				return fmt.Errorf("stdio config for %s: arg[%d] contains shell metacharacters: %q", c.Name, i, arg)
			}
		}
	default:
		return fmt.Errorf("unknown transport %q for %s", c.Transport, c.Name)
	}
	return nil
}

func containsShellMetachars(s string) bool {
	// Only patterns that suggest command chaining; quotes and spaces are
	// common in legitimate args.
	for _, pattern := range []string{"$(", "${", "`", "&&", "||", ";", "|", ">", "<", "\n", "\r"} {
		if strings.Contains(s, pattern) {
			return true
		}
	}
	return false
}

// Tool is one tool exposed by a plugin server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// CallResult is the structured result of a tool invocation.
type CallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock is one piece of tool output.
type ContentBlock struct {
	Type     string `json:"type"` // text | image | resource
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Text flattens a result's text blocks into one string.
func (r *CallResult) Text() string {
	var parts []string
	for _, block := range r.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// JSON-RPC 2.0 envelope types.

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ServerInfo identifies the remote server after initialize.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      ServerInfo `json:"serverInfo"`
}

type listToolsResult struct {
	Tools []*Tool `json:"tools"`
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}
