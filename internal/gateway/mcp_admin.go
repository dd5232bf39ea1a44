package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/clarahq/clara/internal/mcp"
)

const mcpAdminTimeout = 60 * time.Second

var (
	errNoPlugins      = errors.New("plugin servers are disabled")
	errUnknownAdminOp = errors.New("unknown admin operation")
)

// PluginAdmin is the slice of the plugin manager the gateway exposes to
// adapters. *mcp.Manager satisfies it.
type PluginAdmin interface {
	Install(ctx context.Context, source, name, requestedBy string, env map[string]string) (*mcp.CatalogEntry, error)
	Uninstall(name string) error
	SetEnabled(ctx context.Context, name string, enabled bool) error
	Restart(ctx context.Context, name string) error
	Status(name string) []mcp.ServerStatus
}

func (c *wsConn) handleMCPAdmin(frameType string, raw []byte) {
	var frame mcpAdminFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.sendError("", "invalid_message", err.Error(), true)
		return
	}

	if c.server.plugins == nil {
		c.sendMCPResponse(frameType, frame.RequestID, nil, errNoPlugins)
		return
	}

	// Install can pull an image or clone a repo, so admin calls get
	// their own timeout rather than running on the read loop unbounded.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mcpAdminTimeout)
		defer cancel()
		payload, err := c.runMCPAdmin(ctx, frameType, &frame)
		c.sendMCPResponse(frameType, frame.RequestID, payload, err)
	}()
}

func (c *wsConn) runMCPAdmin(ctx context.Context, frameType string, frame *mcpAdminFrame) (any, error) {
	plugins := c.server.plugins
	switch frameType {
	case frameMCPList, frameMCPStatus:
		return plugins.Status(frame.ServerName), nil
	case frameMCPInstall:
		return plugins.Install(ctx, frame.Source, frame.Name, frame.RequestedBy, frame.Env)
	case frameMCPUninstall:
		return nil, plugins.Uninstall(frame.ServerName)
	case frameMCPRestart:
		return nil, plugins.Restart(ctx, frame.ServerName)
	case frameMCPEnable:
		enabled := frame.Enabled != nil && *frame.Enabled
		return nil, plugins.SetEnabled(ctx, frame.ServerName, enabled)
	default:
		return nil, errUnknownAdminOp
	}
}

func (c *wsConn) sendMCPResponse(frameType, requestID string, payload any, err error) {
	resp := mcpResponseFrame{
		Type:      frameType + "_response",
		RequestID: requestID,
		OK:        err == nil,
		Payload:   payload,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	c.sendFrame(resp.Type, resp)
}
