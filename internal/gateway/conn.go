package gateway

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/clarahq/clara/internal/router"
	"github.com/clarahq/clara/pkg/models"
)

const (
	maxFramePayload = 1 << 20
	pingInterval    = 15 * time.Second
	pongWait        = 45 * time.Second
	writeWait       = 10 * time.Second
	sendBuffer      = 64
)

// fileMarker is the adapter-synthetic prefix a tool can emit to attach
// a file from the sandbox to the final response.
const fileMarker = "__FILE__:"

// wsConn is one adapter connection. It implements nodes.Conn so the
// registry can push frames and displace stale handles.
type wsConn struct {
	server *Server
	ws     *websocket.Conn
	logger *slog.Logger

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	nodeID   string
	platform string
	caps     []models.Capability
	inflight map[string]time.Time // request id -> submission time
}

func newWSConn(server *Server, ws *websocket.Conn) *wsConn {
	return &wsConn{
		server:   server,
		ws:       ws,
		logger:   server.logger,
		send:     make(chan []byte, sendBuffer),
		closed:   make(chan struct{}),
		inflight: make(map[string]time.Time),
	}
}

// Send marshals and enqueues one frame. Implements nodes.Conn.
func (c *wsConn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if len(data) > maxFramePayload {
		return errors.New("payload too large")
	}
	select {
	case <-c.closed:
		return errors.New("connection closed")
	case c.send <- data:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// Close tears the connection down. Implements nodes.Conn; also called
// when either loop exits.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()

		// Disconnect cancels everything still bound to this handle.
		c.mu.Lock()
		ids := make([]string, 0, len(c.inflight))
		for id := range c.inflight {
			ids = append(ids, id)
		}
		registered := c.nodeID != ""
		c.mu.Unlock()
		for _, id := range ids {
			c.server.processor.Cancel(id)
		}

		c.server.registry.Unregister(c)
		if registered {
			c.server.metrics.connectedNodes.Dec()
		}
	})
	return nil
}

func (c *wsConn) run() {
	go c.writeLoop()
	c.readLoop()
	_ = c.Close()
}

func (c *wsConn) readLoop() {
	c.ws.SetReadLimit(maxFramePayload)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.dispatch(data)
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

func (c *wsConn) dispatch(raw []byte) {
	var envelope inboundEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		c.sendError("", "invalid_json", err.Error(), true)
		return
	}
	c.server.metrics.framesIn.WithLabelValues(envelope.Type).Inc()

	if err := validateFrame(envelope.Type, raw); err != nil {
		c.sendError("", "invalid_message", err.Error(), true)
		return
	}

	if envelope.Type == frameRegister {
		c.handleRegister(raw)
		return
	}

	c.mu.Lock()
	registered := c.nodeID != ""
	c.mu.Unlock()
	if !registered {
		c.sendError("", "not_registered", "register before sending other frames", true)
		return
	}

	switch envelope.Type {
	case framePing:
		c.server.registry.UpdatePing(c)
		c.sendFrame(framePong, pongFrame{Type: framePong})
	case frameMessage:
		c.handleMessage(raw)
	case frameCancel:
		c.handleCancel(raw)
	case frameStatus:
		c.handleStatus()
	case frameMCPList, frameMCPInstall, frameMCPUninstall, frameMCPStatus, frameMCPRestart, frameMCPEnable:
		c.handleMCPAdmin(envelope.Type, raw)
	default:
		c.sendError("", "invalid_message", fmt.Sprintf("unknown frame type %q", envelope.Type), true)
	}
}

func (c *wsConn) handleRegister(raw []byte) {
	var frame registerFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.sendError("", "invalid_message", err.Error(), true)
		return
	}

	c.mu.Lock()
	first := c.nodeID == ""
	c.nodeID = frame.NodeID
	c.platform = frame.Platform
	c.caps = frame.Capabilities
	c.mu.Unlock()

	sessionID, reconnect := c.server.registry.Register(c, frame.NodeID, frame.Platform, frame.Capabilities, frame.Metadata)
	if first {
		c.server.metrics.connectedNodes.Inc()
	}

	c.sendFrame(frameRegistered, registeredFrame{
		Type:      frameRegistered,
		NodeID:    frame.NodeID,
		SessionID: sessionID,
		Reconnect: reconnect,
	})
}

func (c *wsConn) handleMessage(raw []byte) {
	var frame messageFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.sendError("", "invalid_message", err.Error(), true)
		return
	}

	// A message must carry something to respond to.
	if strings.TrimSpace(frame.Content) == "" && len(frame.Attachments) == 0 {
		c.sendError(frame.ID, "invalid_message", "message has no content or attachments", true)
		return
	}

	c.mu.Lock()
	platform, caps := c.platform, c.caps
	c.inflight[frame.ID] = time.Now()
	c.mu.Unlock()

	req := &models.Request{
		ID:           frame.ID,
		User:         frame.User,
		Channel:      frame.Channel,
		Content:      frame.Content,
		Attachments:  frame.Attachments,
		ReplyChain:   frame.ReplyChain,
		Metadata:     frame.Metadata,
		TierOverride: models.ModelTier(frame.TierOverride),
		Platform:     platform,
	}

	outcome := c.server.processor.Submit(req, platform, caps, &connEmitter{conn: c})
	if outcome == router.Rejected {
		c.finishRequest(frame.ID, "rejected")
		c.sendError(frame.ID, "queue_full", "channel queue is full", true)
	}
}

func (c *wsConn) handleCancel(raw []byte) {
	var frame cancelFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.sendError("", "invalid_message", err.Error(), true)
		return
	}
	if c.server.processor.Cancel(frame.RequestID) == router.CancelNotFound {
		c.sendError(frame.RequestID, "not_found", "no live request with that id", true)
	}
}

func (c *wsConn) handleStatus() {
	c.sendFrame(frameStatusReply, statusFrame{
		Type:           frameStatusReply,
		ActiveRequests: c.server.status.ActiveCount(),
		QueueLength:    c.server.status.QueueLength(),
		ConnectedNodes: c.server.registry.ConnectedCount(),
		UptimeSeconds:  int64(time.Since(c.server.started).Seconds()),
	})
}

func (c *wsConn) sendFrame(frameType string, v any) {
	if err := c.Send(v); err != nil {
		c.logger.Debug("send failed", "frame", frameType, "error", err)
		return
	}
	c.server.metrics.framesOut.WithLabelValues(frameType).Inc()
}

func (c *wsConn) sendError(requestID, code, message string, recoverable bool) {
	c.sendFrame(frameError, errorFrame{
		Type:        frameError,
		RequestID:   requestID,
		Code:        code,
		Message:     message,
		Recoverable: recoverable,
	})
}

// finishRequest stops tracking a request and records its outcome.
func (c *wsConn) finishRequest(requestID, outcome string) {
	c.mu.Lock()
	started, ok := c.inflight[requestID]
	delete(c.inflight, requestID)
	c.mu.Unlock()

	c.server.metrics.requests.WithLabelValues(outcome).Inc()
	if ok {
		c.server.metrics.requestDuration.Observe(time.Since(started).Seconds())
	}
}

// connEmitter adapts a connection to the processor's event interface.
type connEmitter struct {
	conn *wsConn
}

func (e *connEmitter) ResponseStart(requestID string) {
	e.conn.sendFrame(frameResponseStart, responseStartFrame{
		Type:      frameResponseStart,
		ID:        uuid.NewString(),
		RequestID: requestID,
	})
}

func (e *connEmitter) Chunk(requestID, text, accumulated string) {
	e.conn.sendFrame(frameResponseChunk, responseChunkFrame{
		Type:        frameResponseChunk,
		ID:          uuid.NewString(),
		RequestID:   requestID,
		Chunk:       text,
		Accumulated: accumulated,
	})
}

func (e *connEmitter) ToolStart(requestID string, step int, name, argsPreview string) {
	e.conn.sendFrame(frameToolStart, toolStartFrame{
		Type:      frameToolStart,
		ID:        uuid.NewString(),
		RequestID: requestID,
		ToolName:  name,
		Step:      step,
		Args:      argsPreview,
	})
}

func (e *connEmitter) ToolResult(requestID string, step int, name, resultPreview string, isError bool) {
	e.conn.sendFrame(frameToolResult, toolResultFrame{
		Type:      frameToolResult,
		ID:        uuid.NewString(),
		RequestID: requestID,
		ToolName:  name,
		Step:      step,
		Success:   !isError,
		Preview:   resultPreview,
	})
}

func (e *connEmitter) ResponseEnd(requestID, text string, toolCount int) {
	fullText, files, data := extractFiles(text, e.conn.logger)
	e.conn.finishRequest(requestID, "completed")
	e.conn.sendFrame(frameResponseEnd, responseEndFrame{
		Type:      frameResponseEnd,
		ID:        uuid.NewString(),
		RequestID: requestID,
		FullText:  fullText,
		Files:     files,
		FileData:  data,
		ToolCount: toolCount,
	})
}

func (e *connEmitter) Cancelled(requestID string) {
	e.conn.finishRequest(requestID, "cancelled")
	e.conn.sendFrame(frameCancelled, cancelledFrame{
		Type:      frameCancelled,
		RequestID: requestID,
	})
}

func (e *connEmitter) Error(requestID, code, message string) {
	e.conn.finishRequest(requestID, "error")
	e.conn.sendError(requestID, code, message, true)
}

// extractFiles pulls __FILE__:<path> marker lines out of a response and
// inlines the referenced files as base64 payloads. Unreadable files are
// dropped with a warning; the marker line is removed either way.
func extractFiles(text string, logger *slog.Logger) (string, []string, []fileData) {
	if !strings.Contains(text, fileMarker) {
		return text, nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	var kept []string
	var files []string
	var data []fileData
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, fileMarker) {
			kept = append(kept, line)
			continue
		}

		path := strings.TrimSpace(strings.TrimPrefix(trimmed, fileMarker))
		if path == "" {
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("response file unreadable", "path", path, "error", err)
			continue
		}
		files = append(files, path)
		data = append(data, fileData{
			Filename:      filepath.Base(path),
			ContentBase64: base64.StdEncoding.EncodeToString(content),
			MediaType:     mime.TypeByExtension(filepath.Ext(path)),
		})
	}
	return strings.TrimSpace(strings.Join(kept, "\n")), files, data
}
