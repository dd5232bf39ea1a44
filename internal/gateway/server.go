// Package gateway is the WebSocket control plane adapters connect to.
// It validates inbound frames, registers adapter nodes, and streams
// request progress back as typed events.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clarahq/clara/internal/nodes"
	"github.com/clarahq/clara/internal/processor"
	"github.com/clarahq/clara/internal/router"
	"github.com/clarahq/clara/pkg/models"
)

// RequestProcessor is the slice of the processor the gateway drives.
// *processor.Processor satisfies it.
type RequestProcessor interface {
	Submit(req *models.Request, platform string, caps []models.Capability, emitter processor.Emitter) router.Outcome
	Cancel(requestID string) router.CancelOutcome
}

// StatusSource reports channel load for the status frame. *router.Router
// satisfies it.
type StatusSource interface {
	ActiveCount() int
	QueueLength() int
}

// Config tunes the gateway listener.
type Config struct {
	// Addr is the listen address, e.g. ":8765".
	Addr string

	// SweepInterval is how often stale nodes are reaped. Zero disables
	// the sweep.
	SweepInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:          ":8765",
		SweepInterval: time.Minute,
	}
}

// Server terminates adapter WebSocket connections.
type Server struct {
	cfg       Config
	processor RequestProcessor
	status    StatusSource
	plugins   PluginAdmin
	registry  *nodes.Registry
	metrics   *gatewayMetrics
	logger    *slog.Logger
	started   time.Time
	upgrader  websocket.Upgrader

	httpServer *http.Server
	stopSweep  chan struct{}
}

// NewServer wires the gateway. plugins may be nil when plugin servers
// are disabled; admin frames then get an error response.
func NewServer(cfg Config, proc RequestProcessor, status StatusSource, plugins PluginAdmin, registry *nodes.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		processor: proc,
		status:    status,
		plugins:   plugins,
		registry:  registry,
		metrics:   newMetrics(),
		logger:    logger.With("component", "gateway"),
		started:   time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		stopSweep: make(chan struct{}),
	}
}

// Handler returns the gateway's HTTP mux: the WebSocket endpoint plus
// metrics and health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start serves until the listener fails or Shutdown runs. It blocks.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.cfg.SweepInterval > 0 {
		go s.sweepLoop()
	}

	s.logger.Info("gateway listening", "addr", s.cfg.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stopSweep)
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn := newWSConn(s, ws)
	go conn.run()
}

func (s *Server) sweepLoop() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			if reaped := s.registry.Sweep(); reaped > 0 {
				s.logger.Info("reaped stale nodes", "count", reaped)
			}
		}
	}
}
