// Package debugstream broadcasts routing Frames over a loopback-only
// websocket when debug_routing is enabled in the config. It never
// influences a decision; it only observes evaluations after the fact.
package debugstream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/latticegate/sentry/internal/engine"
)

var upgrader = websocket.Upgrader{
	// Debug stream is loopback-only by bind address (see Server.Addr),
	// so any Origin reaching it is already local.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub tracks connected debug-stream clients and broadcasts Frames to
// all of them, pruning dead connections as writes fail.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]bool
	logger  *slog.Logger
}

// NewHub constructs an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		logger:  logger.With("component", "debugstream.Hub"),
	}
}

// HandleWebSocket upgrades the request and registers the connection.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends a Frame as JSON to every connected client, dropping
// any connection that errors on write.
func (h *Hub) Broadcast(f engine.Frame) {
	msg, err := json.Marshal(f)
	if err != nil {
		h.logger.Error("failed to marshal frame", "error", err)
		return
	}

	h.mu.RLock()
	var dead []*websocket.Conn
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			dead = append(dead, conn)
		}
	}
	h.mu.RUnlock()

	if len(dead) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range dead {
		delete(h.clients, c)
		_ = c.Close()
	}
	h.mu.Unlock()
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Server runs a bare HTTP server exposing the Hub at /stream. Callers
// are expected to bind Addr to a loopback address (e.g. 127.0.0.1:6779)
// since the debug stream carries unredacted rule IDs and tool names.
type Server struct {
	Addr   string
	hub    *Hub
	srv    *http.Server
	logger *slog.Logger
}

// NewServer builds a Server bound to addr and wires its Hub to eng via
// OnFrame, so every evaluation broadcasts a Frame to connected clients.
func NewServer(addr string, eng *engine.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	hub := NewHub(logger)
	eng.OnFrame(hub.Broadcast)

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", hub.HandleWebSocket)

	return &Server{
		Addr:   addr,
		hub:    hub,
		logger: logger.With("component", "debugstream.Server"),
		srv:    &http.Server{Addr: addr, Handler: mux},
	}
}

// ListenAndServe blocks serving the debug stream until the server is
// shut down or an unrecoverable error occurs.
func (s *Server) ListenAndServe() error {
	s.logger.Info("debug stream listening", "addr", s.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// ClientCount returns the number of currently connected debug clients.
func (s *Server) ClientCount() int { return s.hub.ClientCount() }
