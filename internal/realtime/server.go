package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Server exposes the websocket push endpoint and a health probe.
type Server struct {
	hub      *Hub
	server   *http.Server
	counters func() map[string]uint64
	logger   *slog.Logger

	hubCtx    context.Context
	hubCancel context.CancelFunc
	hubDone   chan struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers connect from the web UI's origin; auth happens upstream.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewServer creates the realtime server on the given port. The counters
// callback feeds the health endpoint; it may be nil.
func NewServer(hub *Hub, port int, counters func() map[string]uint64, logger *slog.Logger) *Server {
	s := &Server{
		hub:      hub,
		counters: counters,
		logger:   logger.With("component", "realtime_server"),
		hubDone:  make(chan struct{}),
	}
	s.hubCtx, s.hubCancel = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start runs the HTTP server. Blocks until Stop or failure.
func (s *Server) Start() error {
	go func() {
		defer close(s.hubDone)
		s.hub.Run(s.hubCtx)
	}()

	s.logger.Info("realtime server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully: handlers drain first so no new
// client can register, then the hub closes its connections.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)

	s.hubCancel()
	select {
	case <-s.hubDone:
	case <-ctx.Done():
		s.logger.Warn("hub drain timed out")
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if s.counters != nil {
		body["counters"] = s.counters()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "missing user parameter", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	NewClient(s.hub, conn, userID)
}
