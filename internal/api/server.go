// Package api exposes the relay over a local HTTP surface: tagged-action
// requests on /api/message and a server-sent event stream of status
// notifications on /api/stream.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.io/infrasutra/jobmail/internal/notify"
	"github.io/infrasutra/jobmail/internal/relay"
)

// Handler routes one relay request.
type Handler interface {
	Handle(ctx context.Context, req relay.Request) relay.Response
}

type Server struct {
	relay  Handler
	hub    *notify.Hub
	logger *slog.Logger
	mux    *http.ServeMux
}

func NewServer(handler Handler, hub *notify.Hub, logger *slog.Logger) *Server {
	server := &Server{
		relay:  handler,
		hub:    hub,
		logger: logger,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/message", server.handleMessage)
	mux.HandleFunc("/api/stream", server.handleStream)
	mux.HandleFunc("/health", server.handleHealth)
	mux.HandleFunc("/ready", server.handleReady)
	server.mux = mux
	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request relay.Request
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondJSON(w, http.StatusBadRequest, relay.Response{Success: false, Error: "invalid JSON"})
		return
	}
	if request.Action == "" {
		s.respondJSON(w, http.StatusBadRequest, relay.Response{Success: false, Error: "missing action"})
		return
	}

	// The relay owns the request lifecycle: a popup that closes mid-flight
	// must not cancel an interactive grant or a send already underway.
	response := s.relay.Handle(context.WithoutCancel(r.Context()), request)

	status := http.StatusOK
	if !response.Success {
		status = http.StatusBadGateway
	}
	s.respondJSON(w, status, response)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("event: status\ndata: "))
			_, _ = w.Write(data)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// The caller may already be gone; replying into a closed
		// connection is a no-op, not a failure.
		s.logger.Debug("write response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondText(w, http.StatusOK, "ok")
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	s.respondText(w, http.StatusOK, "ready")
}

func (s *Server) respondText(w http.ResponseWriter, status int, payload string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}
