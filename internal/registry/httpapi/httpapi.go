// Package httpapi is the external HTTP/WebSocket facade named in spec.md
// §4.12 — status, service listing, a service call, a chat passthrough, and
// a WebSocket broadcast of every bus event. Per spec.md, the facade is an
// external collaborator from the core's viewpoint: it is a thin adapter
// over the Registry and Bus, not itself part of the request-execution
// pipeline. Routing follows the teacher's chi-based wiring conventions
// (seen in the pack's jordigilh-kubernaut) and broadcasts bus events over
// gorilla/websocket, matching the indirect dependency the pack's
// goadesign-goa-ai graph already carries.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/hcwagner/orchestrator/internal/bus"
	"github.com/hcwagner/orchestrator/internal/registry"
	"github.com/hcwagner/orchestrator/internal/taskexec"
	"github.com/hcwagner/orchestrator/internal/types"
)

// Server is the HTTP facade over the in-process Registry/Bus/Executor.
type Server struct {
	reg *registry.Registry
	b   *bus.Bus
	exe *taskexec.Executor

	upgrader websocket.Upgrader
}

// New builds a chi router exposing the facade's endpoints.
func New(reg *registry.Registry, b *bus.Bus, exe *taskexec.Executor) *Server {
	return &Server{
		reg: reg,
		b:   b,
		exe: exe,
		upgrader: websocket.Upgrader{
			// Single-host, locally-served facade, per spec.md §1's out-of-scope
			// framing for the peripheral UI surfaces; no cross-origin caller.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router returns the chi router; cmd/orchestrator mounts it under a prefix
// or serves it directly.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/status", s.handleStatus)
	r.Get("/services", s.handleServices)
	r.Post("/services/{name}/call", s.handleServiceCall)
	r.Post("/chat", s.handleChat)
	r.Get("/events", s.handleEvents)
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.List())
}

func (s *Server) handleServiceCall(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	info, ok := s.reg.Get(name)
	if !ok {
		http.Error(w, "unknown service", http.StatusNotFound)
		return
	}
	if info.Status != types.StatusRunning {
		http.Error(w, "service not running: "+string(info.Status), http.StatusConflict)
		return
	}

	var body struct {
		Data any `json:"data"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	ev, err := s.b.Request(r.Context(), "httpapi", name, body.Data, 30*time.Second)
	if err != nil {
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
		return
	}
	writeJSON(w, http.StatusOK, ev.Data)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query     string        `json:"query"`
		SessionID string        `json:"session_id"`
		Context   types.Context `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	req.Context.SessionID = req.SessionID
	result := s.exe.Handle(r.Context(), req.Query, req.Context)
	writeJSON(w, http.StatusOK, result)
}

// handleEvents upgrades to a WebSocket and broadcasts every bus event to
// the connection until it closes, per spec.md §4.12's "WebSocket broadcast
// of every event".
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain client reads so a closed connection is detected promptly and
	// the write goroutine below can exit.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	events := s.b.Subscribe("*", "*")
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
