// Package server exposes the live gaze label over HTTP and websockets.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/andresmejia3/gazewatch/internal/log"
	"github.com/andresmejia3/gazewatch/internal/observer"
	"github.com/andresmejia3/gazewatch/internal/processor"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Processor is the part of *processor.Processor the status endpoint reads.
type Processor interface {
	State() processor.State
	Stats() processor.Stats
}

// Status is the /status response body.
type Status struct {
	State  string          `json:"state"`
	Stats  processor.Stats `json:"stats"`
	Latest *Message        `json:"latest,omitempty"`
	Hub    HubStatus       `json:"hub"`
}

type HubStatus struct {
	Clients int    `json:"clients"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

// Server represents the web server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	hub        *Hub
	proc       Processor
	latest     *observer.Latest
}

// NewServer wires the routes. proc and latest may be nil before a run starts.
func NewServer(addr string, hub *Hub, proc Processor, latest *observer.Latest) *Server {
	r := chi.NewRouter()

	s := &Server{
		router: r,
		hub:    hub,
		proc:   proc,
		latest: latest,
	}

	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/ws", hub.ServeWS)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	log.Info(log.Fields{"addr": s.httpServer.Addr}, "[Server.Start] starting web server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown disconnects websocket clients and gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.proc != nil && s.proc.State() == processor.Failed {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "failed"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var st Status
	st.State = processor.Idle.String()
	if s.proc != nil {
		st.State = s.proc.State().String()
		st.Stats = s.proc.Stats()
	}
	if s.latest != nil {
		if u, ok := s.latest.Get(); ok {
			m := NewMessage(u)
			st.Latest = &m
		}
	}
	st.Hub.Clients = s.hub.ClientCount()
	st.Hub.Sent, st.Hub.Dropped = s.hub.Counts()

	respondJSON(w, http.StatusOK, st)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}
