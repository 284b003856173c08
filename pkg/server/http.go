// Package server exposes sessions over HTTP: JSON endpoints for session
// lifecycle and approvals, and one server-sent-events stream per session.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/droverhq/drover/pkg/config"
	"github.com/droverhq/drover/pkg/llms"
)

type Server struct {
	store   *Store
	factory *runtimeFactory
	router  chi.Router
}

// New builds a server around a base config. Per-request provider/model
// fields override the config, which overrides provider defaults.
func New(base *config.Config) *Server {
	return newWithProvider(base, llms.NewProvider)
}

func newWithProvider(base *config.Config, newProvider newProviderFunc) *Server {
	s := &Server{
		store:   NewStore(),
		factory: &runtimeFactory{base: base, newProvider: newProvider},
	}

	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Use(corsHeaders)

	r.Get("/health", s.handleHealth)
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/{id}", s.handleGetSession)
		r.Post("/{id}/resume", s.handleResumeSession)
		r.Post("/{id}/chat", s.handleChat)
		r.Post("/{id}/approvals/{callId}", s.handleApproval)
		r.Get("/{id}/stream", s.handleStream)
	})

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ListenAndServe(addr string) error {
	slog.Info("server listening", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

// requestLogger logs method, path, and duration. It deliberately does not
// wrap the ResponseWriter: the SSE handler needs the original http.Flusher.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func corsHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id := NewSessionID()
	rt, err := s.factory.build(id, req, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.store.Put(rt)

	slog.Info("session created", "session_id", id, "provider", rt.Info.Provider, "model", rt.Info.Model)
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": id})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.store.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, rt.Info)
}

func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rt, err := s.factory.build(id, req, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.store.Put(rt)

	slog.Info("session resumed", "session_id", id, "messages", len(rt.agent.Messages()))
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": id})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.store.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	go rt.Run(context.Background(), req.Message)

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.store.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	var req struct {
		Approved bool `json:"approved"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	callID := chi.URLParam(r, "callId")
	if !rt.broker.TryResolve(callID, req.Approved) {
		writeError(w, http.StatusNotFound, "no pending approval for call "+callID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.store.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	if !rt.streamActive.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "stream already connected")
		return
	}
	defer rt.streamActive.Store(false)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		ev, err := rt.queue.Next(r.Context())
		if err != nil {
			// Client disconnected; buffered events wait for the next reader.
			return
		}
		data, err := json.Marshal(ev.Data)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		flusher.Flush()
	}
}

// Run executes one prompt for the session under its run lock and marks the
// end of the run on the stream.
func (rt *SessionRuntime) Run(ctx context.Context, prompt string) {
	rt.runMu.Lock()
	defer rt.runMu.Unlock()

	sink := &queueSink{queue: rt.queue}
	if err := rt.agent.Run(ctx, prompt, sink); err != nil {
		slog.Error("run failed", "session_id", rt.Info.SessionID, "error", err)
		rt.queue.Push(StreamEvent{Type: EventError, Data: map[string]string{"message": err.Error()}})
	}
	rt.queue.Push(StreamEvent{Type: EventCompleted, Data: map[string]string{"sessionId": rt.Info.SessionID}})
}
