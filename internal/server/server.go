// Package server exposes the engine over HTTP: job history and result
// streaming, plus a WebSocket capture surface that drives a live session.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"microstack/internal/config"
	"microstack/internal/pipeline"
	"microstack/internal/storage"
)

// Server wraps the HTTP server and its collaborators.
type Server struct {
	addr     string
	settings config.Settings
	store    *storage.Store
	pipeline *pipeline.Pipeline
	log      *slog.Logger
	server   *http.Server
}

// New creates a server.
func New(addr string, settings config.Settings, store *storage.Store, pipe *pipeline.Pipeline, log *slog.Logger) *Server {
	return &Server{
		addr:     addr,
		settings: settings,
		store:    store,
		pipeline: pipe,
		log:      log,
	}
}

// Start runs the server until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	r := mux.NewRouter()
	s.setupRoutes(r)

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/jobs", s.handleSubmitJob).Methods("POST")
	r.HandleFunc("/stream", s.handleJobStream).Methods("GET")
	r.HandleFunc("/ws/session", s.handleSession).Methods("GET")
}

// submitRequest is the POST /jobs payload.
type submitRequest struct {
	Type    string         `json:"type"`
	Input   string         `json:"input"`
	Output  string         `json:"output"`
	Options map[string]any `json:"options"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	job := pipeline.Job{
		ID:        fmt.Sprintf("%s-%08x", req.Type, rand.Uint32()),
		Type:      pipeline.JobType(req.Type),
		InputPath: req.Input,
		Output:    req.Output,
		Options:   req.Options,
	}
	if err := s.pipeline.Submit(job); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"id": job.ID})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentJobs(100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recs)
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(res)
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}
