// Package server provides the HTTP server for the mudra sign recognizer.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/plugin"
	"github.com/ayusman/mudra/internal/server/api"
)

// Config holds the server configuration.
type Config struct {
	StaticDir string
	App       *app.App

	// Hub receives detections from App; model status is published by the
	// caller through the controller's Notify hook.
	Hub *Hub

	// ModelKey is the backend key of the dataset, used for revision history.
	ModelKey string
	// Revisions is optional.
	Revisions api.RevisionLister

	// Plugins and Runner are optional.
	Plugins *plugin.Manager
	Runner  plugin.Runner
	Hooks   []plugin.Hook

	BurstFrames   int
	BurstInterval time.Duration

	Logger *slog.Logger
}

// Server represents the HTTP server for the mudra application.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	logger *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	closed     bool
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		logger: logger.With("component", "server"),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if a := s.config.App; a != nil {
		labels := api.NewLabelHandler(a, s.config.BurstFrames, s.config.BurstInterval)
		s.mux.Handle("/api/labels", labels)
		s.mux.Handle("/api/labels/", labels)

		models := api.NewModelHandler(a.Model(), s.config.ModelKey, s.config.Revisions)
		s.mux.Handle("/api/model", models)
		s.mux.Handle("/api/model/", models)

		s.mux.Handle("/api/predict", api.NewPredictHandler(a))
		s.mux.Handle("/api/sentence", api.NewSentenceHandler(a))
		s.mux.Handle("/api/pipeline", api.NewPipelineHandler(a))

		// Register camera stream endpoint if a camera is configured
		if a.Camera() != nil {
			s.mux.Handle("/api/stream", NewStreamHandler(a, 0))
		}

		if s.config.Hub != nil {
			hub := s.config.Hub
			a.RegisterDetectionCallback(func(d app.Detection) {
				hub.Publish(MessageDetection, d)
			})
		}
	}

	if s.config.Hub != nil {
		s.mux.Handle("/api/detections", s.config.Hub)
	}

	if s.config.Plugins != nil && s.config.Runner != nil {
		plugins := api.NewPluginHandler(s.config.Plugins, s.config.Runner, s.config.Hooks)
		s.mux.Handle("/api/plugins", plugins)
		s.mux.Handle("/api/plugins/", plugins)
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(s.start)

	response := map[string]interface{}{
		"status": "ok",
		"uptime": uptime.String(),
	}
	if a := s.config.App; a != nil {
		response["model"] = a.Model().State()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe starts the HTTP server on the given address. It returns nil
// after Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.httpServer = srv
	s.mu.Unlock()

	s.logger.Info("listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.httpServer
	s.mu.Unlock()

	if s.config.Hub != nil {
		s.config.Hub.Close()
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
