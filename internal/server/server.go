// Package server provides the HTTP server of the coach.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/ayusman/repcoach/internal/app"
	"github.com/ayusman/repcoach/internal/capture"
	"github.com/ayusman/repcoach/internal/metrics"
	"github.com/ayusman/repcoach/internal/server/api"
)

// Config holds the server configuration.
type Config struct {
	Coach   *app.Coach
	Metrics *metrics.Manager
	// Gatherer backs /metrics. The endpoint is not registered when nil.
	Gatherer  prometheus.Gatherer
	StaticDir string
	// MaxUploadBytes caps video uploads. Zero uses api.DefaultMaxUpload.
	MaxUploadBytes int64
	UploadDir      string
	// OpenPreview returns the camera for the MJPEG preview. The endpoint is
	// not registered when nil.
	OpenPreview func() capture.Source
	PreviewFPS  int
}

// Server represents the HTTP server of the coach.
type Server struct {
	config   Config
	router   *mux.Router
	progress *ProgressHandler
	preview  *StreamHandler
	start    time.Time

	mu         sync.Mutex
	httpServer *http.Server
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		router: mux.NewRouter(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	r := s.router
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)

	if s.config.Coach != nil {
		sessions := api.NewSessionHandler(s.config.Coach, s.config.MaxUploadBytes, s.config.UploadDir)
		r.HandleFunc("/api/exercises", sessions.HandleExercises).Methods(http.MethodGet)
		r.HandleFunc("/api/sessions/live", sessions.HandleListLive).Methods(http.MethodGet)
		r.HandleFunc("/api/sessions/live", sessions.HandleStartLive).Methods(http.MethodPost)
		r.HandleFunc("/api/sessions/live/{id}", sessions.HandleStopLive).Methods(http.MethodDelete)
		r.HandleFunc("/api/sessions/last", sessions.HandleLast).Methods(http.MethodGet)
		r.HandleFunc("/api/sessions/video", sessions.HandleAnalyzeVideo).Methods(http.MethodPost)

		history := api.NewHistoryHandler(s.config.Coach)
		r.HandleFunc("/api/history", history.HandleList).Methods(http.MethodGet)
		r.HandleFunc("/api/history", history.HandleCreate).Methods(http.MethodPost)
		r.HandleFunc("/api/history/summary", history.HandleSummary).Methods(http.MethodGet)
		r.HandleFunc("/api/history/{id}", history.HandleDelete).Methods(http.MethodDelete)

		s.progress = NewProgressHandler(s.config.Coach.Progress(), s.config.Metrics)
		r.Handle("/api/progress", s.progress).Methods(http.MethodGet)

		if s.config.OpenPreview != nil {
			s.preview = NewStreamHandler(s.config.OpenPreview, s.config.PreviewFPS, func() bool {
				return len(s.config.Coach.Live()) > 0
			})
			r.Handle("/api/preview", s.preview).Methods(http.MethodGet)
		}
	}

	if s.config.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.config.StaticDir)))
	}

	r.Use(panicRecovery())
	r.Use(logRequest())
	r.Use(requestMetrics(s.config.Metrics))
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.config.Coach != nil {
		response["live_sessions"] = len(s.config.Coach.Live())
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe starts the HTTP server on the given address. It returns
// nil after Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	log.Infof(" > server listening on: [%s]", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes progress feeds and previews, then gracefully stops the
// HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.progress != nil {
		s.progress.Close()
	}
	if s.preview != nil {
		s.preview.Close()
	}

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
