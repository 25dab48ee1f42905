package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/knoguchi/uigen/internal/auth"
	"github.com/knoguchi/uigen/internal/render"
	"github.com/knoguchi/uigen/internal/results"
	"github.com/knoguchi/uigen/internal/service"
	"github.com/knoguchi/uigen/internal/settings"
)

// Generator produces code for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, set settings.Settings) (*service.Result, error)
}

// ModelStatus reports whether the model has been loaded.
type ModelStatus interface {
	Loaded() bool
}

// DefaultGenerateTimeout bounds one generation request when the config
// leaves it unset.
const DefaultGenerateTimeout = 10 * time.Minute

// writeGrace is how much longer than a generation the response may take to
// render and write.
const writeGrace = 30 * time.Second

// HTTPServer serves the generator page
type HTTPServer struct {
	server *http.Server
	router *chi.Mux
	logger *slog.Logger
	port   int

	generateTimeout time.Duration

	generator   Generator
	status      ModelStatus
	store       *results.Store
	links       *auth.JWTManager
	highlighter *render.Highlighter
	page        *pageRenderer
}

// HTTPServerConfig holds configuration for the HTTP server
type HTTPServerConfig struct {
	Port   int
	Logger *slog.Logger

	Generator   Generator
	ModelStatus ModelStatus
	Store       *results.Store
	Links       *auth.JWTManager

	// GenerateTimeout bounds the slot wait, model load and inference of one
	// request. The write deadline is set past it.
	GenerateTimeout time.Duration
}

// NewHTTPServer creates a new HTTP server with its routes mounted
func NewHTTPServer(cfg HTTPServerConfig) (*HTTPServer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	highlighter, err := render.NewHighlighter(render.DefaultStyle)
	if err != nil {
		return nil, fmt.Errorf("failed to create highlighter: %w", err)
	}

	page, err := newPageRenderer()
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	generateTimeout := cfg.GenerateTimeout
	if generateTimeout <= 0 {
		generateTimeout = DefaultGenerateTimeout
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLoggingMiddleware(logger))
	router.Use(middleware.Recoverer)

	s := &HTTPServer{
		router: router,
		logger: logger,
		port:   cfg.Port,

		generateTimeout: generateTimeout,

		generator:   cfg.Generator,
		status:      cfg.ModelStatus,
		store:       cfg.Store,
		links:       cfg.Links,
		highlighter: highlighter,
		page:        page,
	}

	router.Get("/healthz", healthCheckHandler())
	router.Get("/readyz", s.readinessCheckHandler())

	router.Get("/", s.handleIndex)
	router.Post("/generate", s.handleGenerate)
	router.Get("/generate", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
	})
	router.Get("/download/{token}", s.handleDownload)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      generateTimeout + writeGrace, // generation blocks the response
		IdleTimeout:       120 * time.Second,
	}

	return s, nil
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", "address", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Handler returns the root handler with all routes and middleware
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// requestLoggingMiddleware logs HTTP requests
func requestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote_addr", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// healthCheckHandler returns a handler for the /healthz endpoint
func healthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "healthy",
		})
	}
}

// readinessCheckHandler reports whether the model is loaded. The service is
// ready either way since the model loads on first use.
func (s *HTTPServer) readinessCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loaded := s.status != nil && s.status.Loaded()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":       "ready",
			"model_loaded": loaded,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
