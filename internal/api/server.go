package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mattjoyce/addongw/internal/engine"
)

// Config holds API server configuration
type Config struct {
	Listen string
	// CORSOrigins lists the origins allowed to call the API from a
	// browser. Empty disables CORS entirely.
	CORSOrigins []string
}

// Server exposes the engine's addons over HTTP
type Server struct {
	config    Config
	engine    *engine.Engine
	handlers  map[string]engine.HandlerFunc
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. Creating the server freezes the
// engine: every hosted addon gets its request handler up front.
func New(config Config, eng *engine.Engine, logger *slog.Logger) (*Server, error) {
	handlers := make(map[string]engine.HandlerFunc, len(eng.Addons()))
	for _, a := range eng.Addons() {
		h, err := eng.CreateAddonHandler(a)
		if err != nil {
			return nil, fmt.Errorf("create handler for addon %q: %w", a.ID(), err)
		}
		handlers[a.ID()] = h
	}

	return &Server{
		config:    config,
		engine:    eng,
		handlers:  handlers,
		logger:    logger,
		startedAt: time.Now(),
	}, nil
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// Requests suspended on a client task hold their connection
		// until the callback arrives.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	if len(s.config.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.config.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", SignatureHeader},
			MaxAge:         300,
		}))
	}

	// Routes
	r.Get("/healthz", s.handleHealthz)
	r.Get("/addons", s.handleListAddons)
	r.Post("/addons/{addonID}/{action}", s.handleAddonAction)

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
