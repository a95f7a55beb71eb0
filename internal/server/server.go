// Package server exposes the composition service over HTTP and provides a
// matching client.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/cameronsjo/rigging/internal/compose"
	"github.com/cameronsjo/rigging/internal/ui"
)

// Config holds HTTP server settings.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Server serves the composition API.
type Server struct {
	svc    *compose.Service
	cfg    Config
	router chi.Router
	server *http.Server
}

// New creates a server for svc.
func New(svc *compose.Service, cfg Config) *Server {
	s := &Server{svc: svc, cfg: cfg}
	s.router = s.routes()
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/composition", func(r chi.Router) {
		r.Post("/preview", s.handlePreview)
		r.Post("/commit", s.handleCommit)
	})

	r.Route("/profiles/{category}", func(r chi.Router) {
		r.Get("/", s.handleListProfiles)
		r.Post("/", s.handleCreateProfile)
		r.Get("/{id}", s.handleGetProfile)
		r.Put("/{id}", s.handleUpdateProfile)
		r.Patch("/{id}", s.handlePatchProfile)
		r.Delete("/{id}", s.handleDeleteProfile)
	})

	r.Route("/composites", func(r chi.Router) {
		r.Get("/", s.handleListComposites)
		r.Post("/", s.handleSaveComposite)
		r.Get("/{id}", s.handleGetComposite)
		r.Get("/{id}/render", s.handleRenderComposite)
		r.Delete("/{id}", s.handleDeleteComposite)
	})

	r.Get("/dependents/{id}", s.handleDependents)
	r.Get("/categories", s.handleCategories)

	return r
}

// Run serves until ctx is canceled or the listener fails, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ui.Info("HTTP server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		ui.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// loggingMiddleware logs HTTP requests.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		ui.Info("HTTP %s %s %d %s [%s]", r.Method, r.URL.Path, wrapped.statusCode, time.Since(start), middleware.GetReqID(r.Context()))
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
