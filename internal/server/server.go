// Package server implements the harness HTTP front-end: the runner control
// API plus the catch-all proxy that forwards device traffic to the reference
// server.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/banksia-harness/banksia/internal/server/handlers"
)

// Server is the harness HTTP server.
type Server struct {
	router chi.Router
	addr   string
	srv    *http.Server
	log    *slog.Logger
}

// New creates a new HTTP server. All requests that do not match a control
// endpoint fall through to the proxy handler.
func New(addr string, maxRequestBody int64, h *handlers.Handlers, proxy http.Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{addr: addr, log: log}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(MaxBodyMiddleware(maxRequestBody))

	s.router = r
	s.registerRoutes(r, h, proxy)
	return s
}

// Start begins serving HTTP requests. It blocks until the listener fails or
// Stop is called.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.log.Info("harness server listening", "addr", s.addr)
	return s.srv.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }
