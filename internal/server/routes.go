package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/banksia-harness/banksia/internal/metrics"
	"github.com/banksia-harness/banksia/internal/server/handlers"
)

func (s *Server) registerRoutes(r chi.Router, h *handlers.Handlers, proxy http.Handler) {
	// Runner control API. Everything else belongs to the device under test
	// and is forwarded to the reference server.
	r.Post("/init", h.Init)
	r.Post("/start", h.Start)
	r.Get("/status", h.Status)
	r.Post("/finalize", h.Finalize)
	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.NotFound(proxy.ServeHTTP)
	r.MethodNotAllowed(proxy.ServeHTTP)
}
