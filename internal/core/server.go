// Package core provides the API chassis for the Minha Floresta reconciliation
// service. It creates a chi router and enforces cross-cutting concerns --
// panic recovery, request correlation, logging, and error handling -- before
// requests reach domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"minhafloresta/internal/config"
)

// RouteRegistrar mounts a handler group onto the versioned router. Handlers
// register themselves through this indirection to avoid import cycles between
// core and handler packages.
type RouteRegistrar func(r chi.Router)

// Server encapsulates the shared dependencies of the HTTP API, allowing for
// easy injection during testing and distinct configuration for different
// environments.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// V1RouteRegistrars is populated by the application entry point before
	// MountRoutes is called.
	V1RouteRegistrars []RouteRegistrar

	router *chi.Mux
}

// NewServer initializes the chassis and prepares the server for route
// mounting. The caller is responsible for appending route registrars and
// calling MountRoutes afterwards; this separation lets tests customize route
// registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
// This is used internally by route-mounting methods and tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs a graceful termination of server resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown complete")
	return nil
}
