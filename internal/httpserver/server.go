// internal/httpserver/server.go
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/shelf/internal/config"
	"github.com/MrSnakeDoc/shelf/internal/httpserver/deps"
	"github.com/MrSnakeDoc/shelf/internal/httpserver/mw"
	"github.com/MrSnakeDoc/shelf/internal/httpserver/routes"
	"github.com/MrSnakeDoc/shelf/internal/logger"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	http       *http.Server
	logger     logger.Logger
	started    time.Time
	cancelBase context.CancelFunc
}

// NewRouter builds the router (middlewares, route registration).
func NewRouter(loggerClient logger.Logger, d deps.Deps) http.Handler {
	r := chi.NewRouter()

	// --- Global middlewares (safe defaults)
	r.Use(middleware.GetHead)
	r.Use(middleware.RequestID)                         // X-Request-ID on each request
	r.Use(middleware.Recoverer)                         // never crash the process on panic
	r.Use(mw.Log(loggerClient))                         // structured access logs
	r.Use(mw.EnforceHost(d.AllowedHosts, loggerClient)) // optional Host allow-list

	routes.RegisterAll(r, d)

	return r
}

// New builds the HTTP server around NewRouter.
func New(cfg *config.Config, loggerClient logger.Logger, d deps.Deps) *Server {
	base, cancel := context.WithCancel(context.Background())
	s := &http.Server{
		Addr:              cfg.ListenPort,
		Handler:           NewRouter(loggerClient, d),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
		// no Read/WriteTimeout: live views hold their connection open
		BaseContext: func(net.Listener) context.Context { return base },
	}

	return &Server{
		http:       s,
		logger:     loggerClient,
		started:    d.StartTime,
		cancelBase: cancel,
	}
}

// Start runs the HTTP server (blocks until error or shutdown).
func (s *Server) Start() error {
	s.logger.Infof("HTTP server listening on %s", s.http.Addr)
	err := s.http.ListenAndServe()
	// http.ErrServerClosed is expected on graceful shutdown.
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the server with the provided context deadline.
// Shutdown does not track hijacked connections, so live views are ended
// by cancelling the base context of every request first.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down...",
		logger.Duration("uptime", time.Since(s.started)))
	s.cancelBase()
	return s.http.Shutdown(ctx)
}
