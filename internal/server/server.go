// Package server exposes a node over HTTP: the authenticated p2p session
// endpoint peers dial, plus read-only health, status, vault and event views.
// No route starts a protocol run.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/iouledger/internal/domain"
	"github.com/alanyoungcy/iouledger/internal/server/handler"
	"github.com/alanyoungcy/iouledger/internal/server/middleware"
	"github.com/alanyoungcy/iouledger/internal/server/ws"
)

// Route paths that bypass API key auth and rate limiting.
const (
	PathHealth = "/api/health"
	PathP2P    = "/p2p"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port   int
	APIKey string // if empty, authentication is disabled

	// RateLimit caps requests per client per RateLimitWindow. Zero disables
	// limiting.
	RateLimit       int
	RateLimitWindow time.Duration

	// CORSOrigins lists browser origins allowed to read the API. Empty
	// allows any origin.
	CORSOrigins []string
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Nil handlers leave their routes unregistered.
type Handlers struct {
	Health *handler.HealthHandler
	Status *handler.StatusHandler
	Vault  *handler.VaultHandler
	Events *handler.EventsHandler

	// P2P serves inbound protocol sessions, typically a ws.Transport from
	// the transport package.
	P2P http.Handler
	// Hub streams TxEvents to operator dashboards.
	Hub *ws.Hub
}

// Server is the HTTP + WebSocket surface of a node.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, rate limiting, auth). limiter may be
// nil.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	// --- Register routes ---

	if handlers.Health != nil {
		mux.HandleFunc("GET "+PathHealth, handlers.Health.HealthCheck)
	}
	if handlers.Status != nil {
		mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	}
	if handlers.Vault != nil {
		mux.HandleFunc("GET /api/vault/ious", handlers.Vault.ListIOUs)
		mux.HandleFunc("GET /api/vault/cash", handlers.Vault.ListCash)
		mux.HandleFunc("GET /api/vault/balances", handlers.Vault.Balances)
		mux.HandleFunc("GET /api/transactions/{id}", handlers.Vault.GetTransaction)
	}
	if handlers.Events != nil {
		mux.HandleFunc("GET /api/events/recent", handlers.Events.ListRecent)
	}

	// Peer sessions authenticate with the signed handshake.
	if handlers.P2P != nil {
		mux.Handle("GET "+PathP2P, handlers.P2P)
	}

	// Dashboard feed.
	if handlers.Hub != nil {
		mux.HandleFunc("GET /ws", handlers.Hub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey, PathHealth, PathP2P)(h)

	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window, PathHealth, PathP2P)(h)
	}

	// Apply CORS middleware before auth so preflights need no key.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	// Apply request logging middleware.
	h = middleware.Logging(logger, PathHealth)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
