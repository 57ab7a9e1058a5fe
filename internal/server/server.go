package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/groupledger/internal/domain"
	"github.com/alanyoungcy/groupledger/internal/server/handler"
	"github.com/alanyoungcy/groupledger/internal/server/middleware"
	"github.com/alanyoungcy/groupledger/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKeys     []string // if empty, authentication is disabled
	RateLimit   int
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health *handler.HealthHandler
	Groups *handler.GroupHandler
	Users  *handler.UserHandler
	Ledger *handler.LedgerHandler
	Admin  *handler.AdminHandler
}

// Server is the HTTP + WebSocket API in front of the ledger services.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (rate limiting, auth, logging, CORS) and attaches
// the WebSocket hub. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))

	var h http.Handler = Routes(handlers, wsHub)
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Auth(cfg.APIKeys, "/api/health")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Routes registers every endpoint on a fresh ServeMux without middleware.
func Routes(handlers Handlers, wsHub *ws.Hub) *http.ServeMux {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Groups and membership.
	mux.HandleFunc("POST /api/groups", handlers.Groups.CreateGroup)
	mux.HandleFunc("GET /api/groups", handlers.Groups.ListGroups)
	mux.HandleFunc("GET /api/groups/lookup", handlers.Groups.LookupGroup)
	mux.HandleFunc("GET /api/groups/{id}", handlers.Groups.GetGroup)
	mux.HandleFunc("DELETE /api/groups/{id}", handlers.Groups.DeleteGroup)
	mux.HandleFunc("DELETE /api/groups/{id}/members/{username}", handlers.Groups.RemoveMember)
	mux.HandleFunc("GET /api/groups/by-name/{name}/members", handlers.Groups.ListMembers)
	mux.HandleFunc("POST /api/groups/by-name/{name}/members", handlers.Groups.AddMember)
	mux.HandleFunc("PUT /api/groups/by-name/{name}/members/{username}/role", handlers.Groups.UpdateRole)
	mux.HandleFunc("PUT /api/groups/by-name/{name}/members/{username}/username", handlers.Groups.RenameMember)

	// Users and per-user history.
	mux.HandleFunc("POST /api/users", handlers.Users.CreateUser)
	mux.HandleFunc("GET /api/users/{username}", handlers.Users.GetUser)
	mux.HandleFunc("GET /api/users/{username}/notifications", handlers.Users.Notifications)
	mux.HandleFunc("GET /api/users/{username}/transactions", handlers.Users.Transactions)
	mux.HandleFunc("GET /api/users/{username}/portfolio-updates", handlers.Users.PortfolioUpdates)
	mux.HandleFunc("GET /api/users/{username}/portfolio-updates/latest", handlers.Users.LatestPortfolioUpdate)
	mux.HandleFunc("GET /api/users/{username}/portfolio-updates/{id}", handlers.Users.PortfolioUpdate)
	mux.HandleFunc("GET /api/users/{username}/portfolio", handlers.Users.Portfolio)

	// Ledger.
	mux.HandleFunc("POST /api/transactions", handlers.Ledger.AddTransaction)
	mux.HandleFunc("GET /api/transactions/{id}", handlers.Ledger.GetTransaction)

	// Schema administration.
	mux.HandleFunc("GET /api/admin/tables", handlers.Admin.ListTables)
	mux.HandleFunc("POST /api/admin/initialize", handlers.Admin.Initialize)
	mux.HandleFunc("POST /api/admin/reset", handlers.Admin.Reset)
	mux.HandleFunc("POST /api/admin/export", handlers.Admin.Export)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
	return mux
}

// Handler returns the fully wrapped handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

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
