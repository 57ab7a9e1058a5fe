package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/groupledger/internal/server"
	"github.com/alanyoungcy/groupledger/internal/server/handler"
	"github.com/alanyoungcy/groupledger/internal/server/ws"
)

// InitMode creates any missing fixed table and exits.
func (a *App) InitMode(ctx context.Context, deps *Dependencies) error {
	svc := BuildServices(a.cfg, deps, nil, a.logger)
	tables, err := svc.Schema.Initialize(ctx)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "schema initialized", slog.Any("tables", tables))
	return nil
}

// ServeMode initializes the schema, then runs the WebSocket hub and the HTTP
// API until the context is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	// The hub subscribes to the bus when Redis is wired, otherwise services
	// publish into it directly.
	var hub *ws.Hub
	hubCfg := ws.Config{Storage: a.cfg.Storage, StartedAt: time.Now().UTC()}
	if deps.Bus != nil {
		hubCfg.Pattern = deps.Bus.EventPattern()
		hubCfg.Stream = deps.Bus.EventStream()
		hub = ws.NewHub(deps.Bus, a.logger, hubCfg)
	} else {
		hub = ws.NewHub(nil, a.logger, hubCfg)
	}
	g.Go(func() error {
		return hub.Run(ctx)
	})

	svc := BuildServices(a.cfg, deps, eventPublisher(deps, hub), a.logger)
	tables, err := svc.Schema.Initialize(ctx)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "schema ready", slog.Int("tables", len(tables)))

	if !a.cfg.Server.Enabled {
		a.logger.WarnContext(ctx, "HTTP server disabled; nothing to serve")
		return g.Wait()
	}
	a.startHTTPServer(ctx, g, deps, svc, hub)
	return g.Wait()
}

// startHTTPServer adds the HTTP server goroutines to the given errgroup. The
// server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *Services, hub *ws.Hub) {
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKeys:     a.cfg.Server.APIKeys,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health: handler.NewHealthHandler(deps.Health, a.logger),
		Groups: handler.NewGroupHandler(svc.Groups, a.logger),
		Users:  handler.NewUserHandler(svc.Users, svc.Portfolios, a.logger),
		Ledger: handler.NewLedgerHandler(svc.Ledger, svc.Portfolios, a.logger),
		Admin:  handler.NewAdminHandler(svc.Schema, deps.Archiver, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	if len(a.cfg.Server.APIKeys) == 0 {
		a.logger.WarnContext(ctx, "HTTP API authentication disabled (no server.api_keys)")
	}

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		timeout := a.cfg.Server.ShutdownTimeout.Duration
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
