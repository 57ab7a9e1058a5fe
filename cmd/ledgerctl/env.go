package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/alanyoungcy/groupledger/internal/app"
	"github.com/alanyoungcy/groupledger/internal/config"
)

// env is what every command runs against.
type env struct {
	cfg      *config.Config
	deps     *app.Dependencies
	services *app.Services
	logger   *slog.Logger
	cleanup  func()
}

// open loads the configuration and wires the dependencies. Logs go to
// stderr so command output stays clean.
func open(ctx context.Context) (*env, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", *configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLevel(cfg.LogLevel),
	}))

	deps, cleanup, err := app.Wire(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:      cfg,
		deps:     deps,
		services: app.BuildServices(cfg, deps, nil, logger),
		logger:   logger,
		cleanup:  cleanup,
	}, nil
}
