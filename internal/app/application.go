// Package app assembles the service from its components and owns the
// server lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"lookout/internal/api"
	"lookout/internal/config"
	"lookout/internal/registry"
	"lookout/internal/room"
	"lookout/internal/router"
	"lookout/internal/websocket"
)

// Application wires the shared state, the streaming endpoint, and the
// HTTP API behind one server.
type Application struct {
	config     *config.Config
	registry   *registry.Registry
	directory  *room.Directory
	httpServer *http.Server
	logger     *slog.Logger
}

// NewApplication builds all components in dependency order:
// Registry → Directory → Router → Limiter → WebSocket handler → API → HTTP.
func NewApplication(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	reg := registry.NewRegistry(logger)
	dir := room.NewDirectory(logger)
	rt := router.NewRouter(reg, logger)
	limiter := router.NewMessageLimiter(cfg.Limits.MessagesPerMinute)

	wsHandler := websocket.NewHandler(reg, dir, rt, limiter,
		cfg.WebSocket.PingInterval, cfg.WebSocket.ReadTimeout,
		cfg.WebSocket.BufferSize, logger)

	apiServer := api.NewServer(reg, dir, logger)

	root := chi.NewRouter()
	root.Mount("/", apiServer.Routes())
	root.Get("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:     root,
		ReadTimeout: cfg.HTTP.ReadTimeout,
		// WriteTimeout is deliberately left unset on the server: it would
		// sever long-lived WebSocket connections. The API handlers finish
		// fast and the streaming side enforces its own write deadline.
	}

	return &Application{
		config:     cfg,
		registry:   reg,
		directory:  dir,
		httpServer: httpServer,
		logger:     logger,
	}, nil
}

// Start launches the HTTP server and confirms it came up before returning.
func (app *Application) Start(ctx context.Context) error {
	app.logger.Info("starting server", "addr", app.httpServer.Addr)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		app.logger.Info("server started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts the HTTP server down gracefully. In-flight WebSocket
// sessions observe the closed transport and unwind themselves.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down")
	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Warn("HTTP server shutdown error", "error", err)
		return err
	}
	app.logger.Info("shutdown complete")
	return nil
}

// Addr returns the configured listen address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
