// Package app runs the HTTP transport of the server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/codex-k8s/desktop-mcp-server/internal/dsl"
	"github.com/codex-k8s/desktop-mcp-server/internal/http/health"
	"github.com/codex-k8s/desktop-mcp-server/internal/timeutil"
)

// Options configures an App.
type Options struct {
	// Server holds listen address, paths and timeouts.
	Server dsl.ServerConfig
	// Handler serves the MCP endpoint.
	Handler http.Handler
	// Routes adds extra endpoints such as metrics.
	Routes map[string]http.Handler
	// Probes gate readiness.
	Probes map[string]health.Probe
	// OnShutdown runs after the HTTP server stopped accepting requests.
	OnShutdown func(ctx context.Context) error
	// Logger is used for lifecycle events.
	Logger *slog.Logger
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

// App controls the HTTP server lifecycle.
type App struct {
	baseCtx         context.Context
	server          *http.Server
	health          *health.Handler
	onShutdown      func(ctx context.Context) error
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// New initializes the HTTP server with health endpoints.
func New(baseCtx context.Context, opts Options) (*App, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("handler is nil")
	}
	if baseCtx == nil {
		return nil, fmt.Errorf("base context is nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	healthHandler := health.New()
	for name, probe := range opts.Probes {
		healthHandler.AddProbe(name, probe)
	}
	mux := http.NewServeMux()
	mux.Handle(opts.Server.HTTP.Path, opts.Handler)
	mux.HandleFunc("/healthz", healthHandler.Healthz)
	mux.HandleFunc("/readyz", healthHandler.Readyz)
	for path, route := range opts.Routes {
		if strings.TrimSpace(path) == "" || route == nil {
			continue
		}
		mux.Handle(path, route)
	}

	srv := &http.Server{
		Addr:         opts.Server.HTTP.Listen,
		Handler:      mux,
		ReadTimeout:  timeutil.ParseDurationOrDefault(opts.Server.HTTP.ReadTimeout, 15*time.Second),
		WriteTimeout: timeutil.ParseDurationOrDefault(opts.Server.HTTP.WriteTimeout, 60*time.Second),
		IdleTimeout:  timeutil.ParseDurationOrDefault(opts.Server.HTTP.IdleTimeout, 60*time.Second),
	}

	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = opts.Server.ShutdownTimeoutOr(10 * time.Second)
	}

	return &App{
		baseCtx:         baseCtx,
		server:          srv,
		health:          healthHandler,
		onShutdown:      opts.OnShutdown,
		logger:          logger,
		shutdownTimeout: shutdownTimeout,
	}, nil
}

// Run starts the HTTP server and blocks until ctx ends or the server fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		a.health.SetReady()
		a.logger.Info("http server started", "addr", ln.Addr().String())
		errCh <- a.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown requested")
		return a.shutdown()
	case err := <-errCh:
		a.health.SetNotReady()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		a.logger.Error("http server error", "error", err)
		return err
	}
}

func (a *App) shutdown() error {
	a.health.SetNotReady()
	ctx, cancel := context.WithTimeout(a.baseCtx, a.shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if a.onShutdown != nil {
		if err := a.onShutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
