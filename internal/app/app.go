package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/solorunner/nlm-auth-broker/internal/broker"
	"github.com/solorunner/nlm-auth-broker/internal/server"
	"github.com/solorunner/nlm-auth-broker/internal/tools"
)

// Name and Version identify the broker to MCP clients.
const (
	Name    = "nlm-auth-broker"
	Version = "0.1.0"
)

// App orchestrates the lifecycle of the broker's HTTP and tool boundaries.
type App struct {
	cfg     *Config
	broker  *broker.Broker
	toolkit *tools.Toolkit
	mcp     *tools.MCP
	server  *server.Server
	sweeper *broker.Sweeper
}

// New creates a new App instance. Both boundaries share one broker.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store := broker.NewStore(
		broker.WithTTL(cfg.Broker.TTL),
		broker.WithTombstoneTTL(tombstoneTTL(cfg.Broker)),
	)
	b, err := broker.New(store)
	if err != nil {
		return nil, fmt.Errorf("failed to create broker: %w", err)
	}

	creds, err := cfg.Credentials.NewCredentialStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create credential store: %w", err)
	}

	address := cfg.Server.Host + ":" + strconv.FormatUint(uint64(cfg.Server.Port), 10)
	toolkit, err := tools.New(b,
		tools.WithCredentialStore(creds),
		tools.WithDefaultProfile(cfg.Credentials.Profile),
		tools.WithServerURL("http://"+address),
		tools.WithSessionIdleTTL(cfg.MCP.SessionIdleTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create toolkit: %w", err)
	}

	a := &App{
		cfg:     cfg,
		broker:  b,
		toolkit: toolkit,
		sweeper: broker.NewSweeper(toolkit, cfg.Broker.SweepInterval),
	}

	opts := []server.Option{}
	if cfg.MCP.IsEnabled() {
		a.mcp = tools.NewMCP(toolkit, Name, Version, cfg.MCP.Path)
		opts = append(opts, server.WithMCPHandler(cfg.MCP.Path, a.mcp.Handler()))
	}

	a.server, err = server.New(b, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return a, nil
}

// Broker returns the shared broker.
func (a *App) Broker() *broker.Broker {
	return a.broker
}

// Toolkit returns the in-process tool boundary.
func (a *App) Toolkit() *tools.Toolkit {
	return a.toolkit
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	return a.run(ctx, nil)
}

func (a *App) run(ctx context.Context, ready func(address string)) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting auth broker", "address", address, "ttl", a.cfg.Broker.TTL)
	serverErrCh, err := a.server.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("server startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.server.Shutdown)
	if a.mcp != nil {
		shutdownFuncs = append(shutdownFuncs, a.mcp.Shutdown)
	}

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-serverErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "server runtime error", "error", err)
				return fmt.Errorf("server: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	g.Go(func() error {
		return a.sweeper.Run(gCtx)
	})

	slog.InfoContext(gCtx, "application ready", "address", a.server.Addr(), "mcp", a.mcp != nil)
	if ready != nil {
		ready(a.server.Addr())
	}

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

func tombstoneTTL(cfg BrokerConfig) time.Duration {
	if cfg.TombstoneTTL == nil {
		return DefaultConfigTombstoneTTL
	}
	return *cfg.TombstoneTTL
}
