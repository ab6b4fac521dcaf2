package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/solorunner/nlm-auth-broker/internal/authapi"
	"github.com/solorunner/nlm-auth-broker/internal/broker"
)

// Option configures a Server.
type Option func(*config)

type config struct {
	logger     *slog.Logger
	mcpPath    string
	mcpHandler http.Handler
}

// WithLogger sets the logger used for request logs. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithMCPHandler mounts the in-process tool boundary on the same listener.
func WithMCPHandler(path string, h http.Handler) Option {
	return func(c *config) {
		c.mcpPath = path
		c.mcpHandler = h
	}
}

// Server is the extension-facing HTTP boundary of the broker.
type Server struct {
	mux    *http.ServeMux
	server *http.Server
	broker *broker.Broker
	addr   string
}

// Compile-time check that Server implements http.Handler
var _ http.Handler = (*Server)(nil)

// New creates a Server that forwards the /auth endpoints to b.
func New(b *broker.Broker, opts ...Option) (*Server, error) {
	if b == nil {
		return nil, fmt.Errorf("missing broker")
	}

	cfg := &config{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &Server{
		mux:    http.NewServeMux(),
		broker: b,
	}

	auth := []func(http.Handler) http.Handler{
		RedactToken,
		Logging(cfg.logger),
		Recovery,
		SweepExpired(b),
	}

	s.mux.Handle("POST "+authapi.CookiesEndpoint, applyMiddlewares(http.HandlerFunc(s.handleDeliver), auth...))
	s.mux.Handle("GET "+authapi.StatusEndpoint+"{token}", applyMiddlewares(http.HandlerFunc(s.handleStatus), auth...))
	s.mux.Handle("POST "+authapi.ConsumeEndpoint+"{token}", applyMiddlewares(http.HandlerFunc(s.handleConsume), auth...))
	s.mux.Handle("GET "+authapi.TokenEndpoint, applyMiddlewares(http.HandlerFunc(s.handleToken), auth...))
	s.mux.Handle("POST "+authapi.RegisterTokenEndpoint, applyMiddlewares(http.HandlerFunc(s.handleRegisterToken), auth...))
	s.mux.Handle("GET "+authapi.LatestTokenEndpoint, applyMiddlewares(http.HandlerFunc(s.handleLatestToken), auth...))

	s.mux.Handle("GET "+authapi.HealthEndpoint, http.HandlerFunc(s.handleHealth))

	if cfg.mcpHandler != nil {
		if cfg.mcpPath == "" {
			return nil, fmt.Errorf("missing MCP endpoint path")
		}
		s.mux.Handle(cfg.mcpPath, applyMiddlewares(cfg.mcpHandler,
			Logging(cfg.logger),
			Recovery,
		))
	}

	return s, nil
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (s *Server) Start(ctx context.Context, address string) (<-chan error, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.addr = listener.Addr().String()
	s.server = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      15 * time.Minute, // MCP streams stay open while the agent works
		IdleTimeout:       90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := s.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Addr returns the address the server listens on once started.
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = s.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
