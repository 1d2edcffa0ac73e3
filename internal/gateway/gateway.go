// ABOUTME: Gateway orchestrator that wires store, codec, services and servers
// ABOUTME: Manages HTTP and optional gRPC health listeners and graceful shutdown

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/pengfeipang/aizn/internal/audit"
	"github.com/pengfeipang/aizn/internal/auth"
	"github.com/pengfeipang/aizn/internal/claim"
	"github.com/pengfeipang/aizn/internal/clock"
	"github.com/pengfeipang/aizn/internal/codec"
	"github.com/pengfeipang/aizn/internal/config"
	"github.com/pengfeipang/aizn/internal/ratelimit"
	"github.com/pengfeipang/aizn/internal/registry"
	"github.com/pengfeipang/aizn/internal/store"
)

// limiter is a rate limit backend the gateway owns and closes.
type limiter interface {
	ratelimit.Limiter
	Close() error
}

// Gateway orchestrates the aiquan-gateway server components.
type Gateway struct {
	config *config.Config
	store  store.Store
	clock  clock.Clock
	logger *slog.Logger

	codec       *codec.Codec
	registry    *registry.Service
	claims      *claim.Service
	authn       *auth.Authenticator
	adminTokens auth.TokenVerifier // nil when auth.jwt_secret is unset

	// sink is nil when auditing is disabled; recorder is then audit.Discard
	sink     *audit.Sink
	recorder audit.Recorder

	// limiter is nil when rate limiting is disabled
	limiter limiter

	httpServer *http.Server
	grpcServer *grpc.Server // nil unless server.grpc_addr is set
	health     *health.Server

	stopHealth context.CancelFunc
}

// Option customises a Gateway at construction.
type Option func(*options)

type options struct {
	clock clock.Clock
	store store.Store
}

// WithClock replaces the wall clock used for claim expiry and rate windows.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithStore uses st instead of opening the configured database.
// The gateway takes ownership and closes it on Shutdown.
func WithStore(st store.Store) Option {
	return func(o *options) { o.store = st }
}

// initStore opens the store selected by database.driver.
func initStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pgCfg := store.DefaultPostgresConfig(cfg.DSN)
		if cfg.MaxOpenConns > 0 {
			pgCfg.MaxOpenConns = cfg.MaxOpenConns
		}
		if cfg.MaxIdleConns > 0 {
			pgCfg.MaxIdleConns = cfg.MaxIdleConns
		}
		if cfg.ConnMaxLifetime > 0 {
			pgCfg.ConnMaxLifetime = cfg.ConnMaxLifetime
		}
		s, err := store.NewPostgresStore(ctx, pgCfg)
		if err != nil {
			return nil, fmt.Errorf("initializing postgres store: %w", err)
		}
		return s, nil
	default:
		s, err := store.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("initializing sqlite store: %w", err)
		}
		return s, nil
	}
}

// initLimiter picks the Redis backend when a URL is configured and the
// in-memory one otherwise.
func initLimiter(ctx context.Context, cfg config.RateLimitConfig, clk clock.Clock, logger *slog.Logger) (limiter, error) {
	if cfg.Disabled {
		logger.Warn("rate limiting disabled")
		return nil, nil
	}
	if cfg.RedisURL != "" {
		l, err := ratelimit.NewRedisFromURL(ctx, cfg.RedisURL, "", clk)
		if err != nil {
			return nil, fmt.Errorf("initializing redis rate limiter: %w", err)
		}
		logger.Info("rate limiting backed by redis")
		return l, nil
	}
	return ratelimit.NewMemory(cfg.MaxKeys, clk), nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	o := options{clock: clock.Real()}
	for _, opt := range opts {
		opt(&o)
	}

	ctx := context.Background()

	cdc, err := codec.New(codec.Config{
		EncryptionKey: cfg.Credentials.EncryptionKey,
		HashSalt:      cfg.Credentials.HashSalt,
		Production:    cfg.IsProduction(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating credential codec: %w", err)
	}

	st := o.store
	if st == nil {
		st, err = initStore(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
	}

	gw := &Gateway{
		config:   cfg,
		store:    st,
		clock:    o.clock,
		logger:   logger.With("component", "gateway"),
		codec:    cdc,
		recorder: audit.Discard,
	}

	if !cfg.Audit.Disabled {
		gw.sink = audit.NewSink(st, audit.SinkConfig{
			QueueSize:    cfg.Audit.QueueSize,
			WriteTimeout: cfg.Audit.WriteTimeout,
			Clock:        o.clock,
		}, logger)
		gw.recorder = gw.sink
	}

	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			gw.closeComponents(ctx)
			return nil, fmt.Errorf("creating admin token verifier: %w", err)
		}
		gw.adminTokens = verifier
	} else {
		gw.logger.Warn("admin API disabled - no jwt_secret configured")
	}

	gw.limiter, err = initLimiter(ctx, cfg.RateLimit, o.clock, gw.logger)
	if err != nil {
		gw.closeComponents(ctx)
		return nil, err
	}

	gw.registry = registry.New(st, cdc, gw.recorder, o.clock, registry.Config{
		BaseURL:  cfg.Server.BaseURL,
		ClaimTTL: cfg.Claims.TokenTTL,
	}, logger)
	gw.claims = claim.New(st, cdc, gw.recorder, o.clock, logger)
	gw.authn = auth.NewAuthenticator(st, cdc, logger)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.newRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	gw.health = health.NewServer()
	if cfg.Server.GRPCAddr != "" {
		gw.grpcServer = newGRPCServer(gw.health)
	}

	return gw, nil
}

// Handler returns the HTTP handler, for embedding or tests.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupListeners creates TCP listeners for HTTP and, when configured, gRPC.
func (g *Gateway) setupListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			_ = httpLn.Close()
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	return grpcLn, httpLn, nil
}

// startServers starts the servers in goroutines, returning error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the gateway servers and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners()
	if err != nil {
		return err
	}

	healthCtx, cancel := context.WithCancel(context.Background())
	g.stopHealth = cancel
	go g.watchHealth(healthCtx)

	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	timeout := g.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	if g.grpcServer == nil {
		return
	}
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeComponents flushes the audit queue before the store goes away.
func (g *Gateway) closeComponents(ctx context.Context) []error {
	var errs []error
	if g.stopHealth != nil {
		g.stopHealth()
	}
	if g.sink != nil {
		errs = appendCloseError(errs, "audit flush", g.sink.Close(ctx))
	}
	if g.limiter != nil {
		errs = appendCloseError(errs, "rate limiter close", g.limiter.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())
	return errs
}

// Shutdown gracefully stops all gateway servers and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	errs = append(errs, g.closeComponents(ctx)...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
