// ABOUTME: Gateway orchestrator wiring config, store, issuer client, and HTTP server
// ABOUTME: Manages startup bootstrap, serving, and graceful shutdown lifecycle

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/kubeatlas/atlas-gateway/internal/auth"
	"github.com/kubeatlas/atlas-gateway/internal/config"
	"github.com/kubeatlas/atlas-gateway/internal/install"
	"github.com/kubeatlas/atlas-gateway/internal/issuer"
	"github.com/kubeatlas/atlas-gateway/internal/keyset"
	"github.com/kubeatlas/atlas-gateway/internal/store"
)

// Gateway orchestrates the atlas-gateway server components: the shared
// store, the issuer client, token validation, the install/registry
// service, and the HTTP API that fronts them.
type Gateway struct {
	config     *config.Config
	store      store.Store
	issuer     *issuer.Client
	keys       *keyset.Cache
	validator  auth.TokenValidator
	install    *install.Service
	httpServer *http.Server
	bootstrap  *bootstrapState
	logger     *slog.Logger

	// serverID identifies this gateway instance
	serverID string
}

// initStore creates the configured store backend.
func initStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case "redis":
		return store.NewRedisStore(ctx, cfg.Store.RedisURL, logger)
	case "sqlite":
		return store.NewSQLiteStore(cfg.Store.SQLitePath, logger)
	default:
		// Validate() rejects anything else; this is unreachable from Load.
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// New creates a Gateway from validated configuration. The store backend
// is opened here; the issuer is not contacted until Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	issuerClient := issuer.NewClient(cfg.Issuer, logger)
	keys := keyset.New(cfg.Issuer.JWKSURL(), &http.Client{Timeout: cfg.Issuer.RequestTimeout}, logger)
	validator := auth.NewValidator(keys, issuerClient, cfg.Issuer.RealmURL(), logger)
	installSvc := install.NewService(s, logger)

	gw := &Gateway{
		config:    cfg,
		store:     s,
		issuer:    issuerClient,
		keys:      keys,
		validator: validator,
		install:   installSvc,
		bootstrap: newBootstrapState(),
		logger:    logger.With("component", "gateway"),
		serverID:  generateServerID(),
	}

	mux := http.NewServeMux()
	gw.registerRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
// Bootstrap runs concurrently; the gateway serves while it retries.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	go g.runBootstrap(ctx)

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "server_id", g.serverID)
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// generateServerID creates a unique identifier for this gateway instance.
func generateServerID() string {
	return fmt.Sprintf("atlas-gateway-%d", time.Now().UnixNano()%1000000)
}
