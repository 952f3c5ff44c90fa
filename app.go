package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/peternagy/espal/internal/api"
	"github.com/peternagy/espal/internal/cluster"
	"github.com/peternagy/espal/internal/config"
	"github.com/peternagy/espal/internal/connection"
	"github.com/peternagy/espal/internal/credential"
	"github.com/peternagy/espal/internal/debug"
	"github.com/peternagy/espal/internal/document"
	"github.com/peternagy/espal/internal/esclient"
	"github.com/peternagy/espal/internal/index"
	"github.com/peternagy/espal/internal/performance"
	"github.com/peternagy/espal/internal/rest"
	"github.com/peternagy/espal/internal/storage"
	"github.com/peternagy/espal/internal/transfer"
)

// =============================================================================
// App - Thin Facade over the service graph
// =============================================================================

// App holds the configuration and every service behind the HTTP API.
type App struct {
	cfg *config.Config

	store      *storage.Store
	connStore  *storage.ConnectionService
	querySvc   *storage.QueryService
	connection *connection.Manager
	cluster    *cluster.Service
	index      *index.Service
	document   *document.Service
	rest       *rest.Service
	transfer   *transfer.Service
	metrics    *performance.Service

	handler http.Handler
	cancel  context.CancelFunc
}

// NewApp opens storage and builds the service graph for cfg.
func NewApp(cfg *config.Config) (*App, error) {
	secret, source, err := credential.ResolveSecret(cfg.Security.EncryptionKey, cfg.Security.UseKeyring)
	if err != nil {
		debug.Warn(debug.CategoryStorage, "falling back to default encryption key", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if source == credential.SourceDefault {
		debug.Warn(debug.CategoryStorage, "stored passwords use the built-in default key; set ESPAL_SECURITY_ENCRYPTION_KEY", nil)
	}

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	a := &App{cfg: cfg, store: store}
	a.connStore = storage.NewConnectionService(store, credential.NewCipher(secret))
	a.querySvc = storage.NewQueryService(store)
	a.connection = connection.NewManager(a.connStore, connection.Options{
		Client: esclient.Options{
			InsecureSkipVerify: cfg.Elasticsearch.InsecureSkipVerify,
			RequestTimeout:     cfg.Elasticsearch.RequestTimeout,
		},
		IdleTTL:         cfg.Pool.IdleTTL,
		BreakerFailures: cfg.Pool.BreakerFailures,
		BreakerCooldown: cfg.Pool.BreakerCooldown,
	})
	a.cluster = cluster.NewService(a.connection)
	a.index = index.NewService(a.connection)
	a.document = document.NewService(a.connection)
	a.rest = rest.NewService(a.connection)
	a.metrics = performance.NewService(a.connection)
	a.transfer = transfer.NewService(a.connection, a.metrics.CopiedDocuments())

	deps := api.Deps{
		Connections: a.connStore,
		Queries:     a.querySvc,
		Sessions:    a.connection,
		Cluster:     a.cluster,
		Indices:     a.index,
		Documents:   a.document,
		Rest:        a.rest,
		Transfer:    a.transfer,
		Metrics:     a.metrics,
	}
	if cfg.IsProduction() {
		deps.StaticDir = cfg.Server.StaticDir
	}
	a.handler = api.NewHandler(deps)

	debug.Info(debug.CategoryStorage, "storage ready", map[string]interface{}{
		"path":      cfg.Storage.Path,
		"keySource": string(source),
	})
	return a, nil
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return a.handler
}

// startup starts background maintenance. It stops when shutdown is called
// or ctx is cancelled.
func (a *App) startup(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.connection.StartSweeper(ctx)
}

// shutdown drops every cluster client and closes storage.
func (a *App) shutdown() error {
	if a.cancel != nil {
		a.cancel()
	}
	a.connection.Close()
	return a.store.Close()
}

// Serve listens on the configured address until ctx is cancelled, then
// drains in-flight requests for at most the configured shutdown timeout.
func (a *App) Serve(ctx context.Context) error {
	a.startup(ctx)

	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		debug.Info(debug.CategoryHTTP, "listening", map[string]interface{}{
			"addr": srv.Addr,
			"mode": a.cfg.Server.Mode,
		})
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		debug.Info(debug.CategoryHTTP, "shutting down", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			serveErr = fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	if err := a.shutdown(); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("failed to close storage: %w", err)
	}
	return serveErr
}

// MigrateSecrets re-encrypts any stored plaintext passwords.
func (a *App) MigrateSecrets(ctx context.Context) (int, error) {
	return a.connStore.MigrateLegacyPasswords(ctx)
}
