package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pgcrud/pgcrud/internal/gateway"
	"github.com/pgcrud/pgcrud/internal/mcp"
	"github.com/pgcrud/pgcrud/internal/schema"
	"github.com/pgcrud/pgcrud/internal/version"
	"github.com/pgcrud/pgcrud/pkg/config"
	"github.com/pgcrud/pgcrud/pkg/logger"
)

const shutdownGracePeriod = 15 * time.Second

func main() {
	log := logger.New("pgcrud", version.Version)
	defer log.Sync()

	if err := run(log); err != nil {
		log.Fatalf("startup failed: %v", err)
	}
}

func run(log *logger.Logger) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	primaryPool, err := gateway.ConnectPool(ctx, cfg.DatabaseURL, cfg.PoolMaxConns)
	if err != nil {
		return fmt.Errorf("error connecting to primary database: %w", err)
	}

	var readPool = primaryPool
	var haveReadPool bool
	if cfg.ReadDatabaseURL != "" {
		readPool, err = gateway.ConnectPool(ctx, cfg.ReadDatabaseURL, cfg.PoolMaxConns)
		if err != nil {
			primaryPool.Close()
			return fmt.Errorf("error connecting to read database: %w", err)
		}
		haveReadPool = true
	}

	// Introspection always runs against the primary.
	model, err := schema.Introspect(ctx, primaryPool, schema.IntrospectOptions{
		IncludeSchemas: cfg.IncludeSchemas,
		ExcludeSchemas: cfg.ExcludeSchemas,
		ExcludeTables:  cfg.ExcludeTables,
	}, log)
	if err != nil {
		primaryPool.Close()
		if haveReadPool {
			readPool.Close()
		}
		return err
	}
	log.Infof("introspected %d tables across namespaces %v (model %s)",
		model.Len(), model.Namespaces, model.Digest()[:12])

	var engine *gateway.Engine
	if haveReadPool {
		engine = gateway.NewEngine(cfg, model, primaryPool, readPool, log)
	} else {
		engine = gateway.NewEngine(cfg, model, primaryPool, nil, log)
	}

	mcpServer := mcp.NewServer(engine, log)
	server := gateway.NewServer(engine, mcpServer)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: server,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("pgcrud %s listening on %s", version.Version, httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		engine.Close()
		return err
	case <-ctx.Done():
	}

	log.Infof("shutdown signal received, draining requests")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf("shutdown did not complete cleanly: %v", err)
	}
	for engine.OngoingOperations() > 0 {
		select {
		case <-shutdownCtx.Done():
			log.Warnf("grace period elapsed with %d operations in flight", engine.OngoingOperations())
		case <-time.After(100 * time.Millisecond):
			continue
		}
		break
	}

	mcpServer.Shutdown()
	engine.Close()
	log.Infof("pgcrud stopped")
	return nil
}
