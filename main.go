package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-sqlrest/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-sqlrest/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/ekaya-sqlrest/pkg/adapters/datasource/postgres"
	_ "github.com/ekaya-inc/ekaya-sqlrest/pkg/adapters/datasource/sqlite"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/config"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/coordination"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/database"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/handlers"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/logging"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/services"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/sql"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("service", cfg.ServiceName),
		zap.String("database_type", cfg.Database.Type),
		zap.Bool("redis", cfg.Redis.Enabled()),
		zap.Int("resources", len(cfg.Resources)))

	exec, err := datasource.NewExecutorFactory(logger).NewExecutor(ctx, cfg.Database.Type, cfg.Database.AdapterConfig())
	if err != nil {
		return fmt.Errorf("connect to %s database: %w", cfg.Database.Type, err)
	}
	defer func() {
		if err := exec.Close(); err != nil {
			logger.Warn("Failed to close database", zap.Error(err))
		}
	}()
	logger.Info("Database connected", zap.String("target", exec.Target()))

	coord, closeCoord, err := newCoordinator(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCoord()

	interval, err := sql.ParsePollInterval(cfg.Push.DefaultPollInterval)
	if err != nil {
		return fmt.Errorf("push.default_poll_interval: %w", err)
	}

	resources := services.NewResourceService(cfg.Resources, exec, services.ResourceServiceConfig{
		Service:             cfg.ServiceName,
		DefaultPollInterval: interval,
		RejectInjection:     cfg.Security.RejectInjection,
		Coordinator:         coord,
		LockTTL:             cfg.Redis.LockTTL,
	}, logger)
	if rejected := resources.Rejected(); len(rejected) > 0 {
		logger.Warn("Some resources were not loaded", zap.Int("rejected", len(rejected)))
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           handlers.NewRouter(cfg, resources, exec, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting ekaya-sqlrest",
			zap.String("addr", srv.Addr),
			zap.Bool("tls", cfg.TLSEnabled()))
		var err error
		if cfg.TLSEnabled() {
			err = srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		// Jobs stop first so no poll outlives the database handle.
		resources.StopAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newCoordinator returns the Redis coordinator when Redis is configured and
// an in-process one otherwise.
func newCoordinator(ctx context.Context, cfg *config.Config, logger *zap.Logger) (coordination.Coordinator, func(), error) {
	client, err := database.NewRedisClient(ctx, &cfg.Redis, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	if client == nil {
		return coordination.NewMemory(), func() {}, nil
	}

	coord := coordination.NewRedis(client, logger, coordination.WithKeyPrefix(cfg.Redis.KeyPrefix))
	return coord, func() {
		_ = coord.Close()
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}, nil
}
