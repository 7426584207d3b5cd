package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/boardforge/arena-server/internal/adjudication"
	"github.com/boardforge/arena-server/internal/config"
	"github.com/boardforge/arena-server/internal/connection"
	"github.com/boardforge/arena-server/internal/game/fourinarow"
	"github.com/boardforge/arena-server/internal/match"
	"github.com/boardforge/arena-server/internal/server"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	version    = "dev" // set via ldflags during build
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting arena server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Pick the match store: Postgres when configured, memory otherwise.
	var store match.Store
	if cfg.Database.Enabled {
		pool, err := newPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		pgStore := match.NewPostgresStore(pool)
		if err := pgStore.Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate database", zap.Error(err))
		}
		store = pgStore
		logger.Info("postgres store initialized",
			zap.Int32("max_conns", cfg.Database.MaxConns),
		)
	} else {
		store = match.NewMemoryStore()
		logger.Info("in-memory store initialized")
	}

	manager := match.NewManager(store, logger.Named("match"))
	if err := manager.RegisterGame(fourinarow.New()); err != nil {
		logger.Fatal("failed to register game", zap.Error(err))
	}
	logger.Info("match manager initialized")

	// The registry drives connection liveness; its grace timers hand
	// offline players to the adjudication executor.
	var executor *adjudication.Executor
	registry := connection.NewRegistry(cfg.Engine.GracePeriod, connection.Hooks{
		PlayerConnected: func(key connection.Key, credentials string) {
			if err := manager.SetPlayerConnected(ctx, key.MatchID, key.PlayerID, true); err != nil {
				logger.Warn("mark connected failed", zap.Error(err))
			}
			if credentials != "" {
				if err := manager.SetPlayerCredentials(ctx, key.MatchID, key.PlayerID, credentials); err != nil {
					logger.Warn("capture credentials failed", zap.Error(err))
				}
			}
		},
		PlayerDisconnected: func(key connection.Key) {
			if err := manager.SetPlayerConnected(ctx, key.MatchID, key.PlayerID, false); err != nil {
				logger.Warn("mark disconnected failed", zap.Error(err))
			}
		},
		GraceElapsed: func(key connection.Key) {
			executor.HandleGraceElapsed(key)
		},
	}, logger.Named("connection"))

	executor = adjudication.NewExecutor(manager, store, registry, logger.Named("adjudication"))
	logger.Info("adjudication executor initialized",
		zap.Duration("grace_period", cfg.Engine.GracePeriod),
	)

	gateway := server.NewGateway(cfg.Server, manager, registry, logger.Named("gateway"))

	go func() {
		if serveErr := gateway.Start(); serveErr != nil {
			logger.Error("websocket server error", zap.Error(serveErr))
		}
	}()

	logger.Info("arena server initialized",
		zap.String("version", version),
		zap.String("address", cfg.Server.Address),
	)

	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	logger.Info("shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown error", zap.Error(err))
	}

	registry.Shutdown()
	manager.Close()

	logger.Info("arena server stopped")
}

func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// initLogger initializes the zap logger based on configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
