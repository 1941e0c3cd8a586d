package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"market-analysis-engine/config"
	"market-analysis-engine/internal/analysis"
	"market-analysis-engine/internal/api"
	"market-analysis-engine/internal/backtest"
	"market-analysis-engine/internal/database"
	"market-analysis-engine/internal/events"
	"market-analysis-engine/internal/logging"
	"market-analysis-engine/internal/marketdata"
	"market-analysis-engine/internal/metrics"
	"market-analysis-engine/internal/workflow"
)

func main() {
	// Load .env if present; environment beats config.json either way
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
	})
	logger.Info().Msg("Starting market analysis engine")

	bus := events.NewBus()
	bus.SubscribeAll(func(e events.Event) {
		metrics.RecordEngineEvent(string(e.Type))
	})
	bus.Subscribe(events.EventError, func(e events.Event) {
		logger.Warn().Fields(e.Data).Msg("Engine error event")
	})

	// Persistence is optional: a failed connection downgrades to
	// provider-only operation instead of aborting startup.
	var db *database.DB
	var store marketdata.BarStore
	var runs *database.RunRepository
	if cfg.DatabaseConfig.Enabled {
		db, err = database.NewDB(database.Config{
			Host:     cfg.DatabaseConfig.Host,
			Port:     cfg.DatabaseConfig.Port,
			User:     cfg.DatabaseConfig.User,
			Password: cfg.DatabaseConfig.Password,
			Database: cfg.DatabaseConfig.Database,
			SSLMode:  cfg.DatabaseConfig.SSLMode,
		}, logger)
		if err != nil {
			logger.Error().Err(err).Msg("Database unavailable, continuing without persistence")
			db = nil
		} else if err := runMigrations(db, logger); err != nil {
			db.Close()
			db = nil
		} else {
			store = database.NewBarRepository(db, logger)
			runs = database.NewRunRepository(db, logger)
			logger.Info().Msg("Persistence enabled")
		}
	}

	var snapshots *marketdata.SnapshotPublisher
	if cfg.RedisConfig.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			PoolSize: cfg.RedisConfig.PoolSize,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Error().Err(err).Msg("Redis unavailable, snapshots disabled")
		} else {
			snapshots = marketdata.NewSnapshotPublisher(client, logger)
			logger.Info().Str("addr", cfg.RedisConfig.Address).Msg("Snapshot publishing enabled")
		}
	}

	service := marketdata.NewService(marketdata.ServiceConfig{
		Providers: buildProviders(cfg),
		Store:     store,
		Snapshots: snapshots,
		Bus:       bus,
	}, logger)

	orchestrator := analysis.NewOrchestrator(service, bus, logger)
	engineWorkflow := workflow.New(service, bus, cfg.ScannerConfig.WorkerCount, logger)
	loader := backtest.NewDataLoader(service, store, logger)
	engine := backtest.NewEngine(loader, bus, logger)
	optimizer := backtest.NewWalkForwardOptimizer(engine, bus, cfg.BacktestConfig.OptimizerWorkers, logger)

	server := api.NewServer(api.ServerConfig{
		Host:            cfg.ServerConfig.Host,
		Port:            cfg.ServerConfig.Port,
		ProductionMode:  cfg.ServerConfig.ProductionMode,
		AllowedOrigins:  cfg.ServerConfig.OriginList(),
		RateLimit:       cfg.ServerConfig.RateLimit,
		RateLimitWindow: cfg.ServerConfig.RateLimitWindow,
	}, api.Dependencies{
		Market:    service,
		Analysis:  orchestrator,
		Workflow:  engineWorkflow,
		Engine:    engine,
		Optimizer: optimizer,
		Runs:      runs,
		DB:        db,
		Bus:       bus,
	}, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down HTTP server")
	}
	if db != nil {
		db.Close()
	}

	logger.Info().Msg("Shutdown complete")
}

func runMigrations(db *database.DB, logger zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.RunMigrations(ctx); err != nil {
		logger.Error().Err(err).Msg("Migrations failed, continuing without persistence")
		return err
	}
	return nil
}

// buildProviders assembles the chain in configured priority order. The
// simulated provider is appended last so a fully offline process still
// serves deterministic data.
func buildProviders(cfg *config.Config) []marketdata.Provider {
	var providers []marketdata.Provider
	if cfg.ProvidersConfig.Binance.Enabled {
		p := cfg.ProvidersConfig.Binance
		providers = append(providers, marketdata.NewBinanceProvider(p.Priority, p.RateLimitPerHour, p.SymbolAliases))
	}
	if cfg.ProvidersConfig.Yahoo.Enabled {
		p := cfg.ProvidersConfig.Yahoo
		providers = append(providers, marketdata.NewYahooProvider(p.Priority, p.RateLimitPerHour, p.SymbolAliases))
	}
	if cfg.ProvidersConfig.SimulatedFallback {
		providers = append(providers, marketdata.NewSimulatedProvider())
	}
	return providers
}
