// Package main provides the session engine server binary.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/greyhelm/gamemaster/internal/api"
	"github.com/greyhelm/gamemaster/internal/config"
	"github.com/greyhelm/gamemaster/internal/engine"
	"github.com/greyhelm/gamemaster/internal/game/condition"
	"github.com/greyhelm/gamemaster/internal/game/dice"
	"github.com/greyhelm/gamemaster/internal/game/state"
	"github.com/greyhelm/gamemaster/internal/narrator"
	"github.com/greyhelm/gamemaster/internal/observability"
	"github.com/greyhelm/gamemaster/internal/server"
	"github.com/greyhelm/gamemaster/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	roller := dice.NewLoggedRoller(dice.NewCryptoSource(), logger)

	// Connect to PostgreSQL.
	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)
	sessionRepo := postgres.NewSessionRepository(pool.DB())
	eventRepo := postgres.NewEventRepository(pool.DB())

	// Load condition definitions.
	catalog, err := condition.LoadDirectory(cfg.Content.ConditionsDir)
	if err != nil {
		logger.Fatal("loading condition definitions", zap.Error(err))
	}
	logger.Info("loaded condition definitions", zap.Int("count", catalog.Len()))

	var nar narrator.Narrator
	if cfg.Narrator.Enabled {
		nar = narrator.NewAnthropicNarrator(cfg.Narrator, logger)
		logger.Info("narrator enabled", zap.String("model", cfg.Narrator.Model))
	}

	coordinator := engine.NewCoordinator(
		sessionRepo, eventRepo,
		&state.Applier{Conditions: catalog},
		roller, nar, logger,
	)
	handler := api.NewHandler(coordinator, catalog, logger)

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("http", server.NewHTTPService(cfg.Server, handler.Router(), logger))
	lifecycle.Add("postgres", &server.FuncService{
		StartFn: func() error {
			for {
				time.Sleep(30 * time.Second)
				if err := pool.Health(ctx, 5*time.Second); err != nil {
					logger.Warn("database health check failed", zap.Error(err))
				}
			}
		},
		StopFn: func() {
			pool.Close()
		},
	})

	logger.Info("server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("addr", cfg.Server.Addr()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
