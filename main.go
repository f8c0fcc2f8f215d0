package main

import (
	"context"
	"database/sql"
	"log"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"go.uber.org/zap"

	"github.com/facilityhub/maintenance-engine/pkg/audit"
	"github.com/facilityhub/maintenance-engine/pkg/config"
	"github.com/facilityhub/maintenance-engine/pkg/database"
	"github.com/facilityhub/maintenance-engine/pkg/logging"
	"github.com/facilityhub/maintenance-engine/pkg/repositories"
	"github.com/facilityhub/maintenance-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.Int("retention_days", cfg.Retention.Days))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Migrations run over database/sql; the pool below serves everything else.
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("Failed to open database for migrations", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, cfg.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = sqlDB.Close()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	entityRepo := repositories.NewEntityRepository()
	historyRepo := repositories.NewHistoryRepository()
	auditor := audit.NewMutationAuditor(logger)

	retention := services.NewRetentionService(db, entityRepo, historyRepo, auditor, cfg.Retention.Days, logger)
	retention.RunScheduler(ctx, time.Duration(cfg.Retention.SweepIntervalMinutes)*time.Minute)

	logger.Info("maintenance-engine core started", zap.String("version", cfg.Version))

	<-ctx.Done()
	logger.Info("Shutting down")
}
