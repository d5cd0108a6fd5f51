package main

import (
	"context"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/safar/stockroom/internal/config"
	"github.com/safar/stockroom/internal/database"
	"github.com/safar/stockroom/internal/observability"
	"github.com/safar/stockroom/migrations"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: migrate [up|down]")
	}
	direction := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability)
	defer logger.Sync()

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		logger.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()

	ran, err := database.Migrate(context.Background(), db, migrations.FS, direction)
	for _, filename := range ran {
		logger.Info("ran migration", zap.String("file", filename))
	}
	if err != nil {
		logger.Fatal("migration failed", zap.String("direction", direction), zap.Error(err))
	}

	logger.Info("migrations complete", zap.String("direction", direction), zap.Int("count", len(ran)))
}
