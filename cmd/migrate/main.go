package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/genflow-studio/engine/internal/repository"
	"github.com/genflow-studio/engine/pkg/config"
	"github.com/genflow-studio/engine/pkg/database"
	"github.com/genflow-studio/engine/pkg/logger"
)

func main() {
	cfg := config.MustLoad()
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat, logger.WithService("genflow-migrate"))
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if !cfg.PersistenceEnabled() {
		log.Fatal("DATABASE_URL is not set")
	}

	db, err := database.OpenPostgres(context.Background(), cfg.DatabaseURL, true)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	if err := repository.Migrate(db); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}

	fmt.Fprintln(os.Stdout, "migrations completed")
}
