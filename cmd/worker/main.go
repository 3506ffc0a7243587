package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/genflow-studio/engine/internal/queue/tasks"
	"github.com/genflow-studio/engine/internal/repository"
	"github.com/genflow-studio/engine/internal/services"
	"github.com/genflow-studio/engine/pkg/config"
	"github.com/genflow-studio/engine/pkg/database"
	"github.com/genflow-studio/engine/pkg/logger"
)

func main() {
	cfg := config.MustLoad()
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat, logger.WithService("genflow-worker"))
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if cfg.RedisAddr == "" || !cfg.PersistenceEnabled() {
		log.Fatal("worker needs REDIS_ADDR and DATABASE_URL")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}
	_ = rdb.Close()

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		},
		asynq.Config{
			Concurrency: cfg.AsynqConcurrency,
			Queues:      map[string]int{tasks.QueueAutosave: 1},
		},
	)

	ctx := context.Background()
	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL, false)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}

	workflows := services.NewWorkflowService(
		repository.NewCanvasRepository(db),
		repository.NewWorkflowRepository(db),
	)

	mux := asynq.NewServeMux()
	handler := tasks.NewAutosaveTaskHandler(workflows)
	mux.HandleFunc(tasks.TypeWorkflowAutosave, handler.HandleAutosave)

	errCh := make(chan error, 1)
	go func() {
		log.Info("asynq worker starting", zap.Int("concurrency", cfg.AsynqConcurrency))
		if err := srv.Run(mux); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("worker stopped with error", zap.Error(err))
	}

	srv.Shutdown()
}
