package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/genflow-studio/engine/internal/api"
	"github.com/genflow-studio/engine/internal/api/handlers"
	"github.com/genflow-studio/engine/internal/generation"
	"github.com/genflow-studio/engine/internal/generation/gemini"
	"github.com/genflow-studio/engine/internal/queue/tasks"
	"github.com/genflow-studio/engine/internal/repository"
	"github.com/genflow-studio/engine/internal/services"
	"github.com/genflow-studio/engine/pkg/config"
	"github.com/genflow-studio/engine/pkg/database"
	"github.com/genflow-studio/engine/pkg/logger"
)

func main() {
	cfg := config.MustLoad()

	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat, logger.WithService("genflow-api"))
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	log.Info("Starting GenFlow Studio engine",
		zap.String("env", cfg.AppEnv),
		zap.String("addr", cfg.HTTPAddr),
		zap.Bool("persistence", cfg.PersistenceEnabled()),
		zap.Bool("autosave_queue", cfg.QueueEnabled()),
	)

	ctx := context.Background()
	readyChecks := map[string]handlers.ReadyCheck{}

	gen, err := gemini.New(ctx, gemini.Config{
		APIKey:       cfg.GeminiAPIKey,
		TextModel:    cfg.TextModel,
		PollInterval: cfg.VideoPollInterval,
	})
	if err != nil {
		log.Fatal("failed to create generator", zap.Error(err))
	}

	opts := services.RegistryOptions{
		Generator: gen,
		Models:    generation.Models{Image: cfg.ImageModel, Video: cfg.VideoModel},
	}

	if cfg.PersistenceEnabled() {
		db, err := database.OpenPostgres(ctx, cfg.DatabaseURL, cfg.AppEnv == "development")
		if err != nil {
			log.Fatal("failed to connect to database", zap.Error(err))
		}
		log.Info("Database connected successfully")
		opts.Workflows = services.NewWorkflowService(
			repository.NewCanvasRepository(db),
			repository.NewWorkflowRepository(db),
		)
		readyChecks["database"] = func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	} else {
		log.Warn("DATABASE_URL not set, canvases are kept in memory only")
	}

	var queue *asynq.Client
	if cfg.PersistenceEnabled() && cfg.QueueEnabled() {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("redis connection failed", zap.Error(err))
		}
		readyChecks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		defer rdb.Close()

		queue = asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer queue.Close()
		opts.Autosave = tasks.NewAutosaveClient(queue)
	}

	registry := services.NewRegistry(opts)

	sched := cron.New()
	if _, err := sched.AddFunc("@every 1m", func() {
		if n := registry.EvictIdle(context.Background(), cfg.WorkspaceIdleTTL); n > 0 {
			log.Info("evicted idle workspaces", zap.Int("count", n))
		}
	}); err != nil {
		log.Fatal("failed to schedule eviction", zap.Error(err))
	}
	sched.Start()

	router := api.NewRouter(api.Dependencies{
		JWTSecret:   []byte(cfg.JWTSecret),
		Registry:    registry,
		ReadyChecks: readyChecks,
	})
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, API is unauthenticated")
	}

	// WriteTimeout stays zero; the canvas stream is long-lived.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	<-sched.Stop().Done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}
	if err := registry.Close(shutdownCtx); err != nil {
		log.Error("workspace shutdown error", zap.Error(err))
	} else {
		log.Info("server exited gracefully")
	}
}
