package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/JohnPitter/church-management-sub010/internal/app"
	"github.com/JohnPitter/church-management-sub010/internal/authz"
	"github.com/JohnPitter/church-management-sub010/internal/observability"
	"github.com/JohnPitter/church-management-sub010/internal/platform/cache"
	"github.com/JohnPitter/church-management-sub010/internal/platform/db"
	"github.com/JohnPitter/church-management-sub010/internal/profiles"
	"github.com/JohnPitter/church-management-sub010/internal/shared"
	"github.com/JohnPitter/church-management-sub010/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	jobsClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	roleRepo := authz.NewRepository(pool)
	profileRepo := profiles.NewRepository(pool, redisClient, logger)
	resolver := authz.NewResolver(roleRepo, roleRepo, jobsClient, logger)
	metrics := observability.NewMetrics()
	permCache := authz.NewCache(cfg.PermissionCacheTTL, cfg.PermissionCacheSize, metrics)

	service := authz.NewService(authz.ServiceConfig{
		Logger:   logger,
		Resolver: resolver,
		Roles:    roleRepo,
		Customs:  roleRepo,
		Profiles: profileRepo,
		Cache:    permCache,
		Audit:    shared.NewAuditLogger(pool),
	})

	subscriptions := authz.NewSubscriptionManager(profileRepo, permCache, logger)
	defer subscriptions.UnsubscribeAll()

	guard := authz.Middleware{Service: service, Logger: logger}
	handler := authz.NewHandler(logger, service, guard)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Metrics:            metrics,
		PermissionsHandler: handler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
