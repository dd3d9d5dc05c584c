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

	"github.com/redis/go-redis/v9"

	api "report-generator/internal/api"
	"report-generator/internal/config"
	"report-generator/internal/logging"
	"report-generator/internal/ratelimit"
	"report-generator/internal/reports"
)

func main() {
	cfg := config.Load()

	logger, logFile, err := logging.New(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		slog.Error("init logging", slog.Any("error", err))
		os.Exit(1)
	}
	defer logFile.Close()
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc, closeSvc, err := reports.FromConfig(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup verification failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeSvc()

	// Workers keep draining after the signal; Shutdown below bounds the wait.
	svc.Start(context.WithoutCancel(ctx))

	var limiter api.Limiter
	if cfg.RateLimitEnabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		limiter = ratelimit.NewTokenBucket(client, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	}

	server := api.New(svc, limiter, logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("api listening", slog.String("addr", httpServer.Addr), slog.String("env", cfg.Env))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", slog.Any("error", err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Warn("workers did not drain", slog.Any("error", err))
	}
}
