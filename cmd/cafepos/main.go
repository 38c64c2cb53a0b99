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

	"github.com/cafepos/cafepos/internal/app"
	"github.com/cafepos/cafepos/internal/availability"
	"github.com/cafepos/cafepos/internal/deduction"
	"github.com/cafepos/cafepos/internal/inventory"
	"github.com/cafepos/cafepos/internal/observability"
	"github.com/cafepos/cafepos/internal/recipes"
	"github.com/cafepos/cafepos/jobs"
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
	metrics := observability.NewMetrics()

	services, err := app.BuildServices(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := services.Close(); err != nil {
			logger.Warn("close services", slog.Any("error", err))
		}
	}()

	if err := services.SeedCatalog(ctx, logger); err != nil {
		logger.Error("seed catalog", slog.Any("error", err))
		os.Exit(1)
	}

	events, err := services.Notifier.Subscribe(ctx)
	if err != nil {
		logger.Error("subscribe stock changes", slog.Any("error", err))
		os.Exit(1)
	}
	if _, err := services.Broadcaster.Refresh(ctx); err != nil {
		logger.Warn("initial availability snapshot", slog.Any("error", err))
	}
	go func() {
		if err := services.Broadcaster.Run(ctx, events); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("availability broadcaster", slog.Any("error", err))
			stop()
		}
	}()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		InventoryHandler:    inventory.NewHandler(logger, services.Inventory),
		RecipesHandler:      recipes.NewHandler(logger, services.Recipes),
		AvailabilityHandler: availability.NewHandler(logger, services.Classifier, services.Broadcaster, services.Recipes),
		DeductionHandler:    deduction.NewHandler(logger, services.Deduction),
		JobHandler:          jobs.NewHandler(inspector, logger),
		Metrics:             metrics,
		Health:              services.Stores.Ping,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
