package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/packfinderz-cart/api/controllers"
	"github.com/angelmondragon/packfinderz-cart/api/routes"
	"github.com/angelmondragon/packfinderz-cart/internal/auth"
	"github.com/angelmondragon/packfinderz-cart/internal/cart"
	"github.com/angelmondragon/packfinderz-cart/internal/gateway"
	"github.com/angelmondragon/packfinderz-cart/internal/persistence"
	"github.com/angelmondragon/packfinderz-cart/internal/pricing"
	"github.com/angelmondragon/packfinderz-cart/pkg/config"
	"github.com/angelmondragon/packfinderz-cart/pkg/logger"
	"github.com/angelmondragon/packfinderz-cart/pkg/metrics"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "cartd"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "cartd",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	cartMetrics := metrics.NewCartMetrics(reg)

	storage, err := persistence.Open(ctx, cfg, logg, cartMetrics)
	requireResource(ctx, logg, "cart storage", err)

	tokens := auth.NewTokenProvider(cfg.JWT)

	client, err := gateway.NewFromConfig(cfg.Remote, tokens, logg, cartMetrics)
	requireResource(ctx, logg, "remote cart gateway", err)

	merger, err := cart.NewMerger(storage.Store, client, logg, cartMetrics)
	requireResource(ctx, logg, "cart merger", err)

	store, err := cart.NewStore(cart.StoreParams{
		Persistence: storage.Store,
		Gateway:     client,
		Auth:        tokens,
		Pricing:     pricing.NewEngine(pricing.RulesFromConfig(cfg.Pricing)),
		Merger:      merger,
		Logger:      logg,
	})
	requireResource(ctx, logg, "cart store", err)

	store.Init(ctx)
	if snap := store.Snapshot(); snap.Error != "" {
		logg.Warn(logg.WithField(ctx, "error", snap.Error), "initial cart load failed, starting empty")
	}

	addr := ":" + cfg.App.Port
	runCtx := logg.WithFields(ctx, map[string]any{
		"env":     cfg.App.Env,
		"addr":    addr,
		"storage": storage.Driver.String(),
		"remote":  cfg.Remote.BaseURL,
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:   cfg,
			Logger:   logg,
			Store:    store,
			Tokens:   tokens,
			Gatherer: reg,
			Ready:    map[string]controllers.Pinger{"storage": storage},
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(runCtx, "starting cart agent")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logg.Info(runCtx, "shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logg.Error(runCtx, "cart agent stopped unexpectedly", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs error
	errs = multierr.Append(errs, server.Shutdown(shutdownCtx))
	errs = multierr.Append(errs, storage.Close())
	if errs != nil {
		logg.Error(runCtx, "cart agent shutdown incomplete", errs)
		os.Exit(1)
	}
	logg.Info(runCtx, "cart agent stopped")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(logg.WithField(ctx, "resource", resource), "failed to initialize resource", err)
	os.Exit(1)
}
