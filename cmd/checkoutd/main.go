package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/repurposehub/checkout-service/api/controllers"
	"github.com/repurposehub/checkout-service/api/routes"
	"github.com/repurposehub/checkout-service/internal/authctx"
	"github.com/repurposehub/checkout-service/internal/backend"
	"github.com/repurposehub/checkout-service/internal/httpclient"
	"github.com/repurposehub/checkout-service/internal/journal"
	"github.com/repurposehub/checkout-service/internal/orchestrator"
	"github.com/repurposehub/checkout-service/internal/pending"
	"github.com/repurposehub/checkout-service/internal/provider"
	"github.com/repurposehub/checkout-service/pkg/config"
	"github.com/repurposehub/checkout-service/pkg/db"
	"github.com/repurposehub/checkout-service/pkg/env"
	"github.com/repurposehub/checkout-service/pkg/logger"
	"github.com/repurposehub/checkout-service/pkg/metrics"
	"github.com/repurposehub/checkout-service/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "checkoutd"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "checkoutd",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := db.MaybeAutoMigrate(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	pendingStore, err := pending.NewRedisStore(redisClient, pending.RedisStoreOptions{
		TTL:    cfg.Checkout.PendingTTL,
		MaxAge: cfg.Checkout.PendingMaxAge,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create pending store", err)
		os.Exit(1)
	}

	refresher, err := backend.NewTokenRefresher(cfg.Backend.BaseURL, cfg.Backend.RefreshToken, cfg.Backend.Timeout)
	if err != nil {
		logg.Error(context.Background(), "failed to create token refresher", err)
		os.Exit(1)
	}
	tokens, err := authctx.NewHolder(refresher, authctx.Options{
		Leeway: cfg.JWT.RefreshLeeway,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create token holder", err)
		os.Exit(1)
	}
	go tokens.Run(context.Background(), cfg.JWT.RefreshPollInterval)

	transport, err := httpclient.New(cfg.Backend.BaseURL, cfg.Backend.Timeout, tokens, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create backend transport", err)
		os.Exit(1)
	}
	backendClient, err := backend.NewClient(transport, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create backend client", err)
		os.Exit(1)
	}

	gateway, err := provider.NewAdapter(cfg.Provider, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment gateway adapter", err)
		os.Exit(1)
	}

	promRegistry := prometheus.NewRegistry()
	checkoutMetrics := metrics.NewCheckoutMetrics(promRegistry)
	attempts := journal.NewRepository(dbClient.DB())

	registry, err := orchestrator.NewRegistry(func(visitID string, user orchestrator.User) (*orchestrator.Orchestrator, error) {
		return orchestrator.New(orchestrator.Params{
			VisitID:   visitID,
			User:      user,
			Backend:   backendClient,
			Gateway:   gateway,
			Pending:   pendingStore,
			Journal:   attempts,
			Metrics:   checkoutMetrics,
			Logger:    logg,
			Currency:  cfg.Provider.Currency,
			Countdown: cfg.Checkout.SuccessCountdown,
		})
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout registry", err)
		os.Exit(1)
	}

	addr := ":" + env.Get("PORT", cfg.App.Port)
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting checkout server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, registry, gateway, tokens, attempts, promRegistry, map[string]controllers.Pinger{
			"database": dbClient,
			"redis":    redisClient,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "checkout server stopped unexpectedly", err)
		os.Exit(1)
	}
}
