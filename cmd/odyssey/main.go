package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pricing/internal/app"
	"github.com/odyssey-erp/odyssey-pricing/internal/observability"
	"github.com/odyssey-erp/odyssey-pricing/internal/platform/clock"
	"github.com/odyssey-erp/odyssey-pricing/internal/pricing"
	pricinghttp "github.com/odyssey-erp/odyssey-pricing/internal/pricing/http"
	"github.com/odyssey-erp/odyssey-pricing/internal/tenant"
	"github.com/odyssey-erp/odyssey-pricing/jobs"
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

	res, err := app.Open(ctx, cfg, logger, "pricing-api")
	if err != nil {
		logger.Error("open resources", slog.Any("error", err))
		os.Exit(1)
	}
	defer res.Close()

	ruleStore, cachedRules, err := res.RuleStore()
	if err != nil {
		logger.Error("init rule store", slog.Any("error", err))
		os.Exit(1)
	}
	if cachedRules != nil {
		go func() {
			if err := cachedRules.Listen(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("rule cache invalidation listener", slog.Any("error", err))
			}
		}()
	}

	systemClock := clock.System{}
	quoteStore, err := res.QuoteStore(ctx, systemClock)
	if err != nil {
		logger.Error("init quote store", slog.Any("error", err))
		os.Exit(1)
	}

	jobClient := jobs.NewClient(res.AsynqRedis())
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	signer, err := res.Signer()
	if err != nil {
		logger.Error("init quote signer", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	pricingMetrics := observability.NewPricingMetrics(metrics.Registerer())
	evaluator, formulaClient := res.Evaluator()

	service := pricing.NewService(ruleStore, quoteStore, pricing.ServiceConfig{
		QuoteTTL:  cfg.QuoteTTL,
		Signer:    signer,
		Evaluator: evaluator,
		Notifier:  res.Notifier(jobClient),
		Metrics:   pricingMetrics,
		Logger:    logger,
		Clock:     systemClock,
	})
	pricingHandler := pricinghttp.NewHandler(logger, service, pricinghttp.Options{
		RateLimitPerMin: cfg.RateLimitPerMin,
		Tenants:         tenant.NewAllowList(cfg.Tenants...),
		Clock:           systemClock,
	})

	inspector := asynq.NewInspector(res.AsynqRedis())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		PricingHandler: pricingHandler,
		JobHandler:     jobHandler,
		Metrics:        metrics,
		Checks:         res.Checks(formulaClient),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("quote_store", cfg.QuoteStore),
			slog.String("notify", cfg.NotifyBackend))
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
