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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-pricing/internal/app"
	"github.com/odyssey-erp/odyssey-pricing/internal/platform/clock"
	"github.com/odyssey-erp/odyssey-pricing/internal/pricing/notify"
	"github.com/odyssey-erp/odyssey-pricing/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	res, err := app.Open(ctx, cfg, logger, "pricing-worker")
	if err != nil {
		logger.Error("open resources", slog.Any("error", err))
		os.Exit(1)
	}
	defer res.Close()

	recorder := res.AuditRecorder()
	eventsJob := jobs.NewQuoteEventsJob(recorder, logger, nil)

	handlers := []jobs.TaskHandler{
		{Type: jobs.TaskQuoteCalculated, Handler: eventsJob.Handle},
	}
	var cron []jobs.CronRegistration

	if cfg.QuoteStore == app.QuoteStorePostgres {
		store, err := res.QuoteStore(ctx, clock.System{})
		if err != nil {
			logger.Error("init quote store", slog.Any("error", err))
			os.Exit(1)
		}
		if sweeper, ok := store.(jobs.Sweeper); ok {
			sweepJob := jobs.NewQuoteSweepJob(sweeper, recorder, logger, nil)
			sweepTask, err := jobs.NewQuoteSweepTask(jobs.QuoteSweepPayload{Grace: cfg.QuoteSweepGrace})
			if err != nil {
				logger.Error("build sweep task", slog.Any("error", err))
				os.Exit(1)
			}
			handlers = append(handlers, jobs.TaskHandler{Type: jobs.TaskQuoteSweep, Handler: sweepJob.Handle})
			cron = append(cron, jobs.CronRegistration{
				Spec:    cfg.QuoteSweepCron,
				Task:    sweepTask,
				Options: []asynq.Option{asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(3)},
			})
		}
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   res.AsynqRedis(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers:    handlers,
		Cron:        cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.NotifiesVia(app.NotifyRedis) {
		if err := notify.Subscribe(ctx, res.Redis, cfg.NotifyChannel, logger, eventsJob.HandleEvent); err != nil {
			logger.Error("subscribe quote events", slog.Any("error", err))
			os.Exit(1)
		}
	}

	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting worker",
			slog.Int("handlers", len(handlers)),
			slog.Int("cron", len(cron)),
			slog.String("metrics_addr", cfg.WorkerMetricsAddr))
		return worker.Run(gctx)
	})
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
