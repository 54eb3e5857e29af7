package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pulsedeck/pulsedeck/pkg/analytics"
	"github.com/pulsedeck/pulsedeck/pkg/cache"
	"github.com/pulsedeck/pulsedeck/pkg/config"
	"github.com/pulsedeck/pulsedeck/pkg/observability"
	"github.com/pulsedeck/pulsedeck/pkg/queue"
	"github.com/pulsedeck/pulsedeck/pkg/reports"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Error("failed to connect to postgres")
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetMaxIdleConns(cfg.Database.MinConns)
	if err := db.Ping(); err != nil {
		logger.WithError(err).Error("failed to ping postgres")
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.WithError(err).Error("failed to parse redis URL")
		os.Exit(1)
	}
	if cfg.Redis.Password != "" {
		redisOpts.Password = cfg.Redis.Password
	}
	redisOpts.DB = cfg.Redis.DB
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	var c *cache.Cache
	if cfg.Cache.Enabled {
		c = cache.New(redisClient, logger, cache.Options{
			L1Size:  cfg.Cache.L1Size,
			Metrics: metrics,
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	artifacts, err := reports.NewS3ArtifactStore(ctx, cfg.Reports)
	if err != nil {
		logger.WithError(err).Error("failed to configure artifact storage")
		os.Exit(1)
	}

	analyticsService := analytics.NewService(
		analytics.NewEventStore(db), analytics.NewMetricStore(db), logger,
		analytics.ServiceOptions{
			Cache:       c,
			Metrics:     metrics,
			OverviewTTL: cfg.Cache.OverviewTTL,
			QueryTTL:    cfg.Cache.QueryTTL,
		})

	templates := reports.NewTemplateStore(db)
	runs := reports.NewRunStore(db)
	schedules := reports.NewScheduleStore(db)

	jobQueue := queue.New(redisClient, logger, metrics)
	reportService := reports.NewService(templates, runs, schedules, jobQueue, logger, cfg.Queue)

	processor := reports.NewProcessor(templates, runs, analyticsService, artifacts, logger, metrics)
	worker := queue.NewWorker(jobQueue, cfg.Queue.Concurrency, logger, metrics, nil)
	processor.Register(worker)

	if cfg.Reports.SchedulerEnabled {
		scheduler := reports.NewScheduler(schedules, runs, reportService, logger, cfg.Reports.StaleRunTimeout)
		if err := scheduler.Start(); err != nil {
			logger.WithError(err).Error("failed to start report scheduler")
			os.Exit(1)
		}
		defer scheduler.Stop()
	}

	logger.WithField("concurrency", cfg.Queue.Concurrency).Info("report worker started")
	worker.Run(ctx)
	logger.Info("report worker stopped")
}
