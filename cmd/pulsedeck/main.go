package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/pulsedeck/pulsedeck/pkg/analytics"
	"github.com/pulsedeck/pulsedeck/pkg/cache"
	"github.com/pulsedeck/pulsedeck/pkg/config"
	"github.com/pulsedeck/pulsedeck/pkg/dashboards"
	"github.com/pulsedeck/pulsedeck/pkg/httputil"
	"github.com/pulsedeck/pulsedeck/pkg/insights"
	"github.com/pulsedeck/pulsedeck/pkg/observability"
	"github.com/pulsedeck/pulsedeck/pkg/queue"
	"github.com/pulsedeck/pulsedeck/pkg/reports"
	"github.com/pulsedeck/pulsedeck/pkg/tenants"
)

const maxRequestBody = 10 * 1024 * 1024 // 10MB

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	db, err := openDatabase(cfg.Database)
	if err != nil {
		logger.WithError(err).Error("failed to connect to postgres")
		os.Exit(1)
	}
	defer db.Close()

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.WithError(err).Error("failed to parse redis URL")
		os.Exit(1)
	}
	if cfg.Redis.Password != "" {
		redisOpts.Password = cfg.Redis.Password
	}
	redisOpts.DB = cfg.Redis.DB
	redisOpts.MaxRetries = cfg.Redis.MaxRetries
	redisOpts.PoolSize = cfg.Redis.PoolSize
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

	tenantService := tenants.NewService(db, logger)
	analyticsService := analytics.NewService(
		analytics.NewEventStore(db), analytics.NewMetricStore(db), logger,
		analytics.ServiceOptions{
			Cache:       c,
			Metrics:     metrics,
			OverviewTTL: cfg.Cache.OverviewTTL,
			QueryTTL:    cfg.Cache.QueryTTL,
		})

	jobQueue := queue.New(redisClient, logger, metrics)
	reportService := reports.NewService(
		reports.NewTemplateStore(db), reports.NewRunStore(db), reports.NewScheduleStore(db),
		jobQueue, logger, cfg.Queue)

	insightService := insights.NewService(analyticsService, logger, insights.ServiceOptions{
		Provider:   providerOrNil(insights.NewHTTPProvider(cfg.Insights)),
		Cache:      c,
		Metrics:    metrics,
		InsightTTL: cfg.Cache.InsightTTL,
	})

	dashboardService := dashboards.NewService(dashboards.NewStore(db), c, logger)

	router := mux.NewRouter()
	tenants.NewHandlers(tenantService).RegisterRoutes(router)
	analytics.NewHandlers(analyticsService).RegisterRoutes(router)
	reports.NewHandlers(reportService).RegisterRoutes(router)
	insights.NewHandlers(insightService).RegisterRoutes(router)
	dashboards.NewHandlers(dashboardService).RegisterRoutes(router)

	handler := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.MaxBytesMiddleware(maxRequestBody),
		metrics.HTTPMiddleware,
		tenants.ContextMiddleware(tenantService),
	)(router)

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := observability.NewHealthChecker(db, redisClient)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	healthMux.Handle("/metrics", observability.Handler(registry))
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("api server listening")
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("api server shutdown failed")
		}
		return healthServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// providerOrNil keeps a typed-nil *HTTPProvider out of the Provider
// interface so the service's nil check works.
func providerOrNil(p *insights.HTTPProvider) insights.Provider {
	if p == nil {
		return nil
	}
	return p
}
