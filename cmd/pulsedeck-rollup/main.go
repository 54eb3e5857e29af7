package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/pulsedeck/pulsedeck/pkg/analytics"
	"github.com/pulsedeck/pulsedeck/pkg/config"
	"github.com/pulsedeck/pulsedeck/pkg/observability"
)

var (
	dailySchedule   = flag.String("daily-schedule", "5 0 * * *", "Cron schedule for daily rollups (default: 00:05 UTC)")
	weeklySchedule  = flag.String("weekly-schedule", "10 0 * * 1", "Cron schedule for weekly rollups (default: Monday 00:10 UTC)")
	monthlySchedule = flag.String("monthly-schedule", "15 0 1 * *", "Cron schedule for monthly rollups (default: 1st day 00:15 UTC)")
	runOnce         = flag.Bool("run-once", false, "Run rollups once and exit")
	rollupDate      = flag.String("date", "", "Date to roll up (YYYY-MM-DD). Defaults to yesterday. Only used with --run-once")
)

func main() {
	flag.Parse()

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
	if err := db.Ping(); err != nil {
		logger.WithError(err).Error("failed to ping postgres")
		os.Exit(1)
	}

	rollup := analytics.NewRollup(db, logger)

	if *runOnce {
		date := time.Now().UTC().AddDate(0, 0, -1)
		if *rollupDate != "" {
			date, err = time.Parse("2006-01-02", *rollupDate)
			if err != nil {
				logger.WithError(err).Error("invalid --date value")
				os.Exit(1)
			}
		}

		logger.WithField("date", date.Format("2006-01-02")).Info("running rollups")
		if err := runRollups(rollup, date, logger); err != nil {
			logger.WithError(err).Error("rollup failed")
			os.Exit(1)
		}
		logger.Info("rollups completed")
		return
	}

	c := cron.New()

	if _, err := c.AddFunc(*dailySchedule, func() {
		yesterday := time.Now().UTC().AddDate(0, 0, -1)
		if err := rollup.RollupDaily(context.Background(), yesterday); err != nil {
			logger.WithError(err).Error("daily rollup failed")
		}
	}); err != nil {
		logger.WithError(err).Error("failed to schedule daily rollup")
		os.Exit(1)
	}

	if _, err := c.AddFunc(*weeklySchedule, func() {
		// Roll up the week that ended yesterday.
		weekStart := time.Now().UTC().AddDate(0, 0, -7)
		if err := rollup.RollupWeekly(context.Background(), weekStart); err != nil {
			logger.WithError(err).Error("weekly rollup failed")
		}
	}); err != nil {
		logger.WithError(err).Error("failed to schedule weekly rollup")
		os.Exit(1)
	}

	if _, err := c.AddFunc(*monthlySchedule, func() {
		now := time.Now().UTC()
		lastMonth := time.Date(now.Year(), now.Month()-1, 1, 0, 0, 0, 0, time.UTC)
		if err := rollup.RollupMonthly(context.Background(), lastMonth); err != nil {
			logger.WithError(err).Error("monthly rollup failed")
		}
	}); err != nil {
		logger.WithError(err).Error("failed to schedule monthly rollup")
		os.Exit(1)
	}

	c.Start()
	logger.WithFields(map[string]interface{}{
		"daily":   *dailySchedule,
		"weekly":  *weeklySchedule,
		"monthly": *monthlySchedule,
	}).Info("rollup scheduler started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	ctx := c.Stop()
	<-ctx.Done()
	logger.Info("rollup scheduler stopped")
}

func runRollups(rollup *analytics.Rollup, date time.Time, logger *observability.Logger) error {
	ctx := context.Background()

	if err := rollup.RollupDaily(ctx, date); err != nil {
		return err
	}

	// Completed weeks roll up on Mondays, months on the first.
	if date.Weekday() == time.Monday {
		if err := rollup.RollupWeekly(ctx, date.AddDate(0, 0, -7)); err != nil {
			return err
		}
	}
	if date.Day() == 1 {
		lastMonth := time.Date(date.Year(), date.Month()-1, 1, 0, 0, 0, 0, time.UTC)
		if err := rollup.RollupMonthly(ctx, lastMonth); err != nil {
			return err
		}
	}
	return nil
}
