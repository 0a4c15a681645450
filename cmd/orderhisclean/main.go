// Command orderhisclean runs the daily history-cleanup batch jobs: it either
// fires all configured handlers immediately (--run-now / RUN_NOW=true) or
// waits for the configured daily start time and runs them once per day.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redgreat/orderhisclean/migrations"
	"github.com/redgreat/orderhisclean/pkg/config"
	"github.com/redgreat/orderhisclean/pkg/db"
	"github.com/redgreat/orderhisclean/pkg/dispatch"
	"github.com/redgreat/orderhisclean/pkg/handlers"
	"github.com/redgreat/orderhisclean/pkg/logger"
	"github.com/redgreat/orderhisclean/pkg/registry"
	"github.com/redgreat/orderhisclean/pkg/runlock"
	"github.com/redgreat/orderhisclean/pkg/schedule"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", envOr("CONFIG_PATH", "conf/config.yml"), "path to the YAML config file")
		runNow     = flag.Bool("run-now", false, "run all handlers immediately instead of waiting for the daily start time")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log := logger.NewWithSentry(logger.SentryConfig{
		DSN:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
	}, cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := db.Connect(ctx, db.Config{
		DSN:      cfg.Database.Source.DSN,
		MaxConns: cfg.Database.Source.MaxConns,
		MinConns: cfg.Database.Source.MinConns,
	})
	if err != nil {
		return err
	}
	defer db.Shutdown(source)

	target := source
	if cfg.Database.Target.DSN != "" && cfg.Database.Target.DSN != cfg.Database.Source.DSN {
		target, err = db.Connect(ctx, db.Config{
			DSN:      cfg.Database.Target.DSN,
			MaxConns: cfg.Database.Target.MaxConns,
			MinConns: cfg.Database.Target.MinConns,
		})
		if err != nil {
			return err
		}
		defer db.Shutdown(target)
	}

	// Bookkeeping schema for the run log lives on the source database.
	if err := db.Migrate(ctx, source, migrations.Files, log); err != nil {
		return err
	}

	reg := registry.New()
	if err := handlers.Register(reg); err != nil {
		return err
	}

	deps := registry.Deps{Source: source, Target: target, Logger: log}
	dispatcher, err := dispatch.New(cfg, reg, deps, dispatch.WithRunLog(source))
	if err != nil {
		return err
	}

	runAll := dispatcher.RunAll
	if cfg.Redis.Addr != "" {
		locker, err := runlock.New(ctx, runlock.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.LockTTL.Std(),
		}, log)
		if err != nil {
			return err
		}
		defer locker.Close()
		runAll = lockedRun(dispatcher, locker, log)
	}

	if *runNow || envBool("RUN_NOW") {
		log.InfoContext(ctx, "manual trigger, running all handlers now")
		runAll(ctx)
		return nil
	}

	scheduler, err := schedule.New(cfg.Scheduler.StartTime, runAll, log)
	if err != nil {
		return err
	}
	return scheduler.Start(ctx)
}

// lockedRun wraps a dispatcher run in the Redis daily-run lock. A held lock
// means another run is still going; today's trigger is skipped, not queued.
func lockedRun(d *dispatch.Dispatcher, locker *runlock.Locker, log *slog.Logger) func(context.Context) {
	return func(ctx context.Context) {
		if err := locker.Acquire(ctx); err != nil {
			if errors.Is(err, runlock.ErrAlreadyLocked) {
				log.WarnContext(ctx, "another run is in progress, skipping this trigger")
				return
			}
			log.ErrorContext(ctx, "failed to acquire run lock", slog.String("error", err.Error()))
			return
		}
		defer func() {
			if err := locker.Release(ctx); err != nil {
				log.WarnContext(ctx, "failed to release run lock", slog.String("error", err.Error()))
			}
		}()

		d.RunAll(ctx)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
