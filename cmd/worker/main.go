// Command worker runs the background side of the scheduler: the event
// handlers that invalidate prepared mixes and the periodic jobs that prepare
// tomorrow's plans, evaluate retention checks and prune old mixes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/himo777777/Ortokompanion-sub000/config"
	"github.com/himo777777/Ortokompanion-sub000/internal/app"
	"github.com/himo777777/Ortokompanion-sub000/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	log.Info("starting worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("timezone", cfg.App.Timezone),
		logger.Bool("scheduler_enabled", cfg.Scheduler.Enabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	dispatcher, err := a.Dispatcher()
	if err != nil {
		return err
	}
	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	defer dispatcher.Stop()

	if cfg.Scheduler.Enabled {
		sched, err := a.Scheduler()
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() {
			if err := sched.Stop(); err != nil {
				log.Warn("scheduler stop failed", logger.Err(err))
			}
		}()
	} else {
		log.Warn("scheduler disabled, only event handlers are running")
	}

	log.Info("worker is running")
	<-ctx.Done()
	log.Info("received shutdown signal, stopping", logger.Duration("timeout", cfg.App.ShutdownTimeout))
	return nil
}

func setupLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		opts.Level = logger.LevelDebug
	}
	opts.Development = cfg.Observability.LogFormat == "console"
	return logger.New(opts)
}
