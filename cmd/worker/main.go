package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/certgen/certgen/internal/app"
	"github.com/certgen/certgen/internal/audit"
	"github.com/certgen/certgen/internal/config"
	"github.com/certgen/certgen/internal/logger"
	"github.com/certgen/certgen/internal/queue"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	if !cfg.Queue.Enabled && !cfg.Audit.Enabled {
		log.Fatal().Msg("nothing to do: enable queue or audit")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(context.WithoutCancel(ctx), cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize pipeline")
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Queue.Enabled {
		qc, err := queue.Connect(cfg.Queue, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer qc.Close()

		consumer, err := qc.NewConsumer(a.Orchestrator)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create consumer")
		}
		g.Go(func() error { return consumer.Run(gctx) })
	}

	if cfg.Audit.Enabled {
		var dirty audit.DirtyLister
		if a.Jobs != nil {
			dirty = a.Jobs
		}
		sched, err := audit.NewScheduler(cfg.Audit, a.Orchestrator, dirty, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create audit scheduler")
		}
		sched.Start()
		log.Info().Str("schedule", cfg.Audit.Schedule).Msg("template audit scheduled")
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Audit.Timeout)
			defer cancel()
			return sched.Stop(stopCtx)
		})
	}

	log.Info().Msg("worker started")
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("worker stopped with error")
		return
	}
	log.Info().Msg("worker stopped")
}
