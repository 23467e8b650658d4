package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/certgen/certgen/internal/app"
	"github.com/certgen/certgen/internal/config"
	"github.com/certgen/certgen/internal/handler"
	"github.com/certgen/certgen/internal/logger"
	"github.com/certgen/certgen/internal/middleware"
	"github.com/certgen/certgen/internal/queue"
	"github.com/certgen/certgen/internal/router"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", handler.Version).Msg("starting certgen server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(context.WithoutCancel(ctx), cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize pipeline")
	}
	defer a.Close()

	// Jobs go to the worker queue when enabled, otherwise they run inline.
	var q handler.Enqueuer
	if cfg.Queue.Enabled {
		qc, err := queue.Connect(cfg.Queue, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer qc.Close()
		q = qc
		log.Info().Str("subject", cfg.Queue.Subject).Msg("jobs will be queued")
	}

	h := handler.New(a.Orchestrator, q, a.DB, a.Redis, log, cfg)
	mw := middleware.New(a.Redis, log, cfg)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.New(h, mw, cfg),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Synchronous jobs hold the request open for the whole pipeline.
		WriteTimeout: cfg.Timeouts.Job + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")

		// Graceful shutdown waits for in-flight jobs, whose resets must finish.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Job+cfg.Timeouts.Reset)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		return
	}
	log.Info().Msg("server stopped")
}
