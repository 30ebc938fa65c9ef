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

	"github.com/joho/godotenv"

	"booking-inbox/internal/app"
	"booking-inbox/internal/config"
	"booking-inbox/internal/httpapi"
	"booking-inbox/internal/jobs"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file loaded", "err", err)
	}

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Clients and usecases ----
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build application", "err", err)
		os.Exit(1)
	}

	api, err := httpapi.NewServer(a.Conversations, a.Reconciler, a.Events, httpapi.Options{
		VerifyToken:    a.Secrets.VerifyToken,
		APIKey:         a.Secrets.APIKey,
		AllowedOrigins: cfg.AllowedOrigins,
		IdleTimeout:    cfg.SSEIdleTimeout,
		Logger:         logger,
	})
	if err != nil {
		logger.Error("failed to create http api", "err", err)
		os.Exit(1)
	}

	// ---- Timers ----
	sweepSchedule, err := jobs.Resolve(cfg.SweepCron, cfg.SweepInterval)
	if err != nil {
		logger.Error("invalid sweep schedule", "err", err)
		os.Exit(1)
	}
	syncSchedule, err := jobs.Resolve(cfg.SyncCron, cfg.SyncInterval)
	if err != nil {
		logger.Error("invalid sync schedule", "err", err)
		os.Exit(1)
	}

	jobsDone := make(chan struct{})
	go func() {
		defer close(jobsDone)
		_ = jobs.Run(ctx, logger,
			jobs.Job{
				Name:       "appointment-sync",
				Schedule:   syncSchedule,
				RunAtStart: true,
				Run: func(ctx context.Context) error {
					_, err := a.Reconciler.Run(ctx)
					return err
				},
			},
			jobs.Job{
				Name:     "auto-close",
				Schedule: sweepSchedule,
				Run: func(ctx context.Context) error {
					_, err := a.Sweeper.Run(ctx)
					return err
				},
			},
		)
	}()

	// ---- HTTP ----
	// No WriteTimeout: subscriptions are long-lived streams.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.Events.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown incomplete", "err", err)
		}
	}()

	logger.Info("server listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "err", err)
		os.Exit(1)
	}

	api.Wait()
	<-jobsDone
	logger.Info("server stopped")
}
