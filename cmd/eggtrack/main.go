// Command eggtrack is the leaderboard API server and snapshot controller.
//
// Usage:
//
//	eggtrack
//	API_PORT=8080 SCHEDULER_ENABLED=false eggtrack
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/eggtrack/eggtrack/internal/api"
	"github.com/eggtrack/eggtrack/internal/api/handler"
	"github.com/eggtrack/eggtrack/internal/auth"
	"github.com/eggtrack/eggtrack/internal/config"
	"github.com/eggtrack/eggtrack/internal/controller"
	"github.com/eggtrack/eggtrack/internal/db"
	"github.com/eggtrack/eggtrack/internal/engine"
	"github.com/eggtrack/eggtrack/internal/notify"
	"github.com/eggtrack/eggtrack/internal/store"
	"github.com/eggtrack/eggtrack/internal/upstream"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Connect to database
	logger.Info("Connecting to database...")
	pool, err := db.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("Database connected",
		"min_conns", cfg.DBPoolMinConns,
		"max_conns", cfg.DBPoolMaxConns)

	// Persistence, decision engine, notifications
	st := store.New(pool.Pool, logger)
	eng := engine.New(engine.Params{
		SyncWindowHours:       cfg.SyncWindowHours,
		CooldownHours:         cfg.CooldownHours,
		PartialSyncThreshold:  cfg.PartialSyncThreshold,
		PartialSyncRetries:    cfg.PartialSyncRetries,
		PendingSyncStaleHours: cfg.PendingSyncStaleHours,
		AlertThresholdDays:    cfg.AlertThresholdDays,
		AlertCooldownHours:    cfg.AlertCooldownHours,
	})

	sender := notify.NewResendClient(cfg.ResendAPIKey, logger)
	dispatcher := notify.NewDispatcher(sender, st, cfg.EmailFrom, cfg.NotificationEmail, logger)
	if cfg.ResendAPIKey == "" {
		logger.Info("Email delivery disabled (no RESEND_API_KEY); attempts still audited")
	}

	// Upstream feed and controller
	feed := upstream.NewClient(cfg.UpstreamURL, cfg.UpstreamTimeout, logger)
	ctrl := controller.New(controller.Deps{
		Upstream:  feed,
		Registry:  st,
		Cache:     st,
		Snapshots: st,
		State:     st,
		Notifier:  dispatcher,
		Engine:    eng,
		Interval:  cfg.CronInterval,
		Logger:    logger,
	})

	if cfg.SchedulerEnabled {
		go ctrl.Run(ctx)
	} else {
		logger.Info("Scheduler disabled; ticks run only via the cron endpoint")
	}

	// Identity
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.SupabaseURL, cfg.SessionTokenLifetime)
	discord := auth.NewDiscordClient(cfg.DiscordClientID, cfg.DiscordClientSecret, logger)
	exchanger := auth.NewExchanger(discord, tokens,
		cfg.GuildID, cfg.MajRoleID, cfg.YCRoleID, cfg.AdminRoleID)

	// Create router
	h := handler.New(handler.Deps{
		Runner:   ctrl,
		Fetcher:  feed,
		Store:    st,
		Tokens:   tokens,
		Exchange: exchanger,
		DB:       pool,
		Config:   cfg,
		Logger:   logger,
	})
	router := api.NewRouter(h, cfg)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting eggtrack API",
			"addr", addr,
			"environment", cfg.Environment,
			"scheduler", cfg.SchedulerEnabled,
			"interval", cfg.CronInterval)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
