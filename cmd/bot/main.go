// WhatsApp notification bot.
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

	"github.com/Jasguerrero/wa-bot/internal/api"
	"github.com/Jasguerrero/wa-bot/internal/audit"
	"github.com/Jasguerrero/wa-bot/internal/cache"
	"github.com/Jasguerrero/wa-bot/internal/config"
	"github.com/Jasguerrero/wa-bot/internal/lifecycle"
	"github.com/Jasguerrero/wa-bot/internal/notify"
	"github.com/Jasguerrero/wa-bot/internal/router"
	"github.com/Jasguerrero/wa-bot/internal/session"
	"github.com/Jasguerrero/wa-bot/internal/tasks"
	"github.com/Jasguerrero/wa-bot/internal/tibia"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	// run owns the deferred cleanup; exiting there would skip it.
	if code := run(); code != 0 {
		os.Exit(code)
	}
}

func run() int {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	slog.Info("Starting bot", "environment", cfg.Environment, "port", cfg.Port)

	// Shared infrastructure.
	kv, err := cache.NewRedis(cfg.RedisAddr(), cfg.RedisPassword)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		return 1
	}
	defer func() {
		if closeErr := kv.Close(); closeErr != nil {
			slog.Error("Failed to close Redis connection", "error", closeErr)
		}
	}()

	store, err := audit.NewSQLite(cfg.AuditDBPath)
	if err != nil {
		slog.Error("Failed to initialize audit store", "error", err)
		return 1
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("Failed to close audit store", "error", closeErr)
		}
	}()

	if err := store.Ping(context.Background()); err != nil {
		slog.Error("Audit store health check failed", "error", err)
		return 1
	}
	slog.Info("Audit store connected")

	creds, err := session.NewCredStore(cfg.AuthDir)
	if err != nil {
		slog.Error("Failed to initialize credential store", "error", err)
		return 1
	}
	dialer := session.NewGatewayDialer(cfg.GatewayURL, creds)

	// Collaborator clients.
	info := tibia.NewClient(cfg.TibiaAPIURL)
	agent := tibia.NewAgentClient(cfg.TibiaAgentURL)

	// Broadcast content: today's boosted boss, with its cached image when
	// available.
	composeStatus := func(ctx context.Context) (string, string, error) {
		name, imageFilename, err := info.BoostedBoss(ctx)
		if err != nil {
			return "", "", err
		}
		return "Boosted boss: " + name, tibia.ResolveImage(cfg.ImagesDir, imageFilename), nil
	}

	supervisor := tasks.NewSupervisor(
		func(sock session.Socket) (tasks.BroadcastHandle, error) {
			return tasks.StartBroadcaster(sock, kv, cfg.TibiaGroups,
				cfg.BroadcastInterval, cfg.BroadcastSuppression, composeStatus)
		},
		func(sock session.Socket) (tasks.ConsumerHandle, error) {
			return notify.Start(notify.Config{
				URL:             cfg.AMQPURL(),
				QueueName:       cfg.QueueName,
				MaxRedeliveries: cfg.MaxRedeliveries,
			}, sock, store)
		},
	)

	bot := router.New(info, agent, cfg.ImagesDir, cfg.TibiaGroups, cfg.BanterGroups)

	manager := lifecycle.NewManager(dialer, supervisor, bot, lifecycle.Options{
		MaxRetries: cfg.MaxReconnectAttempts,
		RetryDelay: cfg.ReconnectDelay,
		FilterSelf: cfg.IsProduction(),
	})

	// Ops HTTP surface.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	api.NewHandler(manager, store).RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srvErr := make(chan error, 1)
	go func() {
		slog.Info("Ops server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	// Session loop. Terminal errors end the process with a non-zero exit.
	runErr := make(chan error, 1)
	go func() {
		runErr <- manager.Run(ctx)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		slog.Info("Shutting down gracefully...")
	case err := <-srvErr:
		slog.Error("Ops server failed", "error", err)
		exitCode = 1
		stop()
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Session terminated", "error", err)
			exitCode = 1
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Ops server forced to shutdown", "error", err)
	}

	// Background tasks are released by the manager on close; a second stop
	// here covers the interrupt path where the manager is still mid-pump.
	supervisor.StopAll()

	slog.Info("Bot stopped")
	return exitCode
}
