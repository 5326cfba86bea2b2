package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apiarysec/stinger/internal/api"
	"github.com/apiarysec/stinger/internal/config"
	"github.com/apiarysec/stinger/internal/engine"
	"github.com/apiarysec/stinger/internal/events"
	"github.com/apiarysec/stinger/internal/oracle"
	"github.com/apiarysec/stinger/internal/report"
	"github.com/apiarysec/stinger/internal/session"
	"github.com/apiarysec/stinger/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("stinger starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Gemini client + bounded gateway
	if cfg.GeminiAPIKey == "" {
		slog.Error("GEMINI_API_KEY is required")
		os.Exit(1)
	}
	llm := oracle.NewClient(cfg.GeminiAPIKey, cfg.GeminiModel)
	if cfg.GeminiBaseURL != "" {
		llm.SetBaseURL(cfg.GeminiBaseURL)
	}
	gateway := oracle.NewGateway(llm, oracle.Config{
		AttemptTimeout: cfg.OracleAttemptTimeout,
		TotalBudget:    cfg.OracleTotalBudget,
		MaxAttempts:    cfg.OracleMaxAttempts,
	}, slog.Default())
	slog.Info("gemini client ready", "model", cfg.GeminiModel)

	// Database (optional — without it turns are not archived)
	var archiver engine.Archiver
	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		archiver = db
		slog.Info("database connected")
	} else {
		slog.Warn("DATABASE_URL not set — turns will not be archived")
	}

	// NATS (optional — without it no swarm events)
	var publisher engine.Publisher
	var bus *events.Client
	if cfg.NatsURL != "" {
		var err error
		bus, err = events.NewClient(cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer bus.Close()
		publisher = bus
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS_URL not set — running without bus events")
	}

	// Evaluator callback (optional)
	var reporter engine.Reporter
	if cfg.CallbackURL != "" {
		reporter = report.New(cfg.CallbackURL, cfg.CallbackTimeout, slog.Default())
		slog.Info("result callback ready", "url", cfg.CallbackURL)
	} else {
		slog.Warn("CALLBACK_URL not set — results will not be reported")
	}

	sessions := session.NewRegistry()
	eng := engine.New(gateway, sessions, reporter, archiver, publisher, slog.Default())

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIKey, eng, sessions)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Announce registration
	if bus != nil {
		if err := bus.Publish(events.SubjectRegistered, map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"port":      cfg.Port,
		}); err != nil {
			slog.Warn("failed to publish registration", "error", err)
		}
	}

	slog.Info("stinger ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	slog.Info("stinger stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
