package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"emergency-call-backend/internal/config"
	"emergency-call-backend/internal/core"
	"emergency-call-backend/internal/db"
	"emergency-call-backend/internal/feed"
	httpserver "emergency-call-backend/internal/http"
	"emergency-call-backend/internal/llm"
	"emergency-call-backend/internal/logger"
	"emergency-call-backend/internal/roster"
	"emergency-call-backend/internal/speech"
	"emergency-call-backend/internal/telemetry"
	"emergency-call-backend/pkg"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{}).WithError(err).Fatal("invalid configuration")
	}
	log := logger.New(logger.Options{
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
		File:        cfg.LogFile,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TelemetryEnabled {
		shutdown, err := telemetry.Init(ctx, cfg.TelemetryDir, log.Entry)
		if err != nil {
			log.WithError(err).Fatal("failed to initialise telemetry")
		}
		defer shutdown()
	}

	// Open database connection
	dbConn, err := db.Connect(ctx, cfg.DBDriver, cfg.DatabaseURL, cfg.DBConnectTimeout)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer dbConn.Close()
	if err := db.Migrate(ctx, dbConn, cfg.DBDriver); err != nil {
		log.WithError(err).Fatal("failed to run migrations")
	}
	repo := db.NewRepository(dbConn)

	// Change notifications: in-process for SQLite, NOTIFY/LISTEN across
	// instances for Postgres.
	hub := feed.NewHub()
	var notifier core.Notifier = hub
	if cfg.DBDriver == db.DriverPostgres {
		pg := db.NewNotifier(dbConn, cfg.DatabaseURL, cfg.NotifyChannel, log.Entry)
		if err := pg.Listen(ctx, hub.Publish); err != nil {
			log.WithError(err).Fatal("failed to listen for session events")
		}
		notifier = pg
	}

	calls := core.NewCallService(repo, notifier, log.Entry)
	if err := seedAgents(ctx, calls, cfg.AgentRosterPath, log); err != nil {
		log.WithError(err).Fatal("failed to seed agents")
	}
	messages := core.NewMessageService(repo, notifier, log.Entry)

	llmClient := llm.NewOpenAIClient(llm.Options{
		APIKey:    cfg.LLMAPIKey,
		BaseURL:   cfg.LLMBaseURL,
		Model:     cfg.LLMModel,
		MaxTokens: cfg.LLMMaxTokens,
	})
	if !llmClient.Configured() {
		log.Warn("LLM_API_KEY not set; AI endpoints will report the backend as not configured")
	}
	transcriber := speech.NewWhisperTranscriber(cfg.TranscribeBaseURL, cfg.TranscribeAPIKey, cfg.TranscribeModel)

	srv := httpserver.NewServer(httpserver.Services{
		Repo:     repo,
		Calls:    calls,
		Messages: messages,
		Guides:   core.NewGuideService(repo, notifier, log.Entry),
		Feed:     core.NewFeedComposer(repo),
		Pipeline: &core.Pipeline{
			LLM:               llmClient,
			Transcriber:       transcriber,
			Messages:          messages,
			Repo:              repo,
			LLMTimeout:        cfg.LLMTimeout,
			TranscribeTimeout: cfg.TranscribeTimeout,
			TempDir:           cfg.AudioTempDir,
			Log:               log.Entry,
		},
		Hub: hub,
	}, log, cfg.MaxUploadBytes)

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		// generous: process-audio waits on transcription and the model
		WriteTimeout: cfg.TranscribeTimeout + 2*cfg.LLMTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", httpSrv.Addr).Info("listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}

// seedAgents fills an empty agent table from the roster file, or with the
// default agent when no roster is configured.
func seedAgents(ctx context.Context, calls *core.CallService, rosterPath string, log *logger.Logger) error {
	agents := []pkg.Agent{roster.Default()}
	if rosterPath != "" {
		loaded, err := roster.Load(rosterPath)
		if err != nil {
			return err
		}
		agents = loaded
	}
	n, err := calls.SeedAgents(ctx, agents)
	if err != nil {
		return err
	}
	if n > 0 {
		log.WithField("count", n).Info("seeded agents")
	}
	return nil
}
