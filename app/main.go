package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lysyi3m/rss-digest/app/ai"
	"github.com/lysyi3m/rss-digest/app/api"
	"github.com/lysyi3m/rss-digest/app/cfg"
	"github.com/lysyi3m/rss-digest/app/database"
	"github.com/lysyi3m/rss-digest/app/feed"
	"github.com/lysyi3m/rss-digest/app/mail"
	"github.com/lysyi3m/rss-digest/app/metrics"
	"github.com/lysyi3m/rss-digest/app/notify"
	"github.com/lysyi3m/rss-digest/app/pipeline"
	"github.com/lysyi3m/rss-digest/app/registry"
	"github.com/lysyi3m/rss-digest/app/tasks"
)

const serviceName = "rss-digest"

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown
		return
	}

	setupLogging(appCfg.Debug)
	metrics.Init(serviceName, appCfg.Version)

	if err := run(cfg.Get()); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func run(appCfg *cfg.Cfg) error {
	slog.Info("Starting RSS Digest", "version", appCfg.Version, "timezone", appCfg.Location)

	if err := os.MkdirAll(filepath.Dir(appCfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return err
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	itemRepo := database.NewItemRepository(db)
	taskRegistry := registry.New(appCfg.TasksFile)

	taskList, err := taskRegistry.GetTasks()
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}
	slog.Info("Tasks loaded", "file", appCfg.TasksFile, "count", len(taskList))

	httpClient := &http.Client{}
	collector := feed.NewCollector(httpClient, appCfg.UserAgent, appCfg.FetchTimeout)

	aiClient, err := ai.NewClient(ai.Config{
		Provider:   appCfg.AIProvider,
		Host:       appCfg.AIHost,
		Model:      appCfg.AIModel,
		APIKey:     appCfg.AIKey,
		Timeout:    appCfg.AITimeout,
		MaxRetries: appCfg.AIRetries,
		RetryDelay: time.Second,
	}, httpClient)
	if err != nil {
		return fmt.Errorf("failed to configure AI provider: %w", err)
	}

	policy, err := ai.NewPolicy(appCfg.EvaluatorMode, aiClient, appCfg.ErrorThreshold, appCfg.CooldownPeriod)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	probeCtx, probeCancel := context.WithTimeout(ctx, appCfg.AITimeout)
	policy.Probe(probeCtx)
	probeCancel()

	summarizer := ai.NewSummarizer(aiClient, policy, appCfg.SummaryStyle)

	dispatcher := mail.NewDispatcher(mail.SMTPConfig{
		Host:     appCfg.SMTPHost,
		Port:     appCfg.SMTPPort,
		Security: appCfg.SMTPSecurity,
		Username: appCfg.SMTPUser,
		Password: appCfg.SMTPPassword,
		Sender:   appCfg.SMTPSender,
		Timeout:  30 * time.Second,
	}, appCfg.UnsubscribeAddress())

	executor := pipeline.New(taskRegistry, itemRepo, collector, policy, summarizer, dispatcher, pipeline.Options{
		SkipProcessed:   appCfg.SkipProcessed,
		FeedDelay:       appCfg.FeedDelay,
		FeedConcurrency: appCfg.FeedConcurrency,
	})

	coordinator := tasks.NewCoordinator(taskRegistry, executor, itemRepo, tasks.CoordinatorOptions{
		QueueSize:     100,
		IdleTimeout:   appCfg.IdleTimeout,
		HistorySize:   appCfg.HistorySize,
		RetentionDays: appCfg.RetentionDays,
	})

	if appCfg.NATSURL != "" {
		publisher, err := notify.NewNATSPublisher(appCfg.NATSURL, serviceName)
		if err != nil {
			slog.Warn("Run events disabled", "error", err)
		} else {
			defer publisher.Close()
			coordinator.Subscribe(publisher)
			slog.Info("Publishing run events", "url", appCfg.NATSURL, "subject", notify.SubjectPrefix+".>")
		}
	}

	coordinator.Start()
	defer coordinator.Stop()

	scheduler := tasks.NewScheduler(taskRegistry, coordinator, appCfg.SchedulerInterval, appCfg.Location)
	if err := scheduler.Rebuild(); err != nil {
		return err
	}
	coordinator.SetUpcoming(scheduler.Upcoming)
	scheduler.Start()
	defer scheduler.Stop()

	if err := taskRegistry.Watch(ctx, time.Second, func() {
		if err := scheduler.Rebuild(); err != nil {
			slog.Error("Failed to rebuild schedule", "error", err)
		}
	}); err != nil {
		slog.Warn("Tasks file watch disabled", "error", err)
	}

	scanner := mail.NewScanner(mail.IMAPConfig{
		Host:     appCfg.IMAPHost,
		Port:     appCfg.IMAPPort,
		Username: appCfg.IMAPUser,
		Password: appCfg.IMAPPassword,
		Timeout:  30 * time.Second,
	}, taskRegistry)
	go scanner.Run(ctx, appCfg.CheckInterval)

	handler := api.NewHandler(coordinator, taskRegistry, itemRepo, scheduler, appCfg.Version)
	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      api.NewServer(handler, appCfg.APIAccessKey),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case runErr = <-serverErrChan:
	}

	slog.Info("Shutting down gracefully")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Scheduler, coordinator and NATS connection are stopped via defer
	return runErr
}
