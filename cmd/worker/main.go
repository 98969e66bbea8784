package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"pharmacy-finder/internal/ai"
	"pharmacy-finder/internal/config"
	"pharmacy-finder/internal/content"
	"pharmacy-finder/internal/dedup"
	"pharmacy-finder/internal/queue"
	"pharmacy-finder/internal/store"
	"pharmacy-finder/internal/telemetry"
	workerproc "pharmacy-finder/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	q := queue.NewRedisQueue(cfg)

	provider := ai.New(ai.Config{
		Endpoint:       cfg.ProviderEndpoint,
		Model:          cfg.ProviderModel,
		APIKey:         cfg.ProviderAPIKey,
		Timeout:        cfg.ProviderTimeout,
		MaxAttempts:    cfg.ProviderAttempts,
		BackoffInitial: cfg.BackoffInitial,
		BackoffMax:     cfg.BackoffMax,
	}, logger)

	pipeline := content.NewPipeline(content.Deps{
		Store:      st,
		Provider:   provider,
		Filter:     dedup.New(cfg.Dedup.Threshold, cfg.Dedup.StopWords),
		RatePerSec: cfg.GenerateRatePerSec,
		Location:   cfg.Location(),
		Logger:     logger,
	})

	processor := workerproc.NewProcessor(cfg, q, st, pipeline, logger)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	logger.Info("worker started",
		"visibility", cfg.VisibilityTimeout,
		"backoff_initial", cfg.BackoffInitial,
		"publish_interval", cfg.PublishInterval)
	if err := processor.Run(ctx); err != nil {
		logger.Info("worker stopped", "error", err)
	}
}
