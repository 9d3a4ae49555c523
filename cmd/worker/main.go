package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/substackintel/pipeline/internal/config"
	"github.com/substackintel/pipeline/internal/extract"
	"github.com/substackintel/pipeline/internal/ingestion"
	"github.com/substackintel/pipeline/internal/store"
	"github.com/substackintel/pipeline/internal/store/postgres"
	vk "github.com/substackintel/pipeline/internal/store/valkey"
)

func main() {
	_ = godotenv.Load(".env") // ignore error if .env missing

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	s := store.New(pool)

	vkClient, err := vk.NewClient(cfg.Valkey)
	if err != nil {
		logger.Error("failed to connect to valkey", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer vkClient.Close()
	logger.Info("connected to valkey")

	events := ingestion.NewEventPublisher(vkClient, logger)

	extractor := extract.NewClient(cfg.Extractor.APIKey, cfg.Extractor.Model, cfg.Extractor.BaseURL)

	stages := []ingestion.Stage{
		ingestion.NewFetchStage(s, events, int32(cfg.Pipeline.EmailBatchSize)),
		ingestion.NewExtractStage(extractor, events, logger, cfg.Pipeline.ExtractConcurrency),
		ingestion.NewPersistStage(s, events),
	}

	pipeline := ingestion.NewPipeline(s, events, stages, logger)

	consumerID, err := os.Hostname()
	if err != nil || consumerID == "" {
		consumerID = "worker-1"
	}
	consumer := ingestion.NewConsumer(vkClient, consumerID, logger)
	if err := consumer.EnsureGroup(ctx); err != nil {
		logger.Error("failed to create consumer group", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("worker started",
		slog.String("stream", ingestion.StreamName),
		slog.String("consumer", consumerID))
	if err := consumer.Consume(ctx, pipeline.Run); err != nil && ctx.Err() == nil {
		logger.Error("consumer stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
