package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"fitnessbuddy/pkg/config"
	"fitnessbuddy/pkg/database"
	"fitnessbuddy/pkg/mq"
	"fitnessbuddy/pkg/observability"
	"fitnessbuddy/pkg/producer"
	"fitnessbuddy/pkg/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := observability.NewLogger(cfg.Logging, "publisher")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := database.New(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer dbClient.Close()

	mqClient, err := mq.New(cfg.RabbitMQ, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to rabbitmq")
	}
	defer mqClient.Close()

	// Safe if already declared.
	if err := mqClient.SetupTopology(); err != nil {
		logger.Fatal().Err(err).Msg("failed to setup rabbitmq topology")
	}

	metrics := observability.StartMetricsServer(cfg.Publisher.MetricsAddr, logger)
	defer metrics.Close()

	sup := supervisor.New("publisher", supervisor.DefaultConfig(), logger)
	sup.Add(producer.NewRelay(dbClient, mqClient, cfg.Publisher.Interval, cfg.Publisher.BatchSize, logger))

	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("publisher stopped")
	}
}
