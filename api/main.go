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
	"fitnessbuddy/pkg/notify"
	"fitnessbuddy/pkg/observability"
	"fitnessbuddy/pkg/producer"
	"fitnessbuddy/pkg/server"
	"fitnessbuddy/pkg/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := observability.NewLogger(cfg.Logging, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := database.New(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer dbClient.Close()

	if err := dbClient.InitSchema(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to initialize schema")
	}

	mqClient, err := mq.New(cfg.RabbitMQ, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to rabbitmq")
	}
	defer mqClient.Close()

	if err := mqClient.SetupTopology(); err != nil {
		logger.Fatal().Err(err).Msg("failed to setup rabbitmq topology")
	}

	var requester *producer.Requester
	switch cfg.API.ProducerMode {
	case config.ModeOutbox:
		requester = producer.NewOutbox(dbClient, cfg.API.PublicURL, logger)
	default:
		requester = producer.NewDirect(dbClient, mqClient, cfg.API.PublicURL, logger)
	}

	hub := notify.NewHub(logger)
	srv := server.New(dbClient, requester, hub, cfg.API, logger)

	metrics := observability.StartMetricsServer(cfg.API.MetricsAddr, logger)
	defer metrics.Close()

	sup := supervisor.New("api", supervisor.DefaultConfig(), logger)
	sup.Add(hub)
	sup.Add(mq.NewNotificationSubscriber(mqClient, hub.Publish))
	sup.Add(server.NewHTTPService("api server", cfg.API.Addr, srv.Routes(), logger))

	logger.Info().Str("producer_mode", cfg.API.ProducerMode).Msg("api starting")
	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("api stopped")
	}
	logger.Info().Msg("api stopped gracefully")
}
