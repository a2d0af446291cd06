package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"fitnessbuddy/pkg/config"
	"fitnessbuddy/pkg/mq"
	"fitnessbuddy/pkg/observability"
	"fitnessbuddy/pkg/supervisor"
	"fitnessbuddy/pkg/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := observability.NewLogger(cfg.Logging, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mqClient, err := mq.New(cfg.RabbitMQ, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to rabbitmq")
	}
	defer mqClient.Close()

	if err := mqClient.SetupTopology(); err != nil {
		logger.Fatal().Err(err).Msg("failed to setup rabbitmq topology")
	}

	deliverer, err := worker.NewDeliverer(worker.DelivererConfig{
		BaseURL:         cfg.Worker.CallbackBaseURL,
		Timeout:         cfg.Worker.CallbackTimeout,
		BreakerFailures: cfg.Worker.BreakerFailures,
		BreakerTimeout:  cfg.Worker.BreakerTimeout,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build callback deliverer")
	}

	metrics := observability.StartMetricsServer(cfg.Worker.MetricsAddr, logger)
	defer metrics.Close()

	opts := worker.Options{
		MinDelay:            cfg.Worker.MinDelay,
		MaxDelay:            cfg.Worker.MaxDelay,
		DeadLetterMalformed: cfg.Worker.DeadLetterMalformed && cfg.RabbitMQ.DeadLetterEnabled,
	}

	// Each instance gets its own prefetch-one channel; the broker hands every
	// job to exactly one of them.
	sup := supervisor.New("worker", supervisor.DefaultConfig(), logger)
	host, _ := os.Hostname()
	for i := 0; i < cfg.Worker.Instances; i++ {
		name := fmt.Sprintf("%s-worker-%d", host, i)
		consumer := worker.NewConsumer(name, deliverer, mqClient, opts, logger)
		sup.Add(worker.NewService(mqClient, consumer))
	}

	logger.Info().Int("instances", cfg.Worker.Instances).Msg("all workers started, waiting for jobs")
	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped")
	}
	logger.Info().Msg("all workers stopped gracefully")
}
