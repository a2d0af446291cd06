// Command listener subscribes to the notifications exchange and prints the
// latest stats result. Results that arrive while one is still unread replace it.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"fitnessbuddy/pkg/config"
	"fitnessbuddy/pkg/job"
	"fitnessbuddy/pkg/mq"
	"fitnessbuddy/pkg/notify"
	"fitnessbuddy/pkg/observability"
	"fitnessbuddy/pkg/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := observability.NewLogger(cfg.Logging, "listener")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mqClient, err := mq.New(cfg.RabbitMQ, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to rabbitmq")
	}
	defer mqClient.Close()

	box := notify.NewMailbox[job.Result]()
	sup := supervisor.New("listener", supervisor.DefaultConfig(), logger)
	sup.Add(mq.NewNotificationSubscriber(mqClient, box.Put))
	sup.ServeBackground(ctx)

	logger.Info().Msg("waiting for notifications")
	for {
		r, err := box.Take(ctx)
		if err != nil {
			logger.Info().Msg("listener stopped")
			return
		}
		logger.Info().
			Int64("user_id", r.UserID).
			Time("date", r.Date).
			Int("total_exercises", r.TotalExercises).
			Float64("daily_exercises", r.DailyExercises).
			Float64("daily_calories_in", r.DailyCaloriesIn).
			Float64("daily_calories_out", r.DailyCaloriesOut).
			Msg("stats computed")
	}
}
